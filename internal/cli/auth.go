package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize cloudflared for your Cloudflare account",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := loadClient()
			if err != nil {
				return err
			}
			if err := client.EnsureBinary(); err != nil {
				return err
			}
			if err := client.Login(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Printf("logged in; origin certificate at %s\n", client.CertPath())
			return nil
		},
	}
}

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Check whether cloudflared is logged in",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := loadClient()
			if err != nil {
				return err
			}
			if err := client.CheckAuth(); err != nil {
				return err
			}
			fmt.Printf("authenticated (%s)\n", client.CertPath())
			return nil
		},
	}
}
