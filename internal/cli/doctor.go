package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treykane/portkeeper/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOut bool
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check cloudflared, projects, tunnels and file permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			if jsonOut {
				if report.Issues == nil {
					report.Issues = []doctor.Issue{}
				}
				if err := printJSON(report); err != nil {
					return err
				}
			} else if len(report.Issues) == 0 {
				fmt.Println("no issues found")
			} else {
				for _, i := range report.Issues {
					fmt.Printf("[%s] %s %s: %s\n", i.Severity, i.Check, i.Target, i.Message)
					if i.Recommendation != "" {
						fmt.Printf("    fix: %s\n", i.Recommendation)
					}
				}
			}
			if strict && report.HasHigh() {
				return errors.New("doctor found high severity issues")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a high severity issue is found")
	return cmd
}
