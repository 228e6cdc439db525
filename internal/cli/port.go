package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/treykane/portkeeper/internal/procinspect"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/util"
)

func newPortCmd() *cobra.Command {
	root := &cobra.Command{Use: "port", Short: "Inspect the local ports projects expose"}

	check := &cobra.Command{
		Use:   "check <port|project>",
		Short: "Show whether a local port is listening and which processes hold it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := resolvePort(args[0])
			if err != nil {
				return err
			}
			if !procinspect.Listening(port) {
				fmt.Printf("port %d: not listening\n", port)
				return nil
			}
			pids, err := procinspect.New(nil).PIDsForPort(commandContext(cmd), port)
			if err != nil {
				fmt.Printf("port %d: listening (owner unknown: %v)\n", port, err)
				return nil
			}
			fmt.Printf("port %d: listening pids=%v\n", port, pids)
			return nil
		},
	}

	kill := &cobra.Command{
		Use:   "kill <port|project>",
		Short: "Kill the processes listening on a local port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := resolvePort(args[0])
			if err != nil {
				return err
			}
			pids, err := procinspect.New(nil).PIDsForPort(commandContext(cmd), port)
			if err != nil {
				return err
			}
			if len(pids) == 0 {
				fmt.Printf("port %d: nothing to kill\n", port)
				return nil
			}
			for _, pid := range pids {
				if err := procinspect.Kill(pid); err != nil {
					return err
				}
				fmt.Printf("killed pid %d on port %d\n", pid, port)
			}
			return nil
		},
	}

	root.AddCommand(check, kill)
	return root
}

// resolvePort accepts a port number or a project reference.
func resolvePort(arg string) (int, error) {
	if _, err := strconv.Atoi(arg); err == nil {
		return util.ParsePort(arg)
	}
	p, err := project.Get(arg)
	if err != nil {
		return 0, err
	}
	return p.LocalPort, nil
}
