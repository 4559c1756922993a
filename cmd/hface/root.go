// Command hface is the CLI front-end over the engine in this module:
// client, server, and proxy subcommands (spec.md §6). The CLI itself is an
// external collaborator per spec.md §1 ("Out of scope"); this package is
// the thin cobra wiring spec.md §6 describes, not a core component.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "hface",
		Short:         "version-agnostic HTTP/1, HTTP/2 and HTTP/3 engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newClientCommand())
	root.AddCommand(newServerCommand())
	root.AddCommand(newProxyCommand())
	return root
}
