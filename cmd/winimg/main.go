// Command winimg builds a customized, bootable Windows installation medium
// (ISO, fixed VHD, or raw disk image) from a user-supplied configuration.
// Follows a multi-file cobra command layout: one createXCommand() per
// subcommand, wired together here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rinb-project/winimg/internal/logger"
)

var verbose bool

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "winimg",
		Short: "Build customized, bootable Windows installation media",
		Long: `winimg fetches the Microsoft ESD archive matching a configuration,
rewrites its WIM images into the on-disk layout Windows Setup expects, and
packs the result into a single-file ISO, fixed VHD, or raw disk image.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.SetDebug(verbose)
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(createBuildCommand())
	root.AddCommand(createValidateCommand())
	root.AddCommand(createInspectCommand())

	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
