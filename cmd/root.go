package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/mbackup/cmd/gen"
	"github.com/luma/mbackup/internal/meta"
)

var (
	// debug enables debug logging
	debug bool
)

var RootCmd = &cobra.Command{
	Use:   "mbackup",
	Short: "Talk to the backup service of a device",
	Long: `Talk to the backup service of a device over a device link.

Usage
	mbackup probe --target <udid>
	mbackup peer

`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo())
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	RootCmd.AddCommand(ProbeCmd)
	RootCmd.AddCommand(PeerCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting with a non zero status on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
