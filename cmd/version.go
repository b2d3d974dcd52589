package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X github.com/strand-protocol/wireprobe/cmd.wireprobeVersion=x.y.z"
var wireprobeVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the wireprobe version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "wireprobe version %s\n", wireprobeVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(cmd.OutOrStdout(), "target: %s\n", target())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
