package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/SampleEnvironment/frappy-go/wire"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print version information for frappy-go.`,
	Args:  cobra.NoArgs,
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("frappy-go version %s\n", Version)
	fmt.Printf("protocol: %s\n", wire.Identity)
	fmt.Printf("go: %s\n", runtime.Version())
	if BuildTime != "unknown" {
		fmt.Printf("build: %s\n", BuildTime)
	}
}
