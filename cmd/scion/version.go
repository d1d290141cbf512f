package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the scion server's release version, set at build time via
// -ldflags "-X main.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of scion",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scion version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
