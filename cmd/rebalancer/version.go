package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "Cluster Rebalancer")
	fmt.Fprintln(w, "Version:", version)
	fmt.Fprintln(w, "Commit:", commit)
	fmt.Fprintln(w, "Build Date:", buildDate)
}
