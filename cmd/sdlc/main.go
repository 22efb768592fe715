package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sdlc",
		Short: "Issue-driven AI development workflows",
		Long: `sdlc watches a repository's issues for trigger phrases and runs the
full development pipeline in response: create a branch, generate a plan,
implement it, and open a pull request, reporting progress back on the
issue thread.`,
	}

	rootCmd.AddCommand(
		newWatchCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show sdlc version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sdlc v%s\n", version)
		},
	}
}
