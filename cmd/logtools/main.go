package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "logtools",
		Short:        "Parse, collect and query Codex node logs",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newParseCommand())
	return root
}
