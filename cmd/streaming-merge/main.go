package main

import (
	"os"

	"github.com/spf13/cobra"
)

var Command = &cobra.Command{
	Use:          "streaming-merge",
	Short:        "merge two event time streams by window",
	Long:         `merge two NDJSON event time streams into one keyed, windowed NDJSON output`,
	SilenceUsage: true,
}

func main() {
	if err := Command.Execute(); err != nil {
		os.Exit(1)
	}
}
