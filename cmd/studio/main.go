package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-studio/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Heimdex Studio - describe video frames with vision models",
	Long: `Heimdex Studio samples frames from videos, sends them to a vision model
and returns a description per frame. It can also project token usage and cost
before anything is sent.

Without a subcommand the HTTP service is started.

Examples:
  studio serve
  studio estimate --model gpt-4o clip.mp4 other.mov
  studio analyze --partition-type time --interval 5 clip.mp4
  studio models`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, analyzeCmd, estimateCmd, modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}
