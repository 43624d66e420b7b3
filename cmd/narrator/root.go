package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Convert ebook libraries into chaptered M4B audiobooks",
	Long: `Narrator converts a Calibre library (or a plain folder of EPUBs) into
chaptered M4B audiobooks using a Kokoro-compatible TTS service.

The pipeline includes:
  - EPUB/KEPUB chapter extraction with front-matter filtering
  - Remote TTS synthesis with warm-up, retry, and crossfade assembly
  - M4B building with exact chapter markers and embedded cover art
  - A persistent job queue with pause, retry, reorder, and quiet hours`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.narrator/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
