// Package cmd holds the chromascope command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chromascope",
	Short: "Chromascope turns whatever is playing into visualization data.",
	Long: `Chromascope follows a playback provider, acquires the audio for each
track it reports, extracts mel, chroma, pitch and rhythm timelines, and
serves playback-locked frames over HTTP and WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
