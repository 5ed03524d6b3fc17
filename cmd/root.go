// Package cmd defines the CLI surface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - conversational session controller",
	Long: `Parley is a real-time conversational assistant server.

It serves a websocket chat endpoint with per-turn intent routing,
session tools and persistent conversation logs, plus a JSON API for
reading session summaries. Run 'parley serve' to start the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
