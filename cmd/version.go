package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Parley %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		if os.Getenv("GEMINI_API_KEY") == "" {
			fmt.Println()
			fmt.Println("Hint: set GEMINI_API_KEY to enable generation")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
