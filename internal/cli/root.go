// Package cli implements the chatrelay command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "chatrelay — streaming chat relay for LLM providers",
	Long: `chatrelay — streaming chat relay for LLM providers

Serves a streaming chat API over OpenAI, Anthropic, Google, and local
OpenAI-compatible backends, with tool calling and a durable conversation
store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatrelay %s\n", version)
		fmt.Printf("  build:  %s\n", buildDate)
		fmt.Printf("  commit: %s\n", gitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
