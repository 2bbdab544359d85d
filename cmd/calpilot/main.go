package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "calpilot",
	Short: "Conversational calendar assistant",
	Long: `calpilot manages a calendar through natural language. A language model
decides which calendar tools and planning skills to run; results stream
back as they happen.

It can run as:
  - A Telegram bot (bot)
  - An HTTP API with streamed chat (serve)
  - An MCP server over stdio (mcp)
  - An interactive terminal chat (chat)`,
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "calpilot version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $CALPILOT_CONFIG)")

	rootCmd.AddCommand(newBotCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newToolsCmd())
}
