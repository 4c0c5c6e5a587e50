package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lexchat/internal/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "lexchat",
		Short: "Legal assistant chat backend",
		Long: `lexchat serves the chat API: accounts and sessions, chats with an AI
legal assistant, streamed replies and document uploads.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		fmt.Sprintf("config file (.json or .yaml); defaults to $%s or config.json", config.EnvConfigPath))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
