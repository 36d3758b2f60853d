package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skillup-syncd",
	Short: "SkillUp chat synchronization agent",
	Long:  "Keeps a local view of conversations and messages in sync with the chat backend.\nFollows realtime change events over websocket or Kafka.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
