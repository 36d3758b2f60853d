package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content...>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}

		conversationID := args[0]
		content := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		defer cancel()
		msg, err := s.client.SendMessage(ctx, conversationID, content)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Format(time.RFC3339))
		return nil
	},
}
