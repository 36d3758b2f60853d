package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the user's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		defer cancel()
		conversations, err := s.client.FetchConversations(ctx, s.cfg.UserID)
		if err != nil {
			return fmt.Errorf("fetch conversations: %w", err)
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, conv := range conversations {
			last := "(no messages)"
			if !conv.LastMessageAt.IsZero() {
				last = conv.LastMessageAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  with %s  unread=%d  last=%s\n",
				conv.ID, conv.Counterpart(s.cfg.UserID), conv.UnreadCount, last)
			if conv.LastMessagePreview != "" {
				fmt.Printf("    %s\n", conv.LastMessagePreview)
			}
		}
		return nil
	},
}
