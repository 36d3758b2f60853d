package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the event stream until interrupted",
	Long:  "Connects to the backend, loads the inbox, and keeps the local caches in sync with pushed change events until the process is signalled.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := buildStack()
		if err != nil {
			return err
		}
		s.adapter.OnStatus(func(topic realtime.Topic, status realtime.ChannelStatus) {
			s.logger.Info("channel status", "topic", topic.String(), "status", status)
		})

		if err := s.start(ctx); err != nil {
			return err
		}
		defer s.stop()

		for _, conv := range s.orchestrator.Conversations() {
			s.logger.Info("conversation",
				"id", conv.ID,
				"counterpart", conv.Counterpart(s.cfg.UserID),
				"unread", conv.UnreadCount,
				"preview", conv.LastMessagePreview,
			)
		}
		s.logger.Info("sync agent running", "user_id", s.cfg.UserID, "transport", s.cfg.Transport)

		<-ctx.Done()
		s.logger.Info("sync agent stopping")
		return nil
	},
}
