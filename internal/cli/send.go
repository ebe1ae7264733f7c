package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/strand/internal/client"
	"github.com/raphaelgruber/strand/internal/gateway"
	"github.com/raphaelgruber/strand/internal/models"
	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a single message",
	Long: `Send one message to a conversation, wait until the gateway confirms
the write, and print the stored message id. Meant for scripts; use
'strand chat' for a live view.

Examples:
  strand send conv-4411 "Shipping to Austria is 4.90"
  strand send conv-4411 "On my way" --timeout 5s`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 15*time.Second, "how long to wait for confirmation")
}

func runSend(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}

	conversationID := args[0]
	text := strings.TrimSpace(args[1])
	if text == "" {
		return fmt.Errorf("message text is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	stream, err := api.OpenChat(ctx, conversationID, user)
	if err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	defer stream.Close()

	if err := stream.Send(text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	id, err := waitForConfirmation(ctx, stream, user, text)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Printf("Sent %s to %s\n", id, conversationID)
	} else {
		fmt.Println(id)
	}
	return nil
}

// waitForConfirmation watches snapshot frames until the optimistic
// entry for the sent text is replaced by its store-confirmed twin, and
// returns the confirmed id. Snapshots are the only acknowledgement the
// gateway sends; history can contain older messages with the same text,
// so the in-flight entry has to be sighted before a confirmed match
// counts.
func waitForConfirmation(ctx context.Context, stream *client.ChatStream, user, text string) (string, error) {
	sawInflight := false

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("timed out waiting for confirmation; check the conversation with 'strand chat'")
		case ev, ok := <-stream.Events():
			if !ok {
				return "", fmt.Errorf("connection closed before confirmation")
			}
			if ev.Type == gateway.EventError {
				return "", fmt.Errorf("send rejected: %s", ev.Error)
			}
			if ev.Type != gateway.EventSnapshot {
				continue
			}

			inflight := findInflight(ev.Messages, user, text)
			if inflight != nil {
				if inflight.Status == models.StatusFailed {
					return "", fmt.Errorf("message failed to upload; retry from 'strand chat'")
				}
				sawInflight = true
				continue
			}
			if !sawInflight {
				continue
			}

			// The optimistic entry is gone: the newest confirmed
			// message with this sender and text is its replacement.
			for i := len(ev.Messages) - 1; i >= 0; i-- {
				msg := ev.Messages[i]
				if !msg.Temporary() && msg.SenderID == user && msg.Text == text {
					return msg.ID, nil
				}
			}
		}
	}
}

// findInflight returns the optimistic entry for the given sender and
// text, if the snapshot still carries one. Temporary ids never come
// from the store, so a hit always belongs to this session's send.
func findInflight(messages []models.Message, user, text string) *models.Message {
	for i := range messages {
		msg := messages[i]
		if msg.Temporary() && msg.SenderID == user && msg.Text == text {
			return &messages[i]
		}
	}
	return nil
}
