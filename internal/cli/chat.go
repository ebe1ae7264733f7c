package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const openChatTimeout = 15 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Open a conversation in the interactive chat UI",
	Long: `Open a conversation in the interactive terminal chat UI.

Keys:
  enter       send the typed message
  pgup/pgdn   scroll; paging past the top loads older messages
  ctrl+r      retry the newest failed message
  esc         leave the chat

Examples:
  strand chat conv-4411
  strand chat conv-4411 --user maria`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal; use 'strand send' in scripts")
	}

	// The context only covers the handshake; the stream itself lives
	// until the UI closes it.
	ctx, cancel := context.WithTimeout(context.Background(), openChatTimeout)
	defer cancel()

	stream, err := api.OpenChat(ctx, args[0], user)
	if err != nil {
		return fmt.Errorf("open chat: %w", err)
	}

	return runChatUI(stream, participantNames(ctx, stream.Conversation().ParticipantIDs))
}

// participantNames resolves display names for the chat transcript.
// Lookups are best effort; a user without a profile keeps their id.
func participantNames(ctx context.Context, userIDs []string) map[string]string {
	names := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		p, err := api.Profile(ctx, id)
		if err != nil {
			continue
		}
		names[id] = p.Label()
	}
	return names
}
