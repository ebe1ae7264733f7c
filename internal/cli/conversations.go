package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/spf13/cobra"
)

var (
	convWith      []string
	convTitle     string
	convAutoReply bool
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List or create conversations",
	Long: `List the conversations the acting user takes part in.

Subcommands:
  list      List conversations (default)
  create    Start a new conversation

Examples:
  strand conversations
  strand conversations --user maria
  strand conversations create --with koji --title "Order #4411"
  strand conversations create --with koji --auto-reply`,
	RunE: runListConversations,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runListConversations,
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new conversation",
	RunE:  runCreateConversation,
}

func init() {
	conversationsCreateCmd.Flags().StringSliceVarP(&convWith, "with", "w", nil, "participant user ids (required)")
	conversationsCreateCmd.Flags().StringVarP(&convTitle, "title", "t", "", "conversation title")
	conversationsCreateCmd.Flags().BoolVar(&convAutoReply, "auto-reply", false, "answer recognized questions automatically")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
}

func runListConversations(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	user, err := requireUser()
	if err != nil {
		return err
	}

	convs, err := api.ListConversations(ctx, user)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("Conversations (%d):\n\n", len(convs))
	for _, conv := range convs {
		title := conv.Title
		if title == "" {
			title = strings.Join(conv.ParticipantIDs, ", ")
		}
		autoMark := ""
		if conv.AutoReply {
			autoMark = " [auto-reply]"
		}
		fmt.Printf("- %s  %s%s\n", conv.ID, title, autoMark)
		if verbose {
			fmt.Printf("  Participants: %s\n", strings.Join(conv.ParticipantIDs, ", "))
			if !conv.LastActivityAt.IsZero() {
				fmt.Printf("  Last activity: %s\n", conv.LastActivityAt.Format(time.RFC3339))
			}
		}
	}

	return nil
}

func runCreateConversation(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	user, err := requireUser()
	if err != nil {
		return err
	}
	if len(convWith) == 0 {
		return fmt.Errorf("at least one --with participant is required")
	}

	participants := []string{user}
	for _, id := range convWith {
		if id != user {
			participants = append(participants, id)
		}
	}
	if len(participants) < 2 {
		return fmt.Errorf("a conversation needs someone besides yourself")
	}

	created, err := api.CreateConversation(ctx, models.Conversation{
		Title:          convTitle,
		CreatorID:      user,
		ParticipantIDs: participants,
		AutoReply:      convAutoReply,
	})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	fmt.Printf("Created conversation %s\n", created.ID)
	fmt.Printf("  Participants: %s\n", strings.Join(created.ParticipantIDs, ", "))
	if created.AutoReply {
		fmt.Println("  Auto-reply: on")
	}
	return nil
}
