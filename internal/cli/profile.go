package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/spf13/cobra"
)

var (
	profileName  string
	profileEmoji string
)

var profileCmd = &cobra.Command{
	Use:   "profile [user-id]",
	Short: "Show or edit a user profile",
	Long: `Show the profile of a user, defaulting to the acting user.

Subcommands:
  set    Update the acting user's display name or avatar

Examples:
  strand profile
  strand profile koji
  strand profile set --name "Maria S." --emoji "🌻"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfile,
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the acting user's profile",
	RunE:  runProfileSet,
}

func init() {
	profileSetCmd.Flags().StringVarP(&profileName, "name", "n", "", "display name")
	profileSetCmd.Flags().StringVarP(&profileEmoji, "emoji", "e", "", "avatar emoji")

	profileCmd.AddCommand(profileSetCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	userID := ""
	if len(args) == 1 {
		userID = args[0]
	} else {
		user, err := requireUser()
		if err != nil {
			return err
		}
		userID = user
	}

	p, err := api.Profile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile for %s: %w", userID, err)
	}

	fmt.Printf("User:   %s\n", p.UserID)
	fmt.Printf("Name:   %s\n", p.Label())
	if p.AvatarEmoji != "" {
		fmt.Printf("Avatar: %s\n", p.AvatarEmoji)
	}
	switch {
	case p.Online:
		fmt.Println("Status: online")
	case !p.LastSeenAt.IsZero():
		fmt.Printf("Status: last seen %s\n", p.LastSeenAt.Format(time.RFC3339))
	default:
		fmt.Println("Status: offline")
	}
	return nil
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	user, err := requireUser()
	if err != nil {
		return err
	}
	if profileName == "" && profileEmoji == "" {
		return fmt.Errorf("nothing to change: pass --name or --emoji")
	}

	// Start from the stored profile so an emoji-only update keeps the name.
	p, err := api.Profile(ctx, user)
	if err != nil {
		p = models.Profile{UserID: user}
	}
	if profileName != "" {
		p.DisplayName = profileName
	}
	if profileEmoji != "" {
		p.AvatarEmoji = profileEmoji
	}

	saved, err := api.SetProfile(ctx, p)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	fmt.Printf("Saved profile for %s (%s)\n", saved.UserID, saved.Label())
	return nil
}
