package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copbot/copbot-go/internal/chat"
	"github.com/copbot/copbot-go/internal/models"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new chat session",
	RunE:  runSessionsNew,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and all its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	owner, err := userID()
	if err != nil {
		return err
	}

	sessions, err := dbClient.ListSessions(ctx, owner)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Start one with 'copbot ask' or 'copbot chat'.")
		return nil
	}

	for _, session := range sessions {
		fmt.Printf("%-20s  %-40s  %3d messages  %s\n",
			models.MustRecordIDString(session.ID),
			session.Title,
			len(session.Messages),
			session.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	owner, err := userID()
	if err != nil {
		return err
	}

	session, err := dbClient.CreateSession(ctx, owner, "")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fmt.Printf("Created session %s\n", models.MustRecordIDString(session.ID))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	owner, err := userID()
	if err != nil {
		return err
	}

	// The synchronizer enforces last-session protection.
	syncer := chat.NewSynchronizer(dbClient, owner, logger)
	if err := syncer.Refresh(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	if err := syncer.DeleteSession(ctx, args[0]); err != nil {
		return err
	}

	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	session, err := dbClient.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session %q not found", args[0])
	}

	fmt.Printf("%s (%d messages)\n\n", session.Title, len(session.Messages))
	for _, msg := range session.Messages {
		speaker := "You"
		if msg.Sender == models.SenderAssistant {
			speaker = "CopBot"
		}
		voice := ""
		if msg.IsVoice {
			voice = " (voice)"
		}
		fmt.Printf("[%s] %s%s:\n%s\n\n",
			msg.Timestamp.Local().Format("15:04"), speaker, voice, msg.Content)
	}
	return nil
}
