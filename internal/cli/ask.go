package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copbot/copbot-go/internal/chat"
	"github.com/copbot/copbot-go/internal/models"
)

var (
	askSession string
	askNew     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message and print the reply",
	Long: `Send a single message and print the assistant's reply.

By default the message continues the most recently updated session. Use
--new to start a fresh session, or --session to target a specific one.

Examples:
  copbot ask "How do I file an FIR for a stolen vehicle?"
  copbot ask --new "What documents do I need for a police clearance certificate?"
  copbot ask --session chat123 "And how long does that take?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session ID to continue")
	askCmd.Flags().BoolVar(&askNew, "new", false, "start a new session")
}

// printSink writes assistant output to stdout and warnings to stderr.
type printSink struct{}

func (printSink) ShowMessage(msg models.Message) {
	if msg.Sender == models.SenderAssistant {
		fmt.Println(msg.Content)
	}
}

func (printSink) Notify(text string) {
	fmt.Fprintln(os.Stderr, text)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	message := strings.Join(args, " ")

	owner, err := userID()
	if err != nil {
		return err
	}
	m, err := getModel()
	if err != nil {
		return err
	}

	syncer := chat.NewSynchronizer(dbClient, owner, logger)
	if err := syncer.Refresh(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	switch {
	case askNew:
		if _, err := syncer.CreateSession(ctx); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	case askSession != "":
		if !syncer.SetActive(askSession) {
			return fmt.Errorf("session %q not found", askSession)
		}
	}

	contexts := chat.NewContextManager(cfg.SystemPrompt, cfg.ContextMaxTurns)
	pipeline := chat.NewPipeline(dbClient, m, printSink{}, contexts, syncer,
		chat.PipelineConfig{Owner: owner, CompletionTimeout: cfg.CompletionTimeout}, logger)

	_, err = pipeline.Send(ctx, message, false)
	pipeline.Wait()
	if err != nil {
		// The failure text was already printed through the sink.
		return err
	}

	if verbose {
		printUsage()
	}
	return nil
}

// printUsage prints completion timing and token usage for this run.
func printUsage() {
	snap := collector.Snapshot()
	if snap.Completion == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\ncompletion: %d ms", snap.Completion.TotalTimeMs)
	if snap.Completion.TotalInputTokens != nil && snap.Completion.TotalOutputTokens != nil {
		fmt.Fprintf(os.Stderr, ", %d in / %d out tokens",
			*snap.Completion.TotalInputTokens, *snap.Completion.TotalOutputTokens)
	}
	fmt.Fprintln(os.Stderr)
}
