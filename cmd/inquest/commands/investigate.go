package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var investigateCmd = &cobra.Command{
	Use:   "investigate [request]",
	Short: "Run an investigation for a natural-language request",
	Long: `Run a tool-calling investigation loop for the given request.

The model picks from the enabled tools, the engine executes them, and
the loop continues until the model reports its finding or the step
budget runs out. A budget-exhausted run ends with an explicit
"investigation incomplete" marker rather than a silent truncation.

Examples:
  # Investigate a symptom
  inquest investigate "why is checkout latency up since 2 hours ago?"

  # With custom catalogs and remote servers from a config file
  inquest --config inquest.yaml investigate "which pods are crashlooping?"

  # Use a fast model for output summarization
  inquest investigate --fast-model claude-3-5-haiku-20241022 "scan the error logs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInvestigate,
}

var (
	investigateAnthropicKey string
	investigateModel        string
	investigateFastModel    string
	investigateAuditLog     string
)

func init() {
	rootCmd.AddCommand(investigateCmd)

	investigateCmd.Flags().StringVar(&investigateAnthropicKey, "anthropic-key", "",
		"Anthropic API key (defaults to ANTHROPIC_API_KEY env var)")
	investigateCmd.Flags().StringVar(&investigateModel, "model", "",
		"Model for the investigation loop (defaults to model.name from the config)")
	investigateCmd.Flags().StringVar(&investigateFastModel, "fast-model", "",
		"Secondary fast model for output summarization (empty disables llm_summarize)")
	investigateCmd.Flags().StringVar(&investigateAuditLog, "audit-log", "",
		"Audit log path (JSONL). Defaults to ~/.inquest/sessions/<session-id>.jsonl")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.stop()

	session, closeAudit, err := eng.newSession(
		investigateAnthropicKey, investigateModel, investigateFastModel, investigateAuditLog)
	if err != nil {
		return err
	}
	defer closeAudit()

	outcome, err := session.Investigate(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Println(outcome.Summary)
	if !outcome.Complete {
		eng.stop()
		closeAudit()
		os.Exit(2)
	}
	return nil
}
