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

var checkCmd = &cobra.Command{
	Use:   "check [assertion]",
	Short: "Run a pass/fail check and exit accordingly",
	Long: `Run an investigation whose final answer is a strict pass/fail verdict.

The model investigates the assertion with the enabled tools and must
finish with a JSON verdict. The exit code reflects the verdict, which
makes check usable from CI pipelines and cron jobs:

  0  the assertion holds (passed)
  1  the assertion does not hold (failed)
  >1 the check could not be completed

Examples:
  inquest check "all production elasticsearch indices are green"
  inquest --config inquest.yaml check "no pods restarted in the last hour"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

var (
	checkAnthropicKey string
	checkModel        string
	checkFastModel    string
	checkAuditLog     string
	checkQuiet        bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkAnthropicKey, "anthropic-key", "",
		"Anthropic API key (defaults to ANTHROPIC_API_KEY env var)")
	checkCmd.Flags().StringVar(&checkModel, "model", "",
		"Model for the check loop (defaults to model.name from the config)")
	checkCmd.Flags().StringVar(&checkFastModel, "fast-model", "",
		"Secondary fast model for output summarization (empty disables llm_summarize)")
	checkCmd.Flags().StringVar(&checkAuditLog, "audit-log", "",
		"Audit log path (JSONL). Defaults to ~/.inquest/sessions/<session-id>.jsonl")
	checkCmd.Flags().BoolVarP(&checkQuiet, "quiet", "q", false,
		"Only set the exit code, do not print the rationale")
}

func runCheck(cmd *cobra.Command, args []string) error {
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
		checkAnthropicKey, checkModel, checkFastModel, checkAuditLog)
	if err != nil {
		return err
	}
	defer closeAudit()

	result, err := session.Check(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if !checkQuiet {
		verdict := "FAIL"
		if result.Passed {
			verdict = "PASS"
		}
		fmt.Printf("%s: %s\n", verdict, result.Rationale)
	}
	if !result.Passed {
		eng.stop()
		closeAudit()
		os.Exit(1)
	}
	return nil
}
