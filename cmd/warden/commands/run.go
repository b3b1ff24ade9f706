package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MEKXH/warden/internal/config"
	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Work toward a goal, gating every proposed action",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTask,
	}
	addTaskFlags(cmd)
	cmd.Flags().Int("max-turns", 0, "Override supervisor.max_turns")
	return cmd
}

// addTaskFlags registers the overrides shared by run and plan.
func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("yes", "y", false, "Approve every prompt (blocks and denials still apply)")
	cmd.Flags().Bool("plain", false, "Use line prompts and plain output")
	cmd.Flags().String("mode", "", "Override safety.mode (paranoid|normal|relaxed|expert)")
	cmd.Flags().String("level", "", "Override consent.level (safe|normal|trusted|yolo)")
}

func taskOptions(cmd *cobra.Command) (appOptions, bool) {
	yes, _ := cmd.Flags().GetBool("yes")
	plain, _ := cmd.Flags().GetBool("plain")
	mode, _ := cmd.Flags().GetString("mode")
	level, _ := cmd.Flags().GetString("level")
	opts := appOptions{Mode: mode, Level: level, Prompter: newPrompter(yes, plain)}
	if cmd.Flags().Lookup("max-turns") != nil {
		opts.MaxTurns, _ = cmd.Flags().GetInt("max-turns")
	}
	return opts, plain
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts, plain := taskOptions(cmd)
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchRules(ctx)

	outcome, runErr := a.supervisor.Run(ctx, strings.Join(args, " "))
	if outcome.TaskID != "" {
		renderOutcome(os.Stdout, outcome, newMarkdownRenderer(plain))
	}
	return runErr
}
