package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
)

const plannerPrompt = `You plan shell work for the user's goal. Reply with one JSON object and nothing else:
{"actions": [{"command": "...", "explanation": "...", "reverse_command": "..."}]}
Use one command per action, in execution order. Leave reverse_command empty when nothing undoes the step.`

func NewPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Review a multi-step plan once, then execute it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlan,
	}
	addTaskFlags(cmd)
	cmd.Flags().String("from", "", "Read the plan from a file ('-' for stdin) instead of asking the model")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	from, _ := cmd.Flags().GetString("from")
	opts, plain := taskOptions(cmd)
	opts.Offline = from != ""
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	goal := strings.Join(args, " ")
	var text string
	if from != "" {
		text, err = readSource(from, cmd.InOrStdin())
	} else {
		text, err = draftPlan(ctx, a.model, goal)
	}
	if err != nil {
		return err
	}

	plan, ok := supervisor.PlanFromText(a.supervisor.Extractor(), goal, text)
	if !ok {
		fmt.Println("No executable actions found in the plan.")
		return nil
	}
	outcome, runErr := a.supervisor.ExecutePlan(ctx, plan)
	if outcome.TaskID != "" {
		renderOutcome(os.Stdout, outcome, newMarkdownRenderer(plain))
	}
	return runErr
}

// draftPlan asks the model for a plan in the JSON shape the extractor reads.
func draftPlan(ctx context.Context, m model.BaseChatModel, goal string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("no model configured; use --from to supply a plan")
	}
	resp, err := m.Generate(ctx, []*schema.Message{
		schema.SystemMessage(plannerPrompt),
		schema.UserMessage(goal),
	})
	if err != nil {
		return "", fmt.Errorf("draft plan: %w", err)
	}
	return resp.Content, nil
}

// readSource reads a file, or stdin for "-".
func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
