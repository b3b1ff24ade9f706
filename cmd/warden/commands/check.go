package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/spf13/cobra"
)

func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Show how a shell command would be gated, without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck,
	}
	cmd.Flags().String("context", "", "Surrounding text the command was proposed in")
	cmd.Flags().String("mode", "", "Override safety.mode (paranoid|normal|relaxed|expert)")
	cmd.Flags().String("level", "", "Override consent.level (safe|normal|trusted|yolo)")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	mode, _ := cmd.Flags().GetString("mode")
	level, _ := cmd.Flags().GetString("level")
	contextText, _ := cmd.Flags().GetString("context")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{Mode: mode, Level: level, Offline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	assessment := a.supervisor.Check(ctx, action.NewShell(strings.Join(args, " "), ""), contextText)
	printAssessment(os.Stdout, assessment)
	return nil
}

func printAssessment(w io.Writer, a supervisor.Assessment) {
	fmt.Fprintln(w, headerStyle.Render("Gate check"))
	fmt.Fprintf(w, "  action:  %s\n", a.Action.Describe())
	fmt.Fprintf(w, "  tool:    %s\n", a.ToolID)

	if a.Policy != nil {
		line := string(a.Policy.Action)
		if a.Policy.Reason != "" {
			line += " (" + a.Policy.Reason + ")"
		}
		fmt.Fprintf(w, "  policy:  %s\n", line)
	}

	v := a.Verdict
	fmt.Fprintf(w, "  safety:  %s score=%d risk=%s\n", v.Kind, v.Score, v.Risk)
	if v.Reason != "" {
		fmt.Fprintf(w, "           %s\n", v.Reason)
	}
	for _, s := range v.Signals {
		fmt.Fprintf(w, "           %s\n", dimStyle.Render(fmt.Sprintf("+%d %s: %s", s.Weight, s.Rule, s.Reason)))
	}
	if v.Alternative != "" {
		fmt.Fprintf(w, "  try:     %s\n", v.Alternative)
	}

	if a.Decision.Outcome != "" {
		fmt.Fprintf(w, "  consent: %s (%s %s)\n", a.Decision, a.Request.Risk, a.Request.Category)
	}

	fmt.Fprintf(w, "\n  %s\n", gateSummary(a))
}

func gateSummary(a supervisor.Assessment) string {
	switch {
	case a.Verdict.IsBlocked():
		return status("blocked by the safety filter", false)
	case a.Policy != nil && a.Policy.Action == policy.ActionDeny:
		return status("denied by tool policy", false)
	case a.Decision.Outcome == consent.Denied:
		return status("denied by consent", false)
	case a.Runnable():
		return status("would run without a prompt", true)
	default:
		return warn("would ask for confirmation")
	}
}
