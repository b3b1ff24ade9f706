package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/metrics"
	"github.com/MEKXH/warden/internal/provider"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Warden configuration and pipeline status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, workspacePath, err := loadWorkspace()
	if err != nil {
		return err
	}

	w := os.Stdout
	fmt.Fprintln(w, headerStyle.Render("Warden Status"))

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "  Status: %s\n", pathStatus(config.ConfigPath(), "Not found (run 'warden init')"))
	fmt.Fprintf(w, "\nWorkspace: %s\n", workspacePath)
	fmt.Fprintf(w, "  Status: %s\n", pathStatus(workspacePath, "Not found"))
	workspaceMode := strings.TrimSpace(cfg.Agent.WorkspaceMode)
	if workspaceMode == "" {
		workspaceMode = "default"
	}
	fmt.Fprintf(w, "  Mode: %s\n", workspaceMode)

	fmt.Fprintf(w, "\nModel: %s\n", cfg.Agent.Model)
	if name, err := provider.Name(cfg); err == nil {
		fmt.Fprintf(w, "  Provider: %s\n", name)
	} else {
		fmt.Fprintf(w, "  Provider: %s\n", status("not configured", false))
	}

	fmt.Fprintln(w, "\nSafety:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Safety.Mode)
	advisor := cfg.Safety.Advisor
	if advisor == "model" && cfg.Safety.AdvisorModel != "" {
		advisor += " (" + cfg.Safety.AdvisorModel + ")"
	}
	fmt.Fprintf(w, "  Advisor: %s, max %d escalations\n", advisor, cfg.Safety.MaxEscalations)
	patterns := "embedded"
	if cfg.Safety.PatternsFile != "" {
		patterns = cfg.Safety.PatternsFile
	}
	fmt.Fprintf(w, "  Patterns: %s\n", patterns)

	fmt.Fprintln(w, "\nConsent:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Consent.Level)
	fmt.Fprintf(w, "  Session memory: %s\n", cfg.MemoryWindow())
	fmt.Fprintf(w, "  Rules file: %s\n", cfg.RulesPath())
	if engine, _, err := newConsentEngine(cfg, ""); err == nil {
		fmt.Fprintf(w, "  Rules: %d\n", len(engine.Rules()))
	} else {
		fmt.Fprintf(w, "  Rules: %s\n", status(err.Error(), false))
	}

	fmt.Fprintln(w, "\nTool policy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Policy.Mode)
	if len(cfg.Policy.Allow) > 0 {
		fmt.Fprintf(w, "  Allow: %s\n", strings.Join(cfg.Policy.Allow, ", "))
	}
	if len(cfg.Policy.Deny) > 0 {
		fmt.Fprintf(w, "  Deny: %s\n", strings.Join(cfg.Policy.Deny, ", "))
	}
	if len(cfg.Policy.RequireApproval) > 0 {
		fmt.Fprintf(w, "  Require approval: %s\n", strings.Join(cfg.Policy.RequireApproval, ", "))
	}

	fmt.Fprintln(w, "\nTools:")
	fmt.Fprintf(w, "  shell:exec: ready (timeout=%ds, restrict_to_workspace=%v)\n", cfg.Tools.Exec.Timeout, cfg.Tools.Exec.RestrictToWorkspace)
	fmt.Fprintln(w, "  fs: read_file, write_file, edit_file, delete_file, list_dir, grep")
	fmt.Fprintf(w, "  agent: delegate, delegate_all (max %d concurrent)\n", cfg.Subtask.MaxConcurrency)

	resultLog := "disabled"
	if path := cfg.ResultLogPath(); path != "" {
		resultLog = path
	}
	fmt.Fprintf(w, "\nResult log: %s\n", resultLog)

	snapshot, err := metrics.ReadSnapshot(workspacePath)
	if err != nil {
		fmt.Fprintf(w, "\nMetrics: %s\n", status(err.Error(), false))
		return nil
	}
	printMetrics(w, snapshot)
	return nil
}

func pathStatus(path, missing string) string {
	if _, err := os.Stat(path); err != nil {
		return missing
	}
	return "OK"
}

func printMetrics(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintln(w, "\nMetrics:")
	if !s.HasData() {
		fmt.Fprintln(w, "  No tasks recorded yet.")
		return
	}
	fmt.Fprintf(w, "  Tasks: %d completed, %d failed\n", s.Tasks.Completed, s.Tasks.Failed)
	fmt.Fprintf(w, "  Actions: %d\n", s.Actions)
	fmt.Fprintf(w, "  Verdicts: %d safe, %d suspicious, %d confirm, %d blocked, %d escalated\n",
		s.Safety.Safe, s.Safety.Suspicious, s.Safety.NeedsConfirmation, s.Safety.Blocked, s.Safety.Escalations)
	fmt.Fprintf(w, "  Consent: %d approved, %d denied, %d prompted (%d yes, %d no)\n",
		s.Consent.Approved, s.Consent.Denied, s.Consent.Prompted, s.Consent.UserApproved, s.Consent.UserDenied)
	fmt.Fprintf(w, "  Executions: %d (errors %.1f%%, timeouts %d, retries %d)\n",
		s.Execution.Total, s.Execution.ErrorRatio()*100, s.Execution.Timeouts, s.Execution.Retries)
	fmt.Fprintf(w, "  Latency: avg %.0fms, p95~%dms, max %dms\n",
		s.Execution.AvgLatencyMs(), s.Execution.P95ProxyLatencyMs, s.Execution.MaxLatencyMs)
	fmt.Fprintf(w, "  Verification: %d passed, %d failed, %d critical\n",
		s.Verification.Passed, s.Verification.Failed, s.Verification.Critical)
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  Updated: %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
