package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/spf13/cobra"
)

func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage standing consent rules",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List consent rules",
			RunE:  runRulesList,
		},
		&cobra.Command{
			Use:   "presets",
			Short: "List the named rule presets",
			Run: func(cmd *cobra.Command, args []string) {
				for _, name := range consent.PresetNames() {
					fmt.Println(name)
				}
			},
		},
		&cobra.Command{
			Use:   "add <preset>",
			Short: "Persist a rule from a preset",
			Args:  cobra.ExactArgs(1),
			RunE:  runRulesAdd,
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a rule by id or unique id prefix",
			Args:  cobra.ExactArgs(1),
			RunE:  runRulesRemove,
		},
	)

	return cmd
}

func loadRulesEngine() (*consent.Engine, *audit.Writer, error) {
	cfg, workspace, err := loadWorkspace()
	if err != nil {
		return nil, nil, err
	}
	engine, _, err := newConsentEngine(cfg, "")
	if err != nil {
		return nil, nil, err
	}
	return engine, audit.NewWriter(workspace), nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	engine, _, err := loadRulesEngine()
	if err != nil {
		return err
	}
	printRules(os.Stdout, engine.Rules())
	return nil
}

func printRules(w io.Writer, rules []consent.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No consent rules.")
		return
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		categories := make([]string, 0, len(r.Categories))
		for _, c := range r.Categories {
			categories = append(categories, string(c))
		}
		if len(categories) == 0 {
			categories = append(categories, "any")
		}
		kept := "session"
		if r.Persistent {
			kept = "saved"
		}
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			truncate(r.ID, 8),
			r.Name,
			string(r.Action),
			r.MaxAutoApproveRisk.String(),
			strings.Join(categories, ","),
			kept,
			expires,
		})
	}
	renderTable(w, "Consent Rules", []column{
		{"ID", 8}, {"NAME", 32}, {"ACTION", 8}, {"UP TO", 9}, {"CATEGORIES", 28}, {"KEPT", 8}, {"EXPIRES", 16},
	}, rows)
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	engine, auditor, err := loadRulesEngine()
	if err != nil {
		return err
	}
	rule, err := consent.Preset(args[0])
	if err != nil {
		return err
	}
	rule.Persistent = true
	if err := engine.AddRule(rule); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	recordRuleChange(auditor, "add", rule)
	fmt.Printf("Added rule %s (%s)\n", rule.ID, rule.Name)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	engine, auditor, err := loadRulesEngine()
	if err != nil {
		return err
	}
	rule, err := findRule(engine.Rules(), args[0])
	if err != nil {
		return err
	}
	if !rule.Persistent {
		return fmt.Errorf("rule %s comes from consent.presets; remove it from the config instead", rule.ID)
	}
	if _, err := engine.RemoveRule(rule.ID); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	recordRuleChange(auditor, "remove", rule)
	fmt.Printf("Removed rule %s (%s)\n", rule.ID, rule.Name)
	return nil
}

// findRule resolves an id or a unique id prefix.
func findRule(rules []consent.Rule, id string) (consent.Rule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return consent.Rule{}, fmt.Errorf("rule id is required")
	}
	var matches []consent.Rule
	for _, r := range rules {
		if r.ID == id {
			return r, nil
		}
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return consent.Rule{}, fmt.Errorf("no rule with id %q", id)
	case 1:
		return matches[0], nil
	default:
		return consent.Rule{}, fmt.Errorf("rule id prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

func recordRuleChange(w *audit.Writer, change string, rule consent.Rule) {
	err := w.Append(audit.Event{
		Type:   audit.TypeRuleChange,
		Action: change,
		Result: rule.ID,
		Reason: rule.Name,
	})
	if err != nil {
		slog.Warn("audit rule change failed", "rule_id", rule.ID, "error", err)
	}
}
