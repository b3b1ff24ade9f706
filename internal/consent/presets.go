package consent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MEKXH/warden/internal/risk"
)

func AutoApproveReads() Rule {
	r := NewRule("Auto-approve file reads")
	r.Categories = []risk.Category{risk.CategoryFileRead}
	r.MaxAutoApproveRisk = risk.ReadOnly
	return r
}

func AutoApproveGit() Rule {
	r := NewRule("Auto-approve git operations")
	r.Categories = []risk.Category{risk.CategoryGit}
	return r
}

func AutoApproveBuilds() Rule {
	r := NewRule("Auto-approve build operations")
	r.Categories = []risk.Category{risk.CategoryBuild}
	return r
}

func AutoApproveTests() Rule {
	r := NewRule("Auto-approve test operations")
	r.Categories = []risk.Category{risk.CategoryTest}
	return r
}

func DenySystemOps() Rule {
	r := NewRule("Deny system operations")
	r.Categories = []risk.Category{risk.CategorySystem}
	r.MaxAutoApproveRisk = risk.Critical
	r.Action = ActionDeny
	return r
}

// ForDirectory auto-approves file operations up to Medium risk under dir.
func ForDirectory(dir string) Rule {
	dir = strings.TrimRight(dir, "/")
	r := NewRule("Auto-approve operations in " + dir)
	r.Categories = []risk.Category{risk.CategoryFileRead, risk.CategoryFileWrite, risk.CategoryFileDelete}
	r.PathPatterns = []string{dir + "/*"}
	return r
}

var presets = map[string]func() Rule{
	"auto_approve_reads":  AutoApproveReads,
	"auto_approve_git":    AutoApproveGit,
	"auto_approve_builds": AutoApproveBuilds,
	"auto_approve_tests":  AutoApproveTests,
	"deny_system_ops":     DenySystemOps,
}

// PresetNames lists the named presets accepted by Preset.
func PresetNames() []string {
	names := make([]string, 0, len(presets)+1)
	for name := range presets {
		names = append(names, name)
	}
	names = append(names, "for_directory:<path>")
	sort.Strings(names)
	return names
}

// Preset resolves a preset name; "for_directory:<path>" takes an argument.
func Preset(name string) (Rule, error) {
	name = strings.TrimSpace(name)
	if dir, ok := strings.CutPrefix(name, "for_directory:"); ok {
		if strings.TrimSpace(dir) == "" {
			return Rule{}, fmt.Errorf("preset for_directory needs a path")
		}
		return ForDirectory(strings.TrimSpace(dir)), nil
	}
	build, ok := presets[name]
	if !ok {
		return Rule{}, fmt.Errorf("unknown consent preset %q", name)
	}
	return build(), nil
}
