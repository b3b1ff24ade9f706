package risk

import (
	"regexp"
	"strings"
)

// Classification is the risk assessment of a single shell command.
type Classification struct {
	Category Category
	Level    Level
}

type commandRule struct {
	category Category
	level    Level
	// contains matches anywhere in the lowercased segment; prefixes match the
	// start of it.
	contains []string
	prefixes []string
}

// Checked top-down per pipeline segment; the first hit classifies it.
var commandRules = []commandRule{
	{
		category: CategorySystem,
		level:    Critical,
		contains: []string{"dd if=", "> /dev/sd", "> /dev/nvme", ":(){", "mkfs", "fdisk "},
		prefixes: []string{"shutdown", "reboot", "poweroff", "halt", "init 0", "init 6"},
	},
	{
		category: CategorySystem,
		level:    High,
		contains: []string{"/etc/", "/boot/", "systemctl"},
		prefixes: []string{"sudo ", "su ", "doas ", "chmod ", "chown ", "chgrp ", "kill ", "pkill ", "killall ", "crontab "},
	},
	{
		category: CategoryFileDelete,
		level:    High,
		prefixes: []string{"rm ", "rmdir ", "shred ", "unlink ", "git clean", "git reset --hard"},
	},
	{
		category: CategoryNetwork,
		level:    High,
		prefixes: []string{"curl ", "wget ", "scp ", "rsync ", "ssh ", "nc ", "git push"},
	},
	{
		category: CategoryTest,
		level:    Medium,
		prefixes: []string{"go test", "cargo test", "npm test", "npm run test", "pytest", "yarn test", "make test", "mvn test"},
	},
	{
		category: CategoryBuild,
		level:    Medium,
		prefixes: []string{
			"go build", "go install", "go mod", "cargo build", "cargo install", "npm install", "npm ci", "npm run",
			"yarn", "pnpm", "pip install", "pip3 install", "apt install", "apt-get install", "brew install", "make",
		},
	},
	{
		category: CategoryGit,
		level:    Medium,
		prefixes: []string{"git add", "git commit", "git checkout", "git merge", "git rebase", "git pull", "git stash"},
	},
	{
		category: CategoryFileWrite,
		level:    Medium,
		contains: []string{" > ", " >> "},
		prefixes: []string{"mv ", "cp ", "mkdir ", "touch ", "tee ", "sed -i", "ln "},
	},
	{
		category: CategoryGit,
		level:    Low,
		prefixes: []string{"git status", "git log", "git diff", "git show", "git branch", "git remote -v", "git rev-parse"},
	},
	{
		category: CategoryShell,
		level:    Low,
		prefixes: []string{"echo ", "printf ", "date", "whoami", "uname", "env", "hostname", "go version", "go env"},
	},
	{
		category: CategoryFileRead,
		level:    ReadOnly,
		prefixes: []string{
			"ls", "cat ", "head ", "tail ", "grep ", "rg ", "find ", "pwd", "which ", "type ", "file ",
			"wc ", "stat ", "du ", "df", "tree", "less ", "more ",
		},
	},
}

// ClassifyCommand assigns a category and risk level to a shell command. A
// command made of several segments (pipes, &&, ;) takes the riskiest segment.
func ClassifyCommand(command string) Classification {
	segments := splitSegments(command)
	if len(segments) == 0 {
		return Classification{Category: CategoryShell, Level: Medium}
	}

	var worst Classification
	for i, segment := range segments {
		current := classifySegment(segment)
		if i == 0 || current.Level > worst.Level {
			worst = current
		}
	}
	return worst
}

var rootWipe = regexp.MustCompile(`\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force)\s+(/|/\*|~|/home|/etc|/var|/usr)(\s|$)`)

func classifySegment(segment string) Classification {
	lower := strings.ToLower(strings.TrimSpace(segment))

	if rootWipe.MatchString(lower) {
		return Classification{Category: CategorySystem, Level: Critical}
	}

	if strings.HasPrefix(lower, "find ") && (strings.Contains(lower, " -delete") || strings.Contains(lower, " -exec")) {
		return Classification{Category: CategoryFileDelete, Level: High}
	}

	for _, rule := range commandRules {
		for _, needle := range rule.contains {
			if strings.Contains(lower, needle) {
				return Classification{Category: rule.category, Level: rule.level}
			}
		}
		for _, prefix := range rule.prefixes {
			if matchesPrefix(lower, prefix) {
				return Classification{Category: rule.category, Level: rule.level}
			}
		}
	}
	return Classification{Category: CategoryShell, Level: Medium}
}

// matchesPrefix requires a word boundary after prefixes that do not end in a space.
func matchesPrefix(command, prefix string) bool {
	if !strings.HasPrefix(command, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, " ") || len(command) == len(prefix) {
		return true
	}
	next := command[len(prefix)]
	return next == ' ' || next == '\t'
}

func splitSegments(command string) []string {
	replacer := strings.NewReplacer("&&", "\n", "||", "\n", ";", "\n", "|", "\n")
	parts := strings.Split(replacer.Replace(command), "\n")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
