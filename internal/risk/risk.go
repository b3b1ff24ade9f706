package risk

import (
	"fmt"
	"strings"
)

// Level is an ordered classification of how much damage an action could
// cause if it turns out to be wrong.
type Level int

const (
	ReadOnly Level = iota
	Low
	Medium
	High
	Critical
)

var levelNames = [...]string{
	ReadOnly: "read_only",
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

// Levels lists every level in ascending order.
func Levels() []Level {
	return []Level{ReadOnly, Low, Medium, High, Critical}
}

func (l Level) String() string {
	if l < ReadOnly || l > Critical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= ReadOnly && l <= Critical
}

// ParseLevel accepts the canonical names plus a few common spellings.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "read_only", "readonly", "read-only", "ro":
		return ReadOnly, nil
	case "low":
		return Low, nil
	case "medium", "med":
		return Medium, nil
	case "high":
		return High, nil
	case "critical", "crit":
		return Critical, nil
	default:
		return ReadOnly, fmt.Errorf("unknown risk level %q", raw)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// Category is the closed set of operation kinds the consent engine reasons about.
type Category string

const (
	CategoryFileRead   Category = "file_read"
	CategoryFileWrite  Category = "file_write"
	CategoryFileDelete Category = "file_delete"
	CategoryShell      Category = "shell_command"
	CategoryGit        Category = "git"
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
	CategoryBuild      Category = "build"
	CategoryTest       Category = "test"
	CategoryCustom     Category = "custom"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryFileRead, CategoryFileWrite, CategoryFileDelete, CategoryShell, CategoryGit,
		CategoryNetwork, CategorySystem, CategoryBuild, CategoryTest, CategoryCustom,
	}
}

// DefaultLevel is used when no explicit classification is supplied.
func (c Category) DefaultLevel() Level {
	switch c {
	case CategoryFileRead:
		return ReadOnly
	case CategoryFileDelete, CategoryShell, CategoryGit:
		return High
	case CategorySystem:
		return Critical
	default:
		return Medium
	}
}

// ParseCategory normalizes a category name. Unknown names map to custom.
func ParseCategory(raw string) Category {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "_")
	switch name {
	case "shell", "command", "shell_command":
		return CategoryShell
	case "read", "file_read":
		return CategoryFileRead
	case "write", "file_write":
		return CategoryFileWrite
	case "delete", "file_delete":
		return CategoryFileDelete
	}
	for _, c := range Categories() {
		if string(c) == name {
			return c
		}
	}
	return CategoryCustom
}
