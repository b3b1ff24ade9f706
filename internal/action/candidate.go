package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates what a candidate action would do.
type Kind string

const (
	KindShell       Kind = "shell"
	KindFileWrite   Kind = "file_write"
	KindFileDelete  Kind = "file_delete"
	KindToolCall    Kind = "tool_call"
	KindResponse    Kind = "response"
	KindQuestion    Kind = "question"
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindType        Kind = "type"
	KindKey         Kind = "key"
	KindWait        Kind = "wait"
)

// Executable reports whether the kind produces a side effect.
func (k Kind) Executable() bool {
	switch k {
	case KindResponse, KindQuestion, KindWait:
		return false
	default:
		return true
	}
}

// GUI reports whether the kind is a coordinate or keyboard action.
func (k Kind) GUI() bool {
	switch k {
	case KindClick, KindDoubleClick, KindType, KindKey, KindWait:
		return true
	default:
		return false
	}
}

// Well-known tool ids for the built-in executor.
const (
	ToolShellExec  = "shell:exec"
	ToolReadFile   = "fs:read_file"
	ToolWriteFile  = "fs:write_file"
	ToolEditFile   = "fs:edit_file"
	ToolDeleteFile = "fs:delete_file"
	ToolListDir    = "fs:list_dir"
	ToolGrep       = "fs:grep"
)

// Candidate is an action parsed out of model output that has not been
// authorized yet. Values are not modified after extraction; Args returns a copy.
type Candidate struct {
	Kind Kind
	// Command is the shell command for shell candidates and the target path
	// for file candidates.
	Command     string
	ToolID      string
	Content     string
	Text        string
	Key         string
	X, Y        int
	HasPoint    bool
	Explanation string
	ReverseHint string
	// Source names the parser that produced the candidate.
	Source string

	args map[string]any
}

// Args returns a copy of the structured tool arguments.
func (c Candidate) Args() map[string]any {
	if len(c.args) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(c.args))
	for k, v := range c.args {
		out[k] = v
	}
	return out
}

// ArgsJSON encodes the tool arguments for the executor.
func (c Candidate) ArgsJSON() string {
	switch c.Kind {
	case KindShell:
		raw, _ := json.Marshal(map[string]any{"command": c.Command})
		return string(raw)
	case KindFileWrite:
		raw, _ := json.Marshal(map[string]any{"path": c.Command, "content": c.Content})
		return string(raw)
	case KindFileDelete:
		raw, _ := json.Marshal(map[string]any{"path": c.Command})
		return string(raw)
	}
	raw, err := json.Marshal(c.Args())
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Payload is the text the safety filter scores for this action.
func (c Candidate) Payload() string {
	switch c.Kind {
	case KindShell, KindFileDelete:
		return c.Command
	case KindFileWrite:
		return strings.TrimSpace(c.Command + "\n" + c.Content)
	case KindType, KindResponse, KindQuestion:
		return c.Text
	case KindKey:
		return c.Key
	case KindToolCall:
		return c.ToolID + " " + c.ArgsJSON()
	default:
		return c.Command
	}
}

// Describe renders a one-line summary for prompts and logs.
func (c Candidate) Describe() string {
	switch c.Kind {
	case KindShell:
		return "run `" + c.Command + "`"
	case KindFileWrite:
		return "write " + c.Command
	case KindFileDelete:
		return "delete " + c.Command
	case KindToolCall:
		return "call " + c.ToolID + " " + c.ArgsJSON()
	case KindClick, KindDoubleClick:
		return fmt.Sprintf("%s at (%d, %d)", c.Kind, c.X, c.Y)
	case KindType:
		return "type " + truncate(c.Text, 60)
	case KindKey:
		return "press " + c.Key
	case KindWait:
		return "wait"
	default:
		return truncate(c.Text, 80)
	}
}

// Equal compares two candidates for the repeated-command guard.
func (c Candidate) Equal(other Candidate) bool {
	return c.Kind == other.Kind &&
		c.Command == other.Command &&
		c.ToolID == other.ToolID &&
		c.Content == other.Content &&
		c.Text == other.Text &&
		c.Key == other.Key &&
		c.X == other.X && c.Y == other.Y &&
		c.ArgsJSON() == other.ArgsJSON()
}

// NewShell builds a shell candidate.
func NewShell(command, explanation string) Candidate {
	return Candidate{Kind: KindShell, Command: command, ToolID: ToolShellExec, Explanation: explanation}
}

// NewToolCall builds a tool-call candidate, specializing well-known tools into
// their dedicated kinds.
func NewToolCall(toolID string, args map[string]any, source string) Candidate {
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}

	switch toolID {
	case ToolShellExec:
		if command := stringArg(copied, "command", "cmd"); command != "" {
			return Candidate{Kind: KindShell, Command: command, ToolID: toolID, Source: source, args: copied}
		}
	case ToolWriteFile:
		return Candidate{
			Kind:    KindFileWrite,
			Command: stringArg(copied, "path", "file", "filename"),
			Content: stringArg(copied, "content", "text", "data"),
			ToolID:  toolID,
			Source:  source,
			args:    copied,
		}
	case ToolDeleteFile:
		return Candidate{Kind: KindFileDelete, Command: stringArg(copied, "path", "file"), ToolID: toolID, Source: source, args: copied}
	}
	return Candidate{Kind: KindToolCall, ToolID: toolID, Source: source, args: copied}
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key]; ok {
			switch typed := v.(type) {
			case string:
				return typed
			case []any:
				return joinArgv(typed)
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
