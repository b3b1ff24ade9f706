package action

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	fencePattern   = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")
	channelPattern = regexp.MustCompile(`<\|channel\|>\s*\w+(?:\s+to=([\w.:/-]+))?`)
	clickPattern   = regexp.MustCompile(`^(?:ACTION:\s*)?(DOUBLE_CLICK|CLICK)\s*\(?\s*(\d+)\s*[, ]\s*(\d+)\s*\)?\s*$`)
	typePattern    = regexp.MustCompile(`^(?:ACTION:\s*)?TYPE[:\s]\s*(.+)$`)
	keyPattern     = regexp.MustCompile(`^(?:ACTION:\s*)?KEY[:\s]\s*(.+)$`)
	waitPattern    = regexp.MustCompile(`^(?:ACTION:\s*)?WAIT\b`)
)

var shellLanguages = map[string]bool{
	"bash": true, "sh": true, "shell": true, "zsh": true, "console": true,
	"terminal": true, "shell-session": true, "cmd": true, "powershell": true, "ps1": true,
}

var shellAliases = map[string]bool{
	"bash": true, "sh": true, "shell": true, "exec": true, "terminal": true,
	"run_command": true, "run_shell": true, "execute_command": true, "container.exec": true,
	"shell:exec": true, "functions.shell": true, "functions.bash": true,
}

func isShellAlias(name string) bool {
	return shellAliases[strings.ToLower(strings.TrimSpace(name))]
}

// parseFencedShell takes the first command line of each shell-tagged fence.
func (e *Extractor) parseFencedShell(text string) []Candidate {
	var out []Candidate
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && !shellLanguages[lang] {
			continue
		}
		line, ok := firstCommandLine(m[2])
		if !ok {
			continue
		}
		if c, ok := e.shellCandidate(line, ""); ok {
			out = append(out, c)
		}
	}
	return out
}

// firstCommandLine joins continuation lines and strips prompts and comments.
func firstCommandLine(block string) (string, bool) {
	lines := strings.Split(block, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for strings.HasSuffix(line, "\\") && i+1 < len(lines) {
			i++
			line = strings.TrimSpace(strings.TrimSuffix(line, "\\")) + " " + strings.TrimSpace(lines[i])
		}
		line = strings.TrimPrefix(line, "$ ")
		line = strings.TrimPrefix(line, "PS> ")
		line = stripInlineComment(line)
		if line == "" {
			continue
		}
		return line, true
	}
	return "", false
}

// parseJSON recognizes the JSON shapes models commonly emit.
func (e *Extractor) parseJSON(text string) []Candidate {
	var out []Candidate
	for _, raw := range scanObjects(text) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			continue
		}
		out = append(out, e.fromObject(obj)...)
	}
	return out
}

func (e *Extractor) fromObject(obj map[string]any) []Candidate {
	explanation, _ := obj["explanation"].(string)
	reverse, _ := obj["reverse_command"].(string)

	if actions, ok := obj["actions"].([]any); ok {
		var out []Candidate
		for _, item := range actions {
			if nested, ok := item.(map[string]any); ok {
				out = append(out, e.fromObject(nested)...)
			}
		}
		return out
	}

	for _, key := range []string{"cmd", "command"} {
		if v, ok := obj[key]; ok {
			command := commandFromValue(v)
			c, ok := e.shellCandidate(command, explanation)
			if !ok {
				return nil
			}
			c.ReverseHint = reverse
			return []Candidate{c}
		}
	}

	if name, ok := obj["tool"].(string); ok && name != "" {
		return e.checkedTool(name, argsFromValue(firstPresent(obj, "arguments", "args", "parameters")))
	}
	if name, ok := obj["name"].(string); ok && name != "" {
		if v, ok := obj["arguments"]; ok {
			return e.checkedTool(name, argsFromValue(v))
		}
	}

	if verb, ok := obj["action"].(string); ok {
		path, _ := obj["path"].(string)
		switch strings.ToLower(verb) {
		case "write_file", "write", "create_file":
			content, _ := obj["content"].(string)
			return []Candidate{{Kind: KindFileWrite, Command: path, Content: content, ToolID: ToolWriteFile, Explanation: explanation,
				args: map[string]any{"path": path, "content": content}}}
		case "delete_file", "delete", "remove_file":
			return []Candidate{{Kind: KindFileDelete, Command: path, ToolID: ToolDeleteFile, Explanation: explanation,
				args: map[string]any{"path": path}}}
		}
	}
	return nil
}

// checkedTool builds a tool candidate; shell-shaped calls still pass the filter.
func (e *Extractor) checkedTool(name string, args map[string]any) []Candidate {
	c := e.toolCandidate(name, args)
	if c.Kind == KindShell && !e.filter.Accept(c.Command) {
		return nil
	}
	return []Candidate{c}
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			return v
		}
	}
	return nil
}

func argsFromValue(v any) map[string]any {
	switch typed := v.(type) {
	case map[string]any:
		return typed
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(typed), &parsed); err == nil {
			return parsed
		}
		return map[string]any{"input": typed}
	default:
		return map[string]any{}
	}
}

// commandFromValue accepts a command string or an argv list. A `sh -c X`
// argv collapses to X.
func commandFromValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []any:
		if len(typed) == 3 {
			shell, _ := typed[0].(string)
			flag, _ := typed[1].(string)
			script, _ := typed[2].(string)
			if isShellAlias(shell) && (flag == "-c" || flag == "-lc") && script != "" {
				return script
			}
		}
		return joinArgv(typed)
	}
	return ""
}

func joinArgv(argv []any) string {
	parts := make([]string, 0, len(argv))
	for _, item := range argv {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s == "" || strings.ContainsAny(s, " \t\"'$`\\|&;<>*?") {
			s = "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// scanObjects finds top-level balanced {...} spans, skipping braces inside
// JSON strings.
func scanObjects(text string) []string {
	var out []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end := matchBrace(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			out = append(out, candidate)
			start = end
		}
	}
	return out
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseChannel handles `<|channel|>commentary to=tool ... {json}` framing.
func (e *Extractor) parseChannel(text string) []Candidate {
	loc := channelPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil
	}
	target := ""
	if loc[2] >= 0 {
		target = text[loc[2]:loc[3]]
	}
	rest := text[loc[1]:]
	open := strings.IndexByte(rest, '{')
	if open < 0 {
		return nil
	}
	end := matchBrace(rest, open)
	if end < 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rest[open:end+1]), &payload); err != nil {
		return nil
	}

	if _, hasCmd := payload["cmd"]; hasCmd || isShellAlias(target) {
		command := commandFromValue(firstPresent(payload, "cmd", "command"))
		if c, ok := e.shellCandidate(command, ""); ok {
			return []Candidate{c}
		}
		return nil
	}
	if target == "" {
		return e.fromObject(payload)
	}
	return e.checkedTool(strings.TrimPrefix(target, "functions."), payload)
}

// parsePseudoYAML handles bare `tool: name` blocks followed by arguments.
func (e *Extractor) parsePseudoYAML(text string) []Candidate {
	lines := strings.Split(text, "\n")
	var out []Candidate
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "tool:") && !strings.HasPrefix(trimmed, "tool_call:") {
			continue
		}
		indent := len(lines[i]) - len(strings.TrimLeft(lines[i], " \t"))
		block := []string{lines[i][indent:]}
		j := i + 1
		for ; j < len(lines); j++ {
			next := lines[j]
			if strings.TrimSpace(next) == "" || strings.HasPrefix(strings.TrimSpace(next), "```") {
				break
			}
			if len(next) >= indent {
				next = next[indent:]
			}
			block = append(block, next)
		}
		i = j

		var doc map[string]any
		if err := yaml.Unmarshal([]byte(strings.Join(block, "\n")), &doc); err != nil {
			continue
		}
		name, _ := firstPresent(doc, "tool", "tool_call").(string)
		if name == "" {
			continue
		}
		args := argsFromValue(firstPresent(doc, "args", "arguments", "parameters", "input"))
		out = append(out, e.checkedTool(name, args)...)
	}
	return out
}

// parseGUI reads CLICK/DOUBLE_CLICK/TYPE/KEY/WAIT verb lines.
func (e *Extractor) parseGUI(text string) []Candidate {
	var out []Candidate
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case clickPattern.MatchString(line):
			m := clickPattern.FindStringSubmatch(line)
			x, _ := strconv.Atoi(m[2])
			y, _ := strconv.Atoi(m[3])
			kind := KindClick
			if m[1] == "DOUBLE_CLICK" {
				kind = KindDoubleClick
			}
			out = append(out, Candidate{Kind: kind, X: x, Y: y, HasPoint: true})
		case typePattern.MatchString(line):
			m := typePattern.FindStringSubmatch(line)
			out = append(out, Candidate{Kind: KindType, Text: strings.Trim(strings.TrimSpace(m[1]), `"`)})
		case keyPattern.MatchString(line):
			m := keyPattern.FindStringSubmatch(line)
			out = append(out, Candidate{Kind: KindKey, Key: strings.ToLower(strings.TrimSpace(m[1]))})
		case waitPattern.MatchString(line):
			out = append(out, Candidate{Kind: KindWait})
		}
	}
	return out
}

// knownCommands gates the bare one-line fallback.
var knownCommands = map[string]bool{
	"ls": true, "cat": true, "pwd": true, "git": true, "go": true, "npm": true, "cargo": true,
	"make": true, "grep": true, "find": true, "echo": true, "mkdir": true, "touch": true,
	"python": true, "python3": true, "pip": true, "docker": true, "kubectl": true, "head": true,
	"tail": true, "wc": true, "cd": true, "cp": true, "mv": true, "rm": true, "sudo": true,
	"curl": true, "wget": true, "node": true, "yarn": true, "pytest": true, "tree": true,
}

// parseInlineShell accepts a reply that is a single `$ command` line or a
// bare line starting with a well-known command.
func (e *Extractor) parseInlineShell(text string) []Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.Contains(trimmed, "\n") {
		return nil
	}
	if strings.HasPrefix(trimmed, "$ ") {
		if c, ok := e.shellCandidate(stripInlineComment(strings.TrimPrefix(trimmed, "$ ")), ""); ok {
			return []Candidate{c}
		}
		return nil
	}
	if strings.HasPrefix(trimmed, "`") && strings.HasSuffix(trimmed, "`") && len(trimmed) > 2 {
		trimmed = strings.Trim(trimmed, "`")
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || !knownCommands[fields[0]] {
		return nil
	}
	if c, ok := e.shellCandidate(stripInlineComment(trimmed), ""); ok {
		return []Candidate{c}
	}
	return nil
}
