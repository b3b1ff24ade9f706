package action

import (
	"regexp"
	"strings"
	"unicode"
)

// NotCommandRule flags a line that looks like something other than a shell
// command: echoed output, documentation, prose or source code.
type NotCommandRule struct {
	Name  string
	Match func(line string) bool
}

// CommandFilter rejects lines matched by any of its rules. Ambiguous lines are
// rejected; a missed command only costs a conversational turn.
type CommandFilter struct {
	rules []NotCommandRule
}

// NewCommandFilter returns a filter with the default rules followed by extra.
func NewCommandFilter(extra ...NotCommandRule) *CommandFilter {
	rules := append([]NotCommandRule{}, DefaultNotCommandRules()...)
	rules = append(rules, extra...)
	return &CommandFilter{rules: rules}
}

// Reject returns the name of the first rule matching line.
func (f *CommandFilter) Reject(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "empty", true
	}
	for _, rule := range f.rules {
		if rule.Match(trimmed) {
			return rule.Name, true
		}
	}
	return "", false
}

// Accept reports whether line may be treated as a command.
func (f *CommandFilter) Accept(line string) bool {
	_, rejected := f.Reject(line)
	return !rejected
}

// Rules returns the active rule names in evaluation order.
func (f *CommandFilter) Rules() []string {
	names := make([]string, 0, len(f.rules))
	for _, rule := range f.rules {
		names = append(names, rule.Name)
	}
	return names
}

var (
	listingLinePattern  = regexp.MustCompile(`^[dlcbps-][rwxsStT-]{9}[.@+]?\s+\d+`)
	listingTotalPattern = regexp.MustCompile(`^total \d+$`)
	headingPattern      = regexp.MustCompile(`^#{1,6}\s+\S`)
	tableRowPattern     = regexp.MustCompile(`^\|.*\|$`)
	mdLinkPattern       = regexp.MustCompile(`^!?\[[^\]]+\]\([^)]+\)`)
	ruleLinePattern     = regexp.MustCompile(`^(-{3,}|\*{3,}|={3,})$`)
	numberedPattern     = regexp.MustCompile(`^\d+[.)]\s+\S`)
	bulletPattern       = regexp.MustCompile(`^[-*+•]\s+\S`)
	isoDatePattern      = regexp.MustCompile(`^\d{4}[-/]\d{2}[-/]\d{2}\b`)
	clockPattern        = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?(\s*[ap]m)?\b`)
	weekdayDatePattern  = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)[a-z]*,?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d`)
	monthDatePattern    = regexp.MustCompile(`(?i)^(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}`)
	assertionPattern    = regexp.MustCompile(`^(assert\w*[\s(!]|expect\(|should[\s.]|require\.\w+\(|t\.(Fatal|Error)f?\()`)
	errorEchoPattern    = regexp.MustCompile(`(?i)^(error|warning|fatal|panic|traceback|exception|caused by)(\[\w+\])?\s*[:(]`)
	errorClassPattern   = regexp.MustCompile(`^[A-Z]\w*(Error|Exception):`)
	urlOnlyPattern      = regexp.MustCompile(`^https?://\S+$`)
	codeStatement       = regexp.MustCompile(`^[A-Za-z_][\w.]*\s*(\(.*\)|=\s*.+|\+\+|--)\s*;$`)
)

var errorEchoFragments = []string{
	"command not found",
	"no such file or directory",
	"permission denied",
	"is not recognized as an internal or external command",
	"segmentation fault",
}

var declarationKeywords = map[string]bool{
	"func": true, "def": true, "class": true, "import": true, "package": true, "fn": true,
	"pub": true, "const": true, "public": true, "private": true, "protected": true,
	"static": true, "struct": true, "interface": true, "impl": true, "#include": true,
	"namespace": true, "async": true, "return": true, "var": true, "enum": true, "trait": true,
}

// Capitalized openers that almost always start a sentence rather than a
// command. Commands are lowercase in practice.
var proseOpeners = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true, "it": true,
	"you": true, "we": true, "i": true, "first": true, "then": true, "next": true,
	"now": true, "here": true, "note": true, "let's": true, "please": true, "if": true,
	"when": true, "after": true, "before": true, "to": true, "once": true, "finally": true,
	"great": true, "sure": true, "okay": true, "ok": true, "done": true, "run": true,
	"use": true, "try": true, "build": true, "install": true, "check": true, "make": true,
	"open": true, "create": true, "there": true, "your": true, "my": true, "all": true,
}

// DefaultNotCommandRules is the built-in rule table. It is a tunable default.
func DefaultNotCommandRules() []NotCommandRule {
	return []NotCommandRule{
		{Name: "listing_output", Match: func(line string) bool {
			return listingLinePattern.MatchString(line) || listingTotalPattern.MatchString(line)
		}},
		{Name: "markdown", Match: func(line string) bool {
			return headingPattern.MatchString(line) ||
				tableRowPattern.MatchString(line) ||
				mdLinkPattern.MatchString(line) ||
				ruleLinePattern.MatchString(line) ||
				strings.HasPrefix(line, "**") ||
				strings.HasPrefix(line, "```")
		}},
		{Name: "numbered_list", Match: numberedPattern.MatchString},
		{Name: "bullet_list", Match: bulletPattern.MatchString},
		{Name: "date_time", Match: func(line string) bool {
			return isoDatePattern.MatchString(line) ||
				clockPattern.MatchString(line) ||
				weekdayDatePattern.MatchString(line) ||
				monthDatePattern.MatchString(line)
		}},
		{Name: "source_declaration", Match: looksLikeDeclaration},
		{Name: "assertion", Match: assertionPattern.MatchString},
		{Name: "error_echo", Match: func(line string) bool {
			if errorEchoPattern.MatchString(line) || errorClassPattern.MatchString(line) {
				return true
			}
			lower := strings.ToLower(line)
			for _, fragment := range errorEchoFragments {
				if strings.Contains(lower, fragment) {
					return true
				}
			}
			return false
		}},
		{Name: "prose_sentence", Match: looksLikeProse},
		{Name: "url_only", Match: urlOnlyPattern.MatchString},
		{Name: "arrow", Match: func(line string) bool {
			return containsOutsideQuotes(line, "->") || containsOutsideQuotes(line, "=>")
		}},
		{Name: "unbalanced_quotes", Match: func(line string) bool {
			_, balanced := scanQuotes(line, nil)
			return !balanced
		}},
		{Name: "trailing_semicolon", Match: func(line string) bool {
			if !strings.HasSuffix(line, ";") {
				return false
			}
			if codeStatement.MatchString(line) || strings.HasSuffix(line, ");") || strings.HasSuffix(line, "};") {
				return true
			}
			words := strings.Fields(strings.TrimSuffix(line, ";"))
			if len(words) == 0 {
				return true
			}
			last := words[len(words)-1]
			return isWord(last) && len(words) >= 3
		}},
	}
}

func looksLikeDeclaration(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if declarationKeywords[first] && len(fields) > 1 {
		return true
	}
	if first == "use" && (strings.Contains(line, "::") || strings.HasSuffix(line, ";")) {
		return true
	}
	if strings.HasSuffix(line, "{") && (strings.Contains(line, ")") || strings.Contains(line, "=")) {
		return true
	}
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "<!--")
}

func looksLikeProse(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	first := strings.TrimRight(fields[0], ",:;.!")
	if first == "" || !isWord(first) {
		return false
	}
	runes := []rune(first)
	if unicode.IsUpper(runes[0]) {
		if proseOpeners[strings.ToLower(first)] {
			return true
		}
		if isWord(strings.TrimRight(fields[1], ",:;.!")) && startsLower(fields[1]) {
			return true
		}
	}
	end := line[len(line)-1]
	if (end == '.' || end == '!' || end == '?') && len(fields) >= 4 && !strings.ContainsAny(line, "|&<>$=/") {
		return true
	}
	return false
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '\'' {
			return false
		}
	}
	return true
}

func startsLower(s string) bool {
	for _, r := range s {
		return unicode.IsLower(r)
	}
	return false
}

// scanQuotes walks line tracking shell quoting. visit is called for every byte
// offset that sits outside quotes. It reports whether quotes are balanced.
func scanQuotes(line string, visit func(i int) bool) (int, bool) {
	var quote byte
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && quote != '\'' {
			escaped = true
			continue
		}
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if visit != nil && visit(i) {
			return i, quote == 0
		}
	}
	return -1, quote == 0
}

func containsOutsideQuotes(line, needle string) bool {
	idx, _ := scanQuotes(line, func(i int) bool {
		return strings.HasPrefix(line[i:], needle)
	})
	return idx >= 0
}

// stripInlineComment drops a trailing `# comment` that sits outside quotes.
func stripInlineComment(line string) string {
	idx, _ := scanQuotes(line, func(i int) bool {
		return line[i] == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t')
	})
	if idx < 0 {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line[:idx])
}
