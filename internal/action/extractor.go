package action

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// parser is one named attempt in the extraction chain.
type parser struct {
	name  string
	parse func(text string) []Candidate
}

// Extractor turns raw model output into candidate actions. It is a pure
// function of its input and the tool ids it was built with.
type Extractor struct {
	tools   *toolIndex
	filter  *CommandFilter
	parsers []parser
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithFilterRules appends extra not-a-command rules to the default table.
func WithFilterRules(rules ...NotCommandRule) Option {
	return func(e *Extractor) {
		e.filter = NewCommandFilter(rules...)
	}
}

// NewExtractor builds an extractor that repairs tool ids against knownTools.
func NewExtractor(knownTools []string, opts ...Option) *Extractor {
	e := &Extractor{
		tools:  newToolIndex(knownTools),
		filter: NewCommandFilter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parsers = []parser{
		{name: "fenced_shell", parse: e.parseFencedShell},
		{name: "json", parse: e.parseJSON},
		{name: "channel", parse: e.parseChannel},
		{name: "pseudo_yaml", parse: e.parsePseudoYAML},
		{name: "gui", parse: e.parseGUI},
		{name: "inline_shell", parse: e.parseInlineShell},
	}
	return e
}

// Extract returns every candidate found by the first parser that recognizes
// anything, in document order.
func (e *Extractor) Extract(text string) []Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, p := range e.parsers {
		candidates := p.parse(text)
		if len(candidates) == 0 {
			continue
		}
		out := make([]Candidate, 0, len(candidates))
		for _, c := range candidates {
			c.Source = p.name
			out = append(out, c)
		}
		return out
	}
	return nil
}

// First returns only the first candidate. The pipeline never acts on more
// than one action per model turn.
func (e *Extractor) First(text string) (Candidate, bool) {
	candidates := e.Extract(text)
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

// Interpret is First with a conversational fallback: text without any
// recognizable action becomes a response or a clarifying question.
func (e *Extractor) Interpret(text string) Candidate {
	if c, ok := e.First(text); ok {
		return c
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return Candidate{Kind: KindQuestion, Text: trimmed, Source: "fallback"}
	}
	return Candidate{Kind: KindResponse, Text: trimmed, Source: "fallback"}
}

// FromToolCalls converts native model tool calls into candidates.
func (e *Extractor) FromToolCalls(calls []schema.ToolCall) []Candidate {
	out := make([]Candidate, 0, len(calls))
	for _, call := range calls {
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"raw": raw}
			}
		}
		c := e.toolCandidate(call.Function.Name, args)
		c.Source = "native"
		if c.Kind == KindShell && !e.filter.Accept(c.Command) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RepairToolID maps a loosely formatted tool name onto a known id.
func (e *Extractor) RepairToolID(id string) string {
	return e.tools.repair(id)
}

// AcceptsCommand reports whether line passes the not-a-command filter.
func (e *Extractor) AcceptsCommand(line string) bool {
	return e.filter.Accept(line)
}

func (e *Extractor) toolCandidate(name string, args map[string]any) Candidate {
	id := e.tools.repair(name)
	if isShellAlias(name) || isShellAlias(id) {
		id = ToolShellExec
	}
	return NewToolCall(id, args, "")
}

// shellCandidate applies the command filter; rejected lines yield nothing.
func (e *Extractor) shellCandidate(command, explanation string) (Candidate, bool) {
	command = strings.TrimSpace(command)
	if command == "" || !e.filter.Accept(command) {
		return Candidate{}, false
	}
	return NewShell(command, explanation), true
}
