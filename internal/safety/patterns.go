package safety

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/risk"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// PatternFile is the on-disk layout of the safety tables.
type PatternFile struct {
	DangerousKeywords []string          `yaml:"dangerous_keywords"`
	MaliciousPatterns []string          `yaml:"malicious_patterns"`
	DangerousKeys     []string          `yaml:"dangerous_keys"`
	DangerousRegions  []RegionSpec      `yaml:"dangerous_regions"`
	HardBlocks        []HardBlockSpec   `yaml:"hard_blocks"`
	Obfuscation       ObfuscationSpec   `yaml:"obfuscation"`
	Advisor           AdvisorSpec       `yaml:"advisor"`
	ContextHints      []ContextHintSpec `yaml:"context_hints"`
}

type RegionSpec struct {
	Name             string `yaml:"name"`
	X                []int  `yaml:"x"`
	Y                []int  `yaml:"y"`
	Risk             string `yaml:"risk"`
	ContextDependent bool   `yaml:"context_dependent"`
}

type HardBlockSpec struct {
	Name     string   `yaml:"name"`
	Reason   string   `yaml:"reason"`
	Scope    string   `yaml:"scope"`
	Kinds    []string `yaml:"kinds"`
	Patterns []string `yaml:"patterns"`
}

type ObfuscationSpec struct {
	Keywords       []string   `yaml:"keywords"`
	Base64Keywords []string   `yaml:"base64_keywords"`
	PoeticFrames   []string   `yaml:"poetic_frames"`
	PoeticPairs    [][]string `yaml:"poetic_pairs"`
	Metaphors      []string   `yaml:"metaphors"`
}

type AdvisorSpec struct {
	BlockIndicators []string `yaml:"block_indicators"`
	SafeIndicators  []string `yaml:"safe_indicators"`
}

type ContextHintSpec struct {
	Pattern string `yaml:"pattern"`
	Hint    string `yaml:"hint"`
}

// Patterns holds the compiled tables used by the scoring rules.
type Patterns struct {
	keywords    []string
	malicious   []*regexp.Regexp
	keys        map[string]bool
	regions     []region
	hardBlocks  []hardBlock
	obfuscation ObfuscationSpec
	advisor     AdvisorSpec
	hints       []contextHint
}

type region struct {
	name             string
	x, y             [2]int
	level            risk.Level
	contextDependent bool
}

type hardBlock struct {
	name     string
	reason   string
	scope    string
	kinds    map[action.Kind]bool
	patterns []*regexp.Regexp
}

type contextHint struct {
	pattern *regexp.Regexp
	hint    string
}

// DefaultPatterns compiles the embedded tables.
func DefaultPatterns() (*Patterns, error) {
	var file PatternFile
	if err := yaml.Unmarshal(defaultPatternsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse embedded patterns: %w", err)
	}
	return compilePatterns(file)
}

// LoadPatterns reads a pattern file and overlays its non-empty sections on the
// embedded defaults.
func LoadPatterns(path string) (*Patterns, error) {
	var base PatternFile
	if err := yaml.Unmarshal(defaultPatternsYAML, &base); err != nil {
		return nil, fmt.Errorf("parse embedded patterns: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return compilePatterns(base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var override PatternFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse patterns file %s: %w", path, err)
	}
	return compilePatterns(overlay(base, override))
}

func overlay(base, override PatternFile) PatternFile {
	if len(override.DangerousKeywords) > 0 {
		base.DangerousKeywords = override.DangerousKeywords
	}
	if len(override.MaliciousPatterns) > 0 {
		base.MaliciousPatterns = override.MaliciousPatterns
	}
	if len(override.DangerousKeys) > 0 {
		base.DangerousKeys = override.DangerousKeys
	}
	if len(override.DangerousRegions) > 0 {
		base.DangerousRegions = override.DangerousRegions
	}
	// Hard blocks only ever grow: a custom file cannot remove the defaults.
	base.HardBlocks = append(base.HardBlocks, override.HardBlocks...)
	if len(override.Obfuscation.Keywords) > 0 {
		base.Obfuscation.Keywords = override.Obfuscation.Keywords
	}
	if len(override.Obfuscation.Base64Keywords) > 0 {
		base.Obfuscation.Base64Keywords = override.Obfuscation.Base64Keywords
	}
	if len(override.Obfuscation.PoeticFrames) > 0 {
		base.Obfuscation.PoeticFrames = override.Obfuscation.PoeticFrames
	}
	if len(override.Obfuscation.PoeticPairs) > 0 {
		base.Obfuscation.PoeticPairs = override.Obfuscation.PoeticPairs
	}
	if len(override.Obfuscation.Metaphors) > 0 {
		base.Obfuscation.Metaphors = override.Obfuscation.Metaphors
	}
	if len(override.Advisor.BlockIndicators) > 0 {
		base.Advisor.BlockIndicators = override.Advisor.BlockIndicators
	}
	if len(override.Advisor.SafeIndicators) > 0 {
		base.Advisor.SafeIndicators = override.Advisor.SafeIndicators
	}
	if len(override.ContextHints) > 0 {
		base.ContextHints = override.ContextHints
	}
	return base
}

func compilePatterns(file PatternFile) (*Patterns, error) {
	p := &Patterns{
		keys:        make(map[string]bool, len(file.DangerousKeys)),
		obfuscation: lowerObfuscation(file.Obfuscation),
		advisor:     AdvisorSpec{BlockIndicators: lowerAll(file.Advisor.BlockIndicators), SafeIndicators: lowerAll(file.Advisor.SafeIndicators)},
	}
	p.keywords = lowerAll(file.DangerousKeywords)

	for _, raw := range file.MaliciousPatterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("compile malicious pattern %q: %w", raw, err)
		}
		p.malicious = append(p.malicious, re)
	}

	for _, key := range file.DangerousKeys {
		p.keys[normalizeKey(key)] = true
	}

	for _, spec := range file.DangerousRegions {
		level, err := risk.ParseLevel(spec.Risk)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", spec.Name, err)
		}
		if len(spec.X) != 2 || len(spec.Y) != 2 {
			return nil, fmt.Errorf("region %s: x and y must be [min, max]", spec.Name)
		}
		p.regions = append(p.regions, region{
			name:             spec.Name,
			x:                [2]int{spec.X[0], spec.X[1]},
			y:                [2]int{spec.Y[0], spec.Y[1]},
			level:            level,
			contextDependent: spec.ContextDependent,
		})
	}

	for _, spec := range file.HardBlocks {
		block := hardBlock{name: spec.Name, reason: spec.Reason, scope: strings.ToLower(spec.Scope)}
		if block.scope == "" {
			block.scope = "both"
		}
		if len(spec.Kinds) > 0 {
			block.kinds = make(map[action.Kind]bool, len(spec.Kinds))
			for _, kind := range spec.Kinds {
				block.kinds[action.Kind(strings.ToLower(kind))] = true
			}
		}
		for _, raw := range spec.Patterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				return nil, fmt.Errorf("compile hard block %s pattern %q: %w", spec.Name, raw, err)
			}
			block.patterns = append(block.patterns, re)
		}
		p.hardBlocks = append(p.hardBlocks, block)
	}

	for _, spec := range file.ContextHints {
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile context hint %q: %w", spec.Pattern, err)
		}
		p.hints = append(p.hints, contextHint{pattern: re, hint: spec.Hint})
	}
	return p, nil
}

func lowerObfuscation(spec ObfuscationSpec) ObfuscationSpec {
	pairs := make([][]string, 0, len(spec.PoeticPairs))
	for _, pair := range spec.PoeticPairs {
		if len(pair) == 2 {
			pairs = append(pairs, lowerAll(pair))
		}
	}
	return ObfuscationSpec{
		Keywords:       lowerAll(spec.Keywords),
		Base64Keywords: lowerAll(spec.Base64Keywords),
		PoeticFrames:   lowerAll(spec.PoeticFrames),
		PoeticPairs:    pairs,
		Metaphors:      lowerAll(spec.Metaphors),
	}
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "")
}
