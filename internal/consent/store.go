package consent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	storeVersion  = 1
	rulesFileMode = 0644
	rulesDirMode  = 0755
)

type fileData struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Store persists standing consent rules to a JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// DefaultRulesPath is <workspace>/state/consent_rules.json.
func DefaultRulesPath(workspace string) string {
	return filepath.Join(workspace, "state", "consent_rules.json")
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the persistent rules. A missing file is an empty rule set.
// Records not marked persistent are ignored.
func (s *Store) Load() ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Rule{}, nil
		}
		return nil, fmt.Errorf("read consent rules: %w", err)
	}

	var parsed fileData
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse consent rules: %w", err)
	}

	rules := make([]Rule, 0, len(parsed.Rules))
	for _, rule := range parsed.Rules {
		if !rule.Persistent {
			continue
		}
		rules = append(rules, normalizeRule(rule))
	}
	return rules, nil
}

// Save atomically replaces the file with the persistent subset of rules.
func (s *Store) Save(rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := fileData{Version: storeVersion, Rules: []Rule{}}
	for _, rule := range rules {
		if rule.Persistent {
			data.Rules = append(data.Rules, normalizeRule(rule))
		}
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal consent rules: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, rulesDirMode); err != nil {
		return fmt.Errorf("create consent rules dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "consent-rules-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp consent rules: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp consent rules: %w", err)
	}
	if err := tmpFile.Chmod(rulesFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp consent rules: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp consent rules: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		if removeErr := os.Remove(s.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace consent rules: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, s.path); retryErr != nil {
			return fmt.Errorf("replace consent rules after remove: %w", retryErr)
		}
	}
	return nil
}
