package action

import "strings"

// toolIndex is the read-only view of known tool ids used for repair.
type toolIndex struct {
	ids []string
	// byLower maps a lowercased id to its canonical spelling.
	byLower map[string]string
}

func newToolIndex(ids []string) *toolIndex {
	idx := &toolIndex{byLower: make(map[string]string, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		idx.ids = append(idx.ids, id)
		idx.byLower[strings.ToLower(id)] = id
	}
	return idx
}

var separatorReplacer = strings.NewReplacer("::", ":", "__", ":", ".", ":", "/", ":")

// repair maps name onto a known `server:tool` id. It tries, in order: exact
// match, separator normalization, a unique tool-part match, then unique
// suffix and prefix matches. Unrepairable names come back unchanged.
func (idx *toolIndex) repair(name string) string {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)
	if lower == "" || len(idx.ids) == 0 {
		return trimmed
	}
	if id, ok := idx.byLower[lower]; ok {
		return id
	}

	normalized := separatorReplacer.Replace(lower)
	if id, ok := idx.byLower[normalized]; ok {
		return id
	}

	part := normalized
	if i := strings.LastIndex(part, ":"); i >= 0 {
		part = part[i+1:]
	}
	if id, ok := idx.unique(func(toolPart string) bool { return toolPart == part }); ok {
		return id
	}
	if id, ok := idx.unique(func(toolPart string) bool {
		return strings.HasSuffix(part, "_"+toolPart) || strings.HasSuffix(toolPart, "_"+part)
	}); ok {
		return id
	}
	if id, ok := idx.unique(func(toolPart string) bool {
		return len(part) >= 3 && strings.HasPrefix(toolPart, part)
	}); ok {
		return id
	}
	return trimmed
}

// unique returns the only id whose tool part satisfies match.
func (idx *toolIndex) unique(match func(toolPart string) bool) (string, bool) {
	found := ""
	for _, id := range idx.ids {
		toolPart := strings.ToLower(id)
		if i := strings.LastIndex(toolPart, ":"); i >= 0 {
			toolPart = toolPart[i+1:]
		}
		if !match(toolPart) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = id
	}
	return found, found != ""
}
