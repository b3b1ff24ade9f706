package consent

import "strings"

// Match is the small glob dialect used by consent rules: "*" and "**" match
// everything, a leading or trailing "*" anchors the other end, "*x*" is a
// substring match and "a*b" checks prefix and suffix. Anything else is exact.
func Match(pattern, text string) bool {
	switch {
	case pattern == "*" || pattern == "**":
		return true
	case len(pattern) > 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(text, pattern[1:len(pattern)-1])
	case len(pattern) > 1 && strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(text, pattern[1:])
	case len(pattern) > 1 && strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(text, pattern[:len(pattern)-1])
	}

	if parts := strings.Split(pattern, "*"); len(parts) == 2 {
		return len(text) >= len(parts[0])+len(parts[1]) &&
			strings.HasPrefix(text, parts[0]) && strings.HasSuffix(text, parts[1])
	}
	return pattern == text
}
