package nix

import "strings"

// ParseEnv extracts a variable mapping from the captured stdout lines of
// an `env` dump. A line matches when it has a non-empty key (one or more
// non-= characters) before the first "="; the value is the remainder and
// may be empty or contain further "=". Non-matching lines are skipped,
// never fatal: nix and shell hooks routinely interleave chatter with the
// dump. On duplicate keys the last occurrence wins.
func ParseEnv(lines []string) map[string]string {
	vars := make(map[string]string)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = value
	}
	return vars
}
