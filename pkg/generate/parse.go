package generate

import (
	"encoding/json"
	"regexp"
	"strings"
)

// listMarker matches bullets and numbering at the start of a line.
var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

// extractJSON strips markdown fences and returns the outermost JSON object
// or array in s, or s itself when none is found.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end > start {
		return s[start : end+1]
	}
	return s
}

// parseList reads a list of strings from a reply that is either a JSON
// array or an object holding the array under field. Replies that are not
// JSON are salvaged line by line.
func parseList(reply, field string) []string {
	raw := extractJSON(reply)

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return clean(list)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if inner, ok := obj[field]; ok && json.Unmarshal(inner, &list) == nil {
			return clean(list)
		}
	}

	return salvageLines(reply)
}

// salvageLines keeps the lines of s that look like list entries.
func salvageLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.ContainsAny(line[:1], "{}[]") {
			continue
		}
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimSuffix(line, ",")
		line = unquote(line)
		if line != "" && !strings.HasSuffix(line, ":") {
			out = append(out, line)
		}
	}
	return out
}

func clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = unquote(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// unquote trims whitespace and one pair of surrounding quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
