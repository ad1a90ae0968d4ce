package classify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FirstJSONObject returns the first balanced {...} block in text that is valid
// JSON. Prose, code fences and stray braces around it are skipped.
func FirstJSONObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing text[start], honoring JSON strings.
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

// rawResult mirrors ClassificationResult but accepts the loose types models emit.
type rawResult struct {
	Agent         *string         `json:"agent"`
	Slot          json.RawMessage `json:"slot"`
	Role          string          `json:"role"`
	SuggestedName string          `json:"suggested_name"`
	SuggestedAlt  string          `json:"suggestedName"`
	Tags          json.RawMessage `json:"tags"`
	Confidence    json.RawMessage `json:"confidence"`
	Reasoning     string          `json:"reasoning"`
}

func looseInt(raw json.RawMessage) (int, bool) {
	f, ok := looseFloat(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func looseFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func looseStrings(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Split(s, ",")
	}
	return nil
}
