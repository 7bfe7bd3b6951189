package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON finds the JSON object in a model response. A fenced block is
// preferred; otherwise the first balanced {...} span is returned. Returns ""
// when no complete object exists.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if body, ok := fencedBlock(response, "```json"); ok {
		return body
	}
	if body, ok := fencedBlock(response, "```"); ok && strings.HasPrefix(body, "{") {
		return body
	}

	if start := strings.IndexByte(response, '{'); start != -1 {
		return balancedObject(response, start)
	}
	return ""
}

// DecodeJSON extracts the JSON object in response and unmarshals it into v.
func DecodeJSON(response string, v any) error {
	obj := ExtractJSON(response)
	if obj == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

func fencedBlock(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	start += len(fence)
	end := strings.Index(s[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(s[start : start+end]), true
}

// balancedObject returns the object starting at s[start] if its braces
// close, skipping braces inside JSON strings.
func balancedObject(s string, start int) string {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
