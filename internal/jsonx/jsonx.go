// Package jsonx decodes the loosely structured JSON that comes back from
// language models: markdown fences are stripped, malformed documents are
// repaired, and truncated arrays are salvaged by closing them at the last
// complete element.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Unmarshal decodes raw model output into v, tolerating markdown fences
// and malformed JSON. The zero-effort path is a plain json.Unmarshal;
// repair and salvage only run after it fails.
func Unmarshal(raw string, v any) error {
	cleaned := StripFences(strings.TrimSpace(raw))
	if cleaned == "" {
		return fmt.Errorf("jsonx: empty input")
	}

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	if fixed, err := jsonrepair.JSONRepair(cleaned); err == nil {
		if err := json.Unmarshal([]byte(fixed), v); err == nil {
			return nil
		}
	}

	if salvaged, ok := SalvageTruncated(cleaned); ok {
		if err := json.Unmarshal([]byte(salvaged), v); err == nil {
			return nil
		}
	}

	if inner := ExtractObject(cleaned); inner != "" && inner != cleaned {
		if err := Unmarshal(inner, v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("jsonx: unparseable model output")
}

// StripFences removes a markdown code block wrapper (```json ... ```).
func StripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SalvageTruncated closes a JSON document that was cut off mid-array by
// dropping everything after the last complete element and closing the
// open brackets. Returns ok=false when the input has no salvageable tail.
func SalvageTruncated(s string) (string, bool) {
	last := strings.LastIndexAny(s, "}]")
	if last < 0 {
		return "", false
	}
	head := s[:last+1]

	// Re-balance: append the closers for whatever is still open.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(head); i++ {
		c := head[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString(head)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	}
	return sb.String(), true
}

// ExtractObject returns the first balanced {...} region in s, for model
// replies that wrap the payload in prose.
func ExtractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
