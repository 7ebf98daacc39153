// Package extract recovers a single structured object from free-form
// LLM output. Models wrap JSON in prose and markdown fences, leave
// trailing commas, and emit literal newlines inside string values;
// extraction tolerates all of it or fails cleanly to nil.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/codeprobe/internal/sanitize"
)

// Object extracts the first well-formed JSON object from raw model
// text. Partial success is not an outcome: any failure at any step
// returns nil.
func Object(raw string) map[string]any {
	text := sanitize.StripThinkTags(raw)

	span, ok := isolateObject(text)
	if !ok {
		return nil
	}

	span = stripTrailingCommas(span)
	span = escapeBareNewlines(span)

	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil
	}
	return obj
}

// isolateObject finds the first opening brace and scans to its matching
// closing brace, honoring escape sequences and both single- and
// double-quoted strings. Everything outside the span is discarded, even
// if it looks structured.
func isolateObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote byte // 0 when outside any string
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && quote != 0 {
			escaped = true
			continue
		}

		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// stripTrailingCommas removes commas that sit immediately before a
// closing brace or bracket, outside of string values.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}

		b.WriteByte(c)
	}

	return b.String()
}

// escapeBareNewlines escapes literal newline and carriage-return
// characters that occur inside double-quoted strings. This pass tracks
// only double-quote state, deliberately narrower than isolateObject's
// scan, and keeps the backslash-escape state so an escaped character
// right after a newline is not itself mangled.
func escapeBareNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}

		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}

		switch c {
		case '\\':
			escaped = true
			b.WriteByte(c)
		case '"':
			inString = false
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// Field resolves a value under either naming convention: the snake_case
// key is preferred, the camelCase equivalent is the fallback. Dual
// naming never leaks past this accessor.
func Field(obj map[string]any, snakeKey string) (any, bool) {
	if v, ok := obj[snakeKey]; ok {
		return v, true
	}
	if v, ok := obj[toCamel(snakeKey)]; ok {
		return v, true
	}
	return nil, false
}

// StringField returns a field as a string, empty when absent or not a
// string.
func StringField(obj map[string]any, snakeKey string) string {
	v, ok := Field(obj, snakeKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IntField returns a field as a positive-capable int. JSON numbers
// arrive as float64; integral floats and digit strings are accepted,
// anything else reports !ok.
func IntField(obj map[string]any, snakeKey string) (int, bool) {
	v, ok := Field(obj, snakeKey)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// BoolField returns a field as a bool, false when absent or mistyped.
func BoolField(obj map[string]any, snakeKey string) bool {
	v, ok := Field(obj, snakeKey)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// StringSliceField returns a field as a string slice, nil when absent.
// Non-string elements are skipped.
func StringSliceField(obj map[string]any, snakeKey string) []string {
	v, ok := Field(obj, snakeKey)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// MapField returns a field as a generic map, nil when absent.
func MapField(obj map[string]any, snakeKey string) map[string]any {
	v, ok := Field(obj, snakeKey)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// toCamel converts a snake_case key to camelCase.
func toCamel(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 1 {
		return snake
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
