// Package llmjson digs JSON objects out of free-text model replies.
package llmjson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when a reply contains no JSON object at all.
var ErrNoJSON = eris.New("no JSON found in response")

// Extract returns the most likely JSON object in text: the body of a
// ```json fence if present, otherwise the first balanced object starting at
// the first '{'. An object that never closes is returned as-is for Repair.
// The second result is false when no object could be located.
func Extract(text string) (string, bool) {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```json"); i >= 0 {
		body := text[i+len("```json"):]
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		text = body
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if j := strings.LastIndex(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	if end := closingBrace(text, start); end > 0 {
		return strings.TrimSpace(text[start : end+1]), true
	}
	return strings.TrimSpace(text[start:]), true
}

// closingBrace returns the index of the brace that balances text[start],
// skipping strings and // comments, or -1 if it never closes.
func closingBrace(text string, start int) int {
	depth := 0
	inString, escape := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escape:
			escape = false
		case inString:
			if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// StripComments removes // line comments that appear outside strings.
func StripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escape := false, false

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escape:
			escape = false
		case inString && c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Repair closes an unterminated string and any open objects or arrays,
// dropping dangling commas, so a reply cut off by a token limit can still
// be decoded.
func Repair(text string) string {
	if text == "" {
		return text
	}

	var stack []byte
	inString, escape := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}

	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,:")
		text += string(stack[i])
	}
	return text
}

// Decode locates, cleans and unmarshals the JSON object in text into v,
// attempting a truncation repair before giving up.
func Decode(text string, v any) error {
	raw, ok := Extract(text)
	if !ok {
		return ErrNoJSON
	}
	raw = StripComments(raw)

	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	if repaired := Repair(raw); repaired != raw {
		if json.Unmarshal([]byte(repaired), v) == nil {
			return nil
		}
	}
	return eris.Wrap(err, "llmjson: decode")
}

// Object decodes text into a raw JSON object, for pass-through fields.
func Object(text string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := Decode(text, &m); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "llmjson: re-encode")
	}
	return b, nil
}
