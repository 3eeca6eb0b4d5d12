// Package json pulls JSON values out of free-form LLM replies.
//
// Models wrap JSON in markdown fences, prefix it with commentary or append
// an explanation. Extract locates the first complete object or array and
// Decode unmarshals it into a typed value.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a reply holds no decodable JSON value.
var ErrNoJSON = errors.New("no JSON value found")

// Extract returns the first complete JSON object or array in response.
// A reply that is valid JSON as a whole (after fence removal) is returned
// unchanged, so scalars are accepted in that case only.
func Extract(response string) (string, error) {
	body := stripFences(response)
	if json.Valid([]byte(body)) {
		return body, nil
	}

	for start := 0; start < len(body); start++ {
		if body[start] != '{' && body[start] != '[' {
			continue
		}
		end := matchClose(body, start)
		if end < 0 {
			continue
		}
		candidate := body[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w in response: %q", ErrNoJSON, preview(response, 100))
}

// Decode extracts the first JSON value of response into a T.
func Decode[T any](response string) (T, error) {
	var out T
	raw, err := Extract(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return out, nil
}

// DecodeInto is the non-generic form of Decode.
func DecodeInto(response string, dst any) error {
	raw, err := Extract(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// matchClose returns the index of the bracket closing the one at start,
// skipping brackets inside string literals, or -1.
func matchClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripFences removes a surrounding ```json ... ``` block, or returns the
// content of the first fenced block when the reply has text around it.
func stripFences(response string) string {
	trimmed := strings.TrimSpace(response)

	open := strings.Index(trimmed, "```")
	if open < 0 {
		return trimmed
	}
	rest := trimmed[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimPrefix(rest, "json")
	}
	if close := strings.Index(rest, "```"); close >= 0 {
		rest = rest[:close]
	}
	return strings.TrimSpace(rest)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
