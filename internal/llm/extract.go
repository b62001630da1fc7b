package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a response contains no complete JSON object.
var ErrNoJSONObject = errors.New("llm: no JSON object found in response")

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
// Both backtick and tilde fence styles are supported. The content group uses
// `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// StripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present (e.g., the response was truncated before
// the closing fence), the opening line is stripped so that the JSON content can
// still be parsed.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Handle truncated fenced responses: strip the opening fence line only.
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is not
// a valid JSON string escape character ("\/bfnrtu). LLMs sometimes emit regex
// patterns (e.g. \d+, \w+) unescaped inside JSON strings; this sanitizer
// converts them to properly double-escaped sequences (\\d, \\w, etc.) so that
// the JSON parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// FixInvalidJSONEscapes replaces invalid JSON escape sequences in s with their
// correctly double-escaped equivalents.
func FixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// firstJSONObject returns the first balanced top-level JSON object in s.
// Models sometimes prefix a sentence before the JSON or append commentary
// after it; the scanner tolerates both. String contents and escape sequences
// are honored so braces inside strings do not confuse the depth count.
func firstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// DecodeObject extracts the first JSON object from a raw model response and
// unmarshals it into v. The response may be fenced, prefixed or suffixed with
// prose, or carry invalid escape sequences; all are tolerated. The original
// parse error is returned when even the sanitized payload does not parse.
func DecodeObject(raw string, v any) error {
	obj, err := firstJSONObject(StripMarkdownFences(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		fixed := FixInvalidJSONEscapes(obj)
		if err2 := json.Unmarshal([]byte(fixed), v); err2 != nil {
			return fmt.Errorf("llm: decode object: %w", err)
		}
	}
	return nil
}
