// Package jsonrepair cleans up JSON produced by language models. It strips
// wrapping prose and code fences and applies a fixed set of heuristic
// corrections for common near-miss output. It is not a relaxed JSON parser:
// anything it cannot recover is reported as unrepairable.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUnrepairable is returned when no transform produces parseable JSON.
var ErrUnrepairable = errors.New("jsonrepair: output could not be repaired")

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?[ \t]*```\\s*$")

	adjacentContainers = regexp.MustCompile(`([\]\}])(\s*)([\[\{])`)
	adjacentStrings    = regexp.MustCompile(`"([ \t]*\r?\n\s*)"`)
	literalThenString  = regexp.MustCompile(`(true|false|null|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)([ \t]*\r?\n\s*)"`)
	trailingComma      = regexp.MustCompile(`,(\s*[\}\]])`)
	unquotedKey        = regexp.MustCompile(`([\{,]\s*)([A-Za-z_$][A-Za-z0-9_$]*)(\s*:)`)
	singleQuoted       = regexp.MustCompile(`([\{\[,:]\s*)'([^'\r\n]*)'(\s*[,:\}\]])`)
)

// Sanitize trims model output down to the JSON object it most likely
// contains: fences are removed and the text is sliced from the first '{' to
// the last '}'. Input without an opening brace is returned trimmed.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// truncated output, keep the tail so closers can be appended
		return s[start:]
	}
	return s[start : end+1]
}

// Repair returns candidate unchanged when it already parses. Otherwise it
// applies the correction transforms in order and re-parses, then falls back
// to the largest parseable {...} substring. ok is false on total failure.
func Repair(candidate string) (repaired string, ok bool) {
	if parses(candidate) {
		return candidate, true
	}

	s := candidate
	for _, transform := range transforms {
		s = transform(s)
	}
	if parses(s) {
		return s, true
	}

	for _, source := range []string{s, candidate} {
		if obj, found := largestObject(source); found {
			return obj, true
		}
	}
	return "", false
}

// Parse sanitizes and repairs raw model output and decodes the result as a
// JSON object. The repaired bytes are returned alongside the decoded value.
func Parse(raw string) (map[string]any, []byte, error) {
	repaired, ok := Repair(Sanitize(raw))
	if !ok {
		return nil, nil, ErrUnrepairable
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}
	return out, []byte(repaired), nil
}

var transforms = []func(string) string{
	insertContainerCommas,
	insertLineCommas,
	stripTrailingCommas,
	quoteKeys,
	normalizeQuotes,
	balance,
}

func insertContainerCommas(s string) string {
	return outsideStrings(s, func(seg string) string {
		return adjacentContainers.ReplaceAllString(seg, "$1,$2$3")
	})
}

func insertLineCommas(s string) string {
	s = adjacentStrings.ReplaceAllString(s, `",$1"`)
	return literalThenString.ReplaceAllString(s, `$1,$2"`)
}

func stripTrailingCommas(s string) string {
	return outsideStrings(s, func(seg string) string {
		return trailingComma.ReplaceAllString(seg, "$1")
	})
}

func quoteKeys(s string) string {
	return untilStable(s, func(in string) string {
		return outsideStrings(in, func(seg string) string {
			return unquotedKey.ReplaceAllString(seg, `$1"$2"$3`)
		})
	})
}

// normalizeQuotes only rewrites single-quoted tokens in structural positions.
// Apostrophes inside those tokens are still lost.
func normalizeQuotes(s string) string {
	return untilStable(s, func(in string) string {
		return outsideStrings(in, func(seg string) string {
			return singleQuoted.ReplaceAllString(seg, `$1"$2"$3`)
		})
	})
}

// outsideStrings applies f to the runs of s between double-quoted string
// literals. Literals, including an unterminated trailing one, are copied
// unchanged.
func outsideStrings(s string, f func(string) string) string {
	var b strings.Builder
	start := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[start : i+1])
				start = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(f(s[start:i]))
			start = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[start:])
	} else {
		b.WriteString(f(s[start:]))
	}
	return b.String()
}

// balance closes an unterminated string and appends the closers missing
// for every unmatched opener, innermost first.
func balance(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return stripTrailingCommas(b.String())
}

// largestObject returns the longest balanced {...} span of s that parses.
func largestObject(s string) (string, bool) {
	var spans []string
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		if end := matchingBrace(s, start); end > start {
			spans = append(spans, s[start:end+1])
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return len(spans[i]) > len(spans[j]) })
	for _, span := range spans {
		if parses(span) {
			return span, true
		}
	}
	return "", false
}

func matchingBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
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
				return i
			}
		}
	}
	return -1
}

func untilStable(s string, f func(string) string) string {
	for i := 0; i < 8; i++ {
		next := f(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func parses(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}
