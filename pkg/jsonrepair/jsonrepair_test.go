package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"clean", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```  ", `{"a":1}`},
		{"leading prose", "Here is the analysis you asked for:\n{\"a\":1}", `{"a":1}`},
		{"trailing prose", "{\"a\":1}\nLet me know if you need more.", `{"a":1}`},
		{"surrounding whitespace", "  \n\t{\"a\":{\"b\":2}}\n ", `{"a":{"b":2}}`},
		{"truncated", "Sure: {\"a\": [1, 2", `{"a": [1, 2`},
		{"no object", "I cannot comply.", "I cannot comply."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitizeThenParse(t *testing.T) {
	inputs := []string{
		"```json\n{\"risk\": 42, \"ok\": true}\n```",
		"The contract looks fine overall. {\"risk\": 42, \"ok\": true}",
		`{"risk": 42, "ok": true}`,
	}
	for _, raw := range inputs {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(Sanitize(raw)), &v), raw)
		assert.Equal(t, float64(42), v["risk"])
	}
}

func TestRepairValidIsUnchanged(t *testing.T) {
	valid := []string{
		`{"a":1}`,
		"{\n  \"name\": \"it's fine, really: yes\",\n  \"list\": [1, 2, 3]\n}",
		`{"nested":{"x":[{"y":null}]}}`,
	}
	for _, in := range valid {
		out, ok := Repair(in)
		require.True(t, ok)
		assert.Equal(t, in, out)
	}
}

func TestRepairTransforms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "adjacent objects",
			in:   `[{"a":1}{"b":2}]`,
			want: `[{"a":1},{"b":2}]`,
		},
		{
			name: "adjacent arrays",
			in:   `[[1] [2]]`,
			want: `[[1], [2]]`,
		},
		{
			name: "missing commas between lines",
			in:   "{\n\"a\": \"x\"\n\"b\": true\n\"c\": 3\n}",
			want: "{\n\"a\": \"x\",\n\"b\": true,\n\"c\": 3\n}",
		},
		{
			name: "trailing commas",
			in:   `{"a": [1, 2,], }`,
			want: `{"a": [1, 2] }`,
		},
		{
			name: "unquoted keys",
			in:   `{name: "x", risk_score: 3}`,
			want: `{"name": "x", "risk_score": 3}`,
		},
		{
			name: "single quotes",
			in:   `{'name': 'Acme', 'tags': ['a', 'b']}`,
			want: `{"name": "Acme", "tags": ["a", "b"]}`,
		},
		{
			name: "unbalanced closers",
			in:   `{"a": {"b": [1, 2`,
			want: `{"a": {"b": [1, 2]}}`,
		},
		{
			name: "unterminated string",
			in:   `{"summary": "the contract is`,
			want: `{"summary": "the contract is"}`,
		},
		{
			name: "truncated after comma",
			in:   `{"a": [1, 2,`,
			want: `{"a": [1, 2]}`,
		},
		{
			name: "colon phrase inside value with trailing comma",
			in:   `{"summary": "Pay on time, note: late fees apply", "score": 40,}`,
			want: `{"summary": "Pay on time, note: late fees apply", "score": 40}`,
		},
		{
			name: "colon phrase inside value with missing comma",
			in:   "{\"a\": \"x\"\n\"b\": \"Section 4, Termination: 30 days\"}",
			want: "{\"a\": \"x\",\n\"b\": \"Section 4, Termination: 30 days\"}",
		},
		{
			name: "structural text inside values",
			in:   `{"a": "see [1] [2], {x}{y} and 'it', ]", b: 2,}`,
			want: `{"a": "see [1] [2], {x}{y} and 'it', ]", "b": 2}`,
		},
		{
			name: "escaped quote inside value",
			in:   `{"a": "he said \"ok, go: now\"", b: 1}`,
			want: `{"a": "he said \"ok, go: now\"", "b": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := Repair(tt.in)
			require.True(t, ok, "expected %q to be repairable", tt.in)
			assert.Equal(t, tt.want, out)
			assert.True(t, json.Valid([]byte(out)))
		})
	}
}

func TestRepairLargestObject(t *testing.T) {
	in := `{"a":1} and then {"b": {"c": 2}} oops {broken`
	out, ok := Repair(in)
	require.True(t, ok)
	assert.Equal(t, `{"b": {"c": 2}}`, out)
}

func TestRepairFailure(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"a" "b" "c"}`} {
		out, ok := Repair(in)
		assert.False(t, ok, in)
		assert.Empty(t, out)
	}
}

func TestParse(t *testing.T) {
	m, repaired, err := Parse("```json\n{\"a\":1,}\n```")
	require.NoError(t, err)
	assert.Equal(t, float64(1), m["a"])
	assert.Equal(t, `{"a":1}`, string(repaired))

	_, _, err = Parse("I am unable to help with that.")
	assert.True(t, errors.Is(err, ErrUnrepairable))
}

func TestParseRejectsNonObject(t *testing.T) {
	_, _, err := Parse(`[1, 2, 3]`)
	assert.True(t, errors.Is(err, ErrUnrepairable))
}

func TestOutsideStrings(t *testing.T) {
	upper := func(s string) string { return strings.ToUpper(s) }
	assert.Equal(t, `{A: "b: c", D: "e\"f"}`, outsideStrings(`{a: "b: c", d: "e\"f"}`, upper))
	assert.Equal(t, `X: "open, y:`, outsideStrings(`x: "open, y:`, upper))
}
