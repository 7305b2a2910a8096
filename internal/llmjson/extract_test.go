package llmjson

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestParse_FencedSingleQuotes(t *testing.T) {
	logger, _ := captureLogger()

	out, outcome := Parse(logger, "```json\n[{'a': 1}]\n```")

	assert.Equal(t, `[{"a": 1}]`, out)
	assert.Equal(t, OutcomeRepaired, outcome)
}

func TestParse_EmptyInputWarns(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		logger, logs := captureLogger()

		out, outcome := Parse(logger, in)

		assert.Equal(t, "[]", out)
		assert.Equal(t, OutcomeEmpty, outcome)
		assert.Contains(t, logs.String(), "level=WARN")
	}
}

func TestParse_Cases(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		outcome Outcome
	}{
		{"plain array", `[{"kappa_flc":"1.35 mg/dL","lambda_flc":"0.9 mg/dL"}]`,
			`[{"kappa_flc": "1.35 mg/dL", "lambda_flc": "0.9 mg/dL"}]`, OutcomeStrict},
		{"untagged fence", "Here you go:\n```\n{\"a\": [1, 2.50, null, true]}\n```\nThanks",
			`{"a": [1, 2.50, null, true]}`, OutcomeStrict},
		{"first fence wins", "```json\n[1]\n``` and ```json\n[2]\n```", `[1]`, OutcomeStrict},
		{"stray json tag", "json\n[{\"a\": false}]", `[{"a": false}]`, OutcomeStrict},
		{"tag inside fence body", "```\njson [3]```", `[3]`, OutcomeStrict},
		{"key order kept", `{"z": 1, "a": 2, "m": {"y": 3, "b": 4}}`,
			`{"z": 1, "a": 2, "m": {"y": 3, "b": 4}}`, OutcomeStrict},
		{"empty containers", `{"a": [], "b": {}}`, `{"a": [], "b": {}}`, OutcomeStrict},
		{"non ascii escaped", `["λ 0.9 mg/dL", "😀"]`, `["\u03bb 0.9 mg/dL", "\ud83d\ude00"]`, OutcomeStrict},
		{"control and delete escaped", "[\"a\\u0001b\u007fc\"]", `["a\u0001b\u007fc"]`, OutcomeStrict},
		{"html not escaped", `["<0.15 & >2"]`, `["<0.15 & >2"]`, OutcomeStrict},
		{"python style dict", `{'kappa_flc': '<0.15 mg/dL', 'ratio': 3}`,
			`{"kappa_flc": "<0.15 mg/dL", "ratio": 3}`, OutcomeRepaired},
		{"scalar", `42`, `42`, OutcomeStrict},
		{"garbage", "I could not find any lab values.", `[]`, OutcomeFailed},
		{"trailing comma", `[1, 2,]`, `[]`, OutcomeFailed},
		{"two values", `[1] [2]`, `[]`, OutcomeFailed},
		{"apostrophe breaks repair", `[{"note": "patient's kappa"}, {'a': 1}]`, `[]`, OutcomeFailed},
		{"unterminated fence", "```json\n[1, 2]", `[]`, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := captureLogger()
			out, outcome := Parse(logger, tt.in)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}

func TestParse_FailureLogsError(t *testing.T) {
	logger, logs := captureLogger()

	Parse(logger, "{not json at all")

	assert.Contains(t, logs.String(), "level=ERROR")
}

// TestExtract_Totality checks every output parses as JSON.
func TestExtract_Totality(t *testing.T) {
	inputs := []string{
		"", " ", "```", "``````", "```json```", "json", "json ", "[", "]", "{'", "'''",
		"null", "\"str\"", "```json\n{'a': 'it''s'}\n```", strings.Repeat("{", 50),
		"\x00\x01\x02", "```json\n[\"\xff\xfe\"]\n```", "{\"a\": NaN}", "[1e400]",
	}

	for _, in := range inputs {
		out := Extract(in)
		assert.True(t, json.Valid([]byte(out)), "input %q produced invalid JSON %q", in, out)
	}
}

// TestExtract_Idempotent checks extracting canonical output returns it unchanged.
func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"```json\n[{'a': 1}]\n```",
		`[{"title": "note-1", "kappa_flc": "1.35 mg/dL", "evidence_sentences": ["Kappa 1.35", "λ 0.9"]}]`,
		"```\n{\"nested\": {\"list\": [1, 2, {\"x\": null}]}}\n```",
		"json {\"a\": \"tab\\tquote\\\" slash\\\\\"}",
		"   [ 1 ,2 ,  3 ]   ",
	}

	for _, in := range inputs {
		once := Extract(in)
		twice := Extract(once)
		require.Equal(t, once, twice, "input %q", in)

		// Canonical output decodes to the same value as the first parse
		var a, b any
		require.NoError(t, json.Unmarshal([]byte(once), &a))
		require.NoError(t, json.Unmarshal([]byte(twice), &b))
		assert.Equal(t, a, b)
	}
}

func TestOutcome_Recovered(t *testing.T) {
	assert.True(t, OutcomeStrict.Recovered())
	assert.True(t, OutcomeRepaired.Recovered())
	assert.False(t, OutcomeEmpty.Recovered())
	assert.False(t, OutcomeFailed.Recovered())
	assert.Equal(t, "repaired", OutcomeRepaired.String())
}
