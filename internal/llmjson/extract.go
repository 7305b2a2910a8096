// Package llmjson recovers JSON from generative model output and provides the
// text normalization helpers used when matching lab terms.
package llmjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// EmptyArray is returned whenever no JSON value can be recovered.
const EmptyArray = "[]"

// Outcome records which attempt produced the result of Parse.
type Outcome int

const (
	// OutcomeStrict means the candidate text parsed as-is.
	OutcomeStrict Outcome = iota
	// OutcomeRepaired means the candidate parsed after quote substitution.
	OutcomeRepaired
	// OutcomeEmpty means the input was blank and EmptyArray was returned.
	OutcomeEmpty
	// OutcomeFailed means nothing parsed and EmptyArray was returned.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStrict:
		return "strict"
	case OutcomeRepaired:
		return "repaired"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Recovered reports whether the outcome carries model data rather than a fallback.
func (o Outcome) Recovered() bool {
	return o == OutcomeStrict || o == OutcomeRepaired
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract returns normalized JSON text recovered from raw, or EmptyArray.
// It never fails; diagnostics go to the default slog logger.
func Extract(raw string) string {
	out, _ := Parse(slog.Default(), raw)
	return out
}

// Parse recovers a JSON value from raw model output. Attempts, first success wins:
// blank input yields EmptyArray; the first ``` fenced block (optionally tagged
// json) replaces the text; a leading bare "json" tag is dropped; the candidate is
// parsed strictly; failing that, every single quote becomes a double quote and
// the candidate is parsed again; failing that, EmptyArray.
//
// Successful results are re-serialized canonically: key order and number
// literals are kept, separators are ", " and ": ", non-ASCII is \u-escaped.
func Parse(logger *slog.Logger, raw string) (string, Outcome) {
	if logger == nil {
		logger = slog.Default()
	}

	if strings.TrimSpace(raw) == "" {
		logger.Warn("Empty LLM response, using empty array")
		return EmptyArray, OutcomeEmpty
	}

	candidate := candidateText(raw)

	out, err := canonicalize(candidate)
	if err == nil {
		return out, OutcomeStrict
	}
	logger.Warn("JSON decode error, retrying with quote repair", "error", err)

	out, err = canonicalize(strings.ReplaceAll(candidate, "'", `"`))
	if err == nil {
		return out, OutcomeRepaired
	}
	logger.Error("JSON repair failed, using empty array", "error", err, "length", len(raw))
	return EmptyArray, OutcomeFailed
}

// candidateText applies the fence and language-tag stripping steps.
func candidateText(raw string) string {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(text, "json") {
		text = strings.TrimSpace(text[len("json"):])
	}
	return text
}

// canonicalize strictly parses exactly one JSON value from text and writes it
// back out in canonical form.
func canonicalize(text string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := writeValue(&buf, dec); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return "", err
	}
	return buf.String(), nil
}

func writeValue(buf *bytes.Buffer, dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '[':
			return writeArray(buf, dec)
		case '{':
			return writeObject(buf, dec)
		}
		return fmt.Errorf("unexpected delimiter %q", v)
	case string:
		writeString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %T", tok)
	}
	return nil
}

func writeArray(buf *bytes.Buffer, dec *json.Decoder) error {
	buf.WriteByte('[')
	for i := 0; dec.More(); i++ {
		if i > 0 {
			buf.WriteString(", ")
		}
		if err := writeValue(buf, dec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil { // closing ]
		return err
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, dec *json.Decoder) error {
	buf.WriteByte('{')
	for i := 0; dec.More(); i++ {
		if i > 0 {
			buf.WriteString(", ")
		}
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T, not string", tok)
		}
		writeString(buf, key)
		buf.WriteString(": ")
		if err := writeValue(buf, dec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil { // closing }
		return err
	}
	buf.WriteByte('}')
	return nil
}

const hexDigits = "0123456789abcdef"

// writeString writes s as an ASCII-only JSON string literal.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r < 0x20 || (r > 0x7e && r < utf8.RuneSelf):
			writeEscape(buf, r)
		case r < utf8.RuneSelf:
			buf.WriteRune(r)
		case r > 0xffff:
			r -= 0x10000
			writeEscape(buf, 0xd800+(r>>10))
			writeEscape(buf, 0xdc00+(r&0x3ff))
		default:
			writeEscape(buf, r)
		}
	}
	buf.WriteByte('"')
}

func writeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	for shift := 12; shift >= 0; shift -= 4 {
		buf.WriteByte(hexDigits[(r>>shift)&0xf])
	}
}
