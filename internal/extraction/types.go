// Package extraction retrieves free light chain notes from the index, asks the
// generative model to extract lab values, validates them with a second model
// pass, and exports the surviving records.
package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Note is one retrieved, deduplicated chunk of a clinical note.
type Note struct {
	Title   string
	Content string
}

// LabValue is a lab field as the model reports it. The model may answer with a
// string ("1.35 mg/dL"), a bare number or null; numbers keep their literal text.
type LabValue string

// UnmarshalJSON accepts a string, a number or null.
func (v *LabValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = LabValue(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("lab value must be a string, number or null: %s", data)
		}
		*v = LabValue(n.String())
		return nil
	}
}

// MarshalJSON writes an absent value as null.
func (v LabValue) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// Present reports whether the model reported a value.
func (v LabValue) Present() bool {
	s := strings.ToLower(strings.TrimSpace(string(v)))
	return s != "" && s != "..." && s != "n/a" && s != "null"
}

// Evidence is a list of supporting sentences. A single string is accepted as
// a one-sentence list.
type Evidence []string

// UnmarshalJSON accepts a string, a list of strings or null.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*e = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*e = Evidence{s}
		} else {
			*e = nil
		}
		return nil
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("evidence must be a string or a list of strings: %w", err)
		}
		*e = list
		return nil
	}
}

// Record is one extracted set of free light chain lab values.
type Record struct {
	Title                string   `json:"title,omitempty"`
	SourceDocument       string   `json:"source_document"`
	KappaFLC             LabValue `json:"kappa_flc"`
	LambdaFLC            LabValue `json:"lambda_flc"`
	KappaLambdaRatio     LabValue `json:"kappa_lambda_ratio"`
	DateOfLab            LabValue `json:"date_of_lab"`
	EvidenceSentences    Evidence `json:"evidence_sentences,omitempty"`
	EvidenceForLabValues Evidence `json:"evidence_sentences_for_lab_values,omitempty"`
	EvidenceForLabDate   Evidence `json:"evidence_sentences_for_lab_date,omitempty"`
}

// Valid reports whether at least one of kappa, lambda or ratio is present.
func (r Record) Valid() bool {
	return r.KappaFLC.Present() || r.LambdaFLC.Present() || r.KappaLambdaRatio.Present()
}

// Evidence returns the sentences supporting the lab values, falling back to
// the per-field evidence lists the validation pass produces.
func (r Record) Evidence() []string {
	if len(r.EvidenceSentences) > 0 {
		return r.EvidenceSentences
	}
	out := make([]string, 0, len(r.EvidenceForLabValues)+len(r.EvidenceForLabDate))
	out = append(out, r.EvidenceForLabValues...)
	out = append(out, r.EvidenceForLabDate...)
	return out
}

// dedupeKey identifies a record by its lab values.
type dedupeKey struct {
	kappa, lambda, ratio string
}

func (r Record) key() dedupeKey {
	return dedupeKey{
		kappa:  strings.TrimSpace(string(r.KappaFLC)),
		lambda: strings.TrimSpace(string(r.LambdaFLC)),
		ratio:  strings.TrimSpace(string(r.KappaLambdaRatio)),
	}
}
