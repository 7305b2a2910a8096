package extraction

import (
	"encoding/json"
	"fmt"
)

// contextNote is one entry of the extraction prompt's context array.
type contextNote struct {
	NoteID  int    `json:"note_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

const extractionPrompt = `You are a medical information extraction assistant. Your task is to extract lab results from clinical notes.

Extract the following values only from the given document context, and skip the document entirely if:
- You are unsure where the values come from.
- The values appear to be duplicated from a different unrelated document.
- The document contains no lab results.

Extract these fields only if they are clearly present in the current context:
- Kappa free light chains (numeric value and unit, e.g. 1.35 mg/dL, <0.15 mg/dL)
- Lambda free light chains (numeric value and unit)
- Kappa/Lambda ratio (numeric ratio, may include < or > symbols)
- Lab test date (clearly stated; format partial dates as YYYY-MM-XX or YYYY-XX-XX)
- Supporting evidence sentences (must contain the values above or be logically linked to them)

Constraints:
- Do NOT hallucinate values or infer them from vague summaries.
- Do NOT use values that are not clearly tied to this document.
- Do NOT include diagnosis phrases like "monoclonal kappa detected" unless a numeric value is stated.
- The context may contain overlapping content between notes. Extract a repeated value only once.
- If no lab values are explicitly present with units, return [].

Respond in strict JSON format like this:
[
  {
    "kappa_flc": "...",
    "lambda_flc": "...",
    "kappa_lambda_ratio": "...",
    "date_of_lab": "...",
    "evidence_sentences": ["...", "..."]
  }
]

--- Context:
%s
`

const validationPrompt = `You are a clinical validation assistant.

Given a list of extracted records, validate each one by checking that every field ("kappa_flc",
"lambda_flc", "kappa_lambda_ratio" and "date_of_lab") is clearly and exactly supported by the record's
evidence sentences. If a field is not clearly present or verifiable, discard that record.

Return ONLY the valid records in the following strict JSON format:

[
  {
    "title": "<EXACTLY MATCH THE TITLE FIELD FROM THE INPUT>",
    "source_document": "<EXACTLY MATCH THE SOURCE_DOCUMENT FIELD FROM THE INPUT>",
    "kappa_flc": "...",
    "lambda_flc": "...",
    "kappa_lambda_ratio": "...",
    "date_of_lab": "...",
    "evidence_sentences_for_lab_values": ["..."],
    "evidence_sentences_for_lab_date": ["..."]
  }
]

Here is the data:
%s
`

// buildExtractionPrompt renders the extraction prompt for one document's notes.
func buildExtractionPrompt(title string, contents []string) (string, error) {
	notes := make([]contextNote, len(contents))
	for i, content := range contents {
		notes[i] = contextNote{NoteID: i + 1, Title: title, Content: content}
	}
	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return fmt.Sprintf(extractionPrompt, data), nil
}

// buildValidationPrompt renders the validation prompt for a batch of records.
func buildValidationPrompt(records []Record) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return fmt.Sprintf(validationPrompt, data), nil
}
