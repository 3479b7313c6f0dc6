// Package plantdoc diagnoses plant diseases from photos: it runs the local
// classifier, falls back to the remote detection service when the model is
// unavailable, and maps class keys to treatment guidance.
package plantdoc

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

// Severity grades how urgent a disease is.
type Severity string

const (
	SeverityNone     Severity = "None"
	SeverityModerate Severity = "Moderate"
	SeverityHigh     Severity = "High"
	SeverityVeryHigh Severity = "VeryHigh"
)

// Treatment is the static reference record for one (crop, condition) pair.
type Treatment struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Treatment   []string `json:"treatment"`
	Prevention  []string `json:"prevention"`
	Severity    Severity `json:"severity"`
	Cause       string   `json:"cause"`
}

//go:embed treatments.json
var treatmentsJSON []byte

// Library is the treatment reference table, keyed by canonical class label
// ("Crop___Condition_words").
type Library struct {
	records map[string]Treatment
}

// NewLibrary parses the embedded reference table.
func NewLibrary() (*Library, error) {
	records := make(map[string]Treatment)
	if err := json.Unmarshal(treatmentsJSON, &records); err != nil {
		return nil, fmt.Errorf("failed to parse treatment table: %w", err)
	}
	return &Library{records: records}, nil
}

// Resolve looks up rawKey, first verbatim, then in canonical form. Returns
// nil for keys with no record; callers treat that as "unknown disease"
// without distinguishing unrecognized from undocumented.
func (l *Library) Resolve(rawKey string) *Treatment {
	if t, ok := l.records[rawKey]; ok {
		return &t
	}
	if t, ok := l.records[Canonicalize(rawKey)]; ok {
		return &t
	}
	return nil
}

// Canonicalize rewrites a space-separated class key into the table's
// separator convention: triple underscore after the first token, single
// underscores thereafter ("Apple Apple scab" → "Apple___Apple_scab").
//
// Upstream label sources disagree about separators; this is deliberately a
// narrow rewrite, not a fuzzy matcher. Keys it cannot rewrite pass through
// unchanged.
func Canonicalize(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return raw
	}
	return fields[0] + "___" + strings.Join(fields[1:], "_")
}

// Len reports the number of documented records.
func (l *Library) Len() int { return len(l.records) }
