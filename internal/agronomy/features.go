package agronomy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"agrisense/internal/errdef"
)

// Scaler standardizes numerical features with the training-time mean and
// scale vectors exported alongside the model.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) Transform(vals []float64) ([]float32, error) {
	if len(vals) != len(s.Mean) || len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d values, got %d", len(s.Mean), len(vals))
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		if s.Scale[i] == 0 {
			return nil, fmt.Errorf("scaler has zero scale at feature %d", i)
		}
		out[i] = float32((v - s.Mean[i]) / s.Scale[i])
	}
	return out, nil
}

// Artifacts bundles the preprocessing state for one tabular model: the
// numerical scaler and the one-hot category list, in training order.
type Artifacts struct {
	Scaler     Scaler   `json:"scaler"`
	Categories []string `json:"categories"`
}

func LoadArtifacts(path string) (*Artifacts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifacts: %w", err)
	}
	var a Artifacts
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifacts: %w", err)
	}
	if len(a.Scaler.Mean) == 0 || len(a.Scaler.Mean) != len(a.Scaler.Scale) {
		return nil, fmt.Errorf("model artifacts have inconsistent scaler vectors")
	}
	return &a, nil
}

// Encode builds the model input: scaled numericals followed by the one-hot
// block, matching the training-time column order.
func (a *Artifacts) Encode(numericals []float64, category string) ([]float32, error) {
	scaled, err := a.Scaler.Transform(numericals)
	if err != nil {
		return nil, err
	}

	oneHot := make([]float32, len(a.Categories))
	found := false
	for i, c := range a.Categories {
		if strings.EqualFold(c, category) {
			oneHot[i] = 1
			found = true
			break
		}
	}
	if !found {
		return nil, &errdef.ValidationError{
			Field:  "category",
			Reason: fmt.Sprintf("%q is not one of %s", category, strings.Join(a.Categories, ", ")),
		}
	}

	return append(scaled, oneHot...), nil
}
