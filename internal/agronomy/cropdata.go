// Package agronomy implements crop recommendation, yield prediction and the
// profit/sustainability calculator over the tabular ONNX models.
package agronomy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// SustainabilityRatings are 1–10 impact ratings, higher meaning worse.
type SustainabilityRatings struct {
	WaterUsage float64 `json:"water_usage_rating"`
	Pesticide  float64 `json:"pesticide_rating"`
	SoilHealth float64 `json:"soil_health_impact"`
}

// CropInfo is the static per-crop reference record.
type CropInfo struct {
	APINames       []string              `json:"api_names"`
	CostPerHectare float64               `json:"estimated_cost_per_hectare"`
	YieldRange     []float64             `json:"yield_tons_per_hectare_range"`
	Sustainability SustainabilityRatings `json:"sustainability"`
}

//go:embed crop_data.json
var cropDataJSON []byte

// CropData is the reference table keyed by lowercase crop name, with a
// "Default" entry for crops the table does not document.
type CropData struct {
	crops map[string]CropInfo
}

func LoadCropData() (*CropData, error) {
	crops := make(map[string]CropInfo)
	if err := json.Unmarshal(cropDataJSON, &crops); err != nil {
		return nil, fmt.Errorf("failed to parse crop data: %w", err)
	}
	if _, ok := crops["Default"]; !ok {
		return nil, fmt.Errorf("crop data is missing the Default entry")
	}
	return &CropData{crops: crops}, nil
}

// Lookup returns the record for crop, falling back to Default.
func (c *CropData) Lookup(crop string) CropInfo {
	if info, ok := c.crops[strings.ToLower(crop)]; ok {
		return info
	}
	return c.crops["Default"]
}

// APINames returns the government-feed commodity names for crop, or the crop
// itself when undocumented.
func (c *CropData) APINames(crop string) []string {
	if info, ok := c.crops[strings.ToLower(crop)]; ok && len(info.APINames) > 0 {
		return info.APINames
	}
	return []string{crop}
}

// CropSummary is one row of the crop listing endpoint.
type CropSummary struct {
	Value          string                `json:"value"`
	Label          string                `json:"label"`
	APINames       []string              `json:"api_names"`
	CostPerHectare float64               `json:"cost_per_hectare"`
	YieldRange     []float64             `json:"yield_range"`
	Sustainability SustainabilityRatings `json:"sustainability"`
}

// List enumerates documented crops sorted by label, excluding Default.
func (c *CropData) List() []CropSummary {
	out := make([]CropSummary, 0, len(c.crops))
	for key, info := range c.crops {
		if key == "Default" {
			continue
		}
		out = append(out, CropSummary{
			Value:          key,
			Label:          titleCase(strings.ReplaceAll(key, "_", " ")),
			APINames:       info.APINames,
			CostPerHectare: info.CostPerHectare,
			YieldRange:     info.YieldRange,
			Sustainability: info.Sustainability,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
