package agronomy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"agrisense/internal/errdef"
	"agrisense/internal/inference"
	"agrisense/internal/market"
	"agrisense/internal/weather"
)

// SoilProfile is the farmer-entered soil chemistry plus the growing season.
type SoilProfile struct {
	Nitrogen   float64 `json:"nitrogen"`
	Phosphorus float64 `json:"phosphorus"`
	Potassium  float64 `json:"potassium"`
	PH         float64 `json:"ph"`
	Season     string  `json:"season"`
}

func (p SoilProfile) validate() error {
	if p.PH < 0 || p.PH > 14 {
		return &errdef.ValidationError{Field: "ph", Reason: "must be between 0 and 14"}
	}
	if p.Nitrogen < 0 || p.Phosphorus < 0 || p.Potassium < 0 {
		return &errdef.ValidationError{Field: "soil nutrients", Reason: "must not be negative"}
	}
	if p.Season == "" {
		return &errdef.ValidationError{Field: "season", Reason: "is required"}
	}
	return nil
}

// PriceSource answers market price lookups (implemented by market.Client).
type PriceSource interface {
	Prices(ctx context.Context, state, district, crop string, apiNames []string) (*market.Quote, error)
}

// Service runs the tabular models.
type Service struct {
	cropEngine     *inference.Engine
	yieldEngine    *inference.Engine
	cropArtifacts  *Artifacts
	yieldArtifacts *Artifacts
	weather        weather.Provider
	crops          *CropData
	prices         PriceSource
}

func NewService(
	cropEngine, yieldEngine *inference.Engine,
	cropArtifacts, yieldArtifacts *Artifacts,
	wx weather.Provider,
	crops *CropData,
	prices PriceSource,
) *Service {
	return &Service{
		cropEngine:     cropEngine,
		yieldEngine:    yieldEngine,
		cropArtifacts:  cropArtifacts,
		yieldArtifacts: yieldArtifacts,
		weather:        wx,
		crops:          crops,
		prices:         prices,
	}
}

// Recommendation is one recommended crop with the model's confidence.
type Recommendation struct {
	Crop       string  `json:"crop"`
	Confidence float64 `json:"confidence"`
}

// RecommendCrops returns the top-3 crops for the soil, soil type and the
// seasonal weather at (lat, lon).
func (s *Service) RecommendCrops(ctx context.Context, lat, lon float64, soil SoilProfile, soilType string) ([]Recommendation, error) {
	if err := soil.validate(); err != nil {
		return nil, err
	}

	features, err := s.encode(ctx, lat, lon, soil, s.cropArtifacts, soilType)
	if err != nil {
		return nil, err
	}

	probs, err := s.cropEngine.Run(ctx, features)
	if err != nil {
		return nil, err
	}
	classes, err := s.cropEngine.Classes(ctx)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(classes) {
		return nil, fmt.Errorf("crop model produced %d probabilities for %d classes", len(probs), len(classes))
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	top := 3
	if top > len(order) {
		top = len(order)
	}
	recs := make([]Recommendation, 0, top)
	for _, idx := range order[:top] {
		recs = append(recs, Recommendation{
			Crop:       classes[idx],
			Confidence: round(float64(probs[idx]), 4),
		})
	}
	return recs, nil
}

// YieldEstimate is the yield model's answer plus the weather features used.
type YieldEstimate struct {
	Crop           string           `json:"predicted_crop"`
	TonsPerHectare float64          `json:"estimated_yield_tons_per_hectare"`
	Weather        weather.Averages `json:"weather_data_used"`
}

// PredictYield estimates tons/hectare for crop under the given soil and
// seasonal weather.
func (s *Service) PredictYield(ctx context.Context, lat, lon float64, soil SoilProfile, crop string) (*YieldEstimate, error) {
	if err := soil.validate(); err != nil {
		return nil, err
	}
	if crop == "" {
		return nil, &errdef.ValidationError{Field: "crop", Reason: "is required"}
	}

	wx, err := s.weather.SeasonalAverages(ctx, lat, lon, soil.Season)
	if err != nil {
		return nil, err
	}

	features, err := s.yieldArtifacts.Encode(numericalFeatures(soil, wx), crop)
	if err != nil {
		return nil, err
	}

	out, err := s.yieldEngine.Run(ctx, features)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("yield model produced empty output")
	}

	return &YieldEstimate{
		Crop:           crop,
		TonsPerHectare: round(float64(out[0]), 2),
		Weather:        wx,
	}, nil
}

// ProfitReport combines predicted yield, market price and per-crop cost and
// sustainability reference data.
type ProfitReport struct {
	Crop                string   `json:"crop"`
	YieldTonsPerHectare float64  `json:"predicted_yield_tons_per_hectare"`
	AvgPricePerQuintal  *float64 `json:"avg_market_price_per_quintal,omitempty"`
	RevenuePerHectare   *float64 `json:"estimated_total_revenue_per_hectare,omitempty"`
	CostPerHectare      *float64 `json:"estimated_input_cost_per_hectare,omitempty"`
	NetProfitPerHectare *float64 `json:"estimated_net_profit_per_hectare,omitempty"`
	SustainabilityScore *float64 `json:"sustainability_score_out_of_10,omitempty"`
	PriceDataSource     string   `json:"priceDataSource,omitempty"`
	Message             string   `json:"message,omitempty"`
}

// The economic fields are pointers so the no-price branch omits them while a
// legitimate zero (break-even profit, score of 0.0) still serializes.
func f64(v float64) *float64 { return &v }

// Profit predicts yield, fetches the market price and computes per-hectare
// economics. When no price data exists the report carries the yield estimate
// and a message instead of failing.
func (s *Service) Profit(ctx context.Context, lat, lon float64, soil SoilProfile, crop, state, district string) (*ProfitReport, error) {
	estimate, err := s.PredictYield(ctx, lat, lon, soil, crop)
	if err != nil {
		return nil, err
	}

	quote, err := s.prices.Prices(ctx, state, district, crop, s.crops.APINames(crop))
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return &ProfitReport{
			Crop:                crop,
			YieldTonsPerHectare: estimate.TonsPerHectare,
			Message:             fmt.Sprintf("No market price data found for %s in %s.", crop, state),
		}, nil
	}

	info := s.crops.Lookup(crop)
	avgPrice := (float64(quote.MinPrice) + float64(quote.MaxPrice)) / 2

	// Yield is tons/ha, prices are per quintal (100 kg), hence ×10.
	revenue := estimate.TonsPerHectare * 10 * avgPrice
	profit := revenue - info.CostPerHectare

	return &ProfitReport{
		Crop:                crop,
		YieldTonsPerHectare: estimate.TonsPerHectare,
		AvgPricePerQuintal:  f64(avgPrice),
		RevenuePerHectare:   f64(math.Round(revenue)),
		CostPerHectare:      f64(info.CostPerHectare),
		NetProfitPerHectare: f64(math.Round(profit)),
		SustainabilityScore: f64(SustainabilityScore(info.Sustainability)),
		PriceDataSource:     quote.Source,
	}, nil
}

// SustainabilityScore converts 1–10 impact ratings (higher is worse) into a
// 0–10 score (higher is better), weighting water and pesticide impact over
// soil health.
func SustainabilityScore(r SustainabilityRatings) float64 {
	water := (10 - r.WaterUsage) * 0.4
	pesticide := (10 - r.Pesticide) * 0.4
	soil := (10 - r.SoilHealth) * 0.2
	return round(water+pesticide+soil, 1)
}

func (s *Service) encode(ctx context.Context, lat, lon float64, soil SoilProfile, artifacts *Artifacts, category string) ([]float32, error) {
	wx, err := s.weather.SeasonalAverages(ctx, lat, lon, soil.Season)
	if err != nil {
		return nil, err
	}
	return artifacts.Encode(numericalFeatures(soil, wx), category)
}

// numericalFeatures orders the numerical columns the way the models were
// trained: N, P, K, temperature, humidity, ph, rainfall.
func numericalFeatures(soil SoilProfile, wx weather.Averages) []float64 {
	return []float64{
		soil.Nitrogen, soil.Phosphorus, soil.Potassium,
		wx.Temperature, wx.Humidity,
		soil.PH,
		wx.Rainfall,
	}
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
