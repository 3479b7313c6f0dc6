// Package handlers wires the HTTP API to the services behind it.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"agrisense/internal/agronomy"
	"agrisense/internal/errdef"
	"agrisense/internal/market"
	"agrisense/internal/plantdoc"
)

// maxUploadSize bounds disease-detection uploads (10MB).
const maxUploadSize = 10 << 20

// DiseaseDetector runs the detection pipeline (implemented by
// plantdoc.Detector).
type DiseaseDetector interface {
	Detect(ctx context.Context, payload []byte, filename string) (*plantdoc.Diagnosis, error)
}

// Agronomist runs the tabular models (implemented by agronomy.Service).
type Agronomist interface {
	RecommendCrops(ctx context.Context, lat, lon float64, soil agronomy.SoilProfile, soilType string) ([]agronomy.Recommendation, error)
	PredictYield(ctx context.Context, lat, lon float64, soil agronomy.SoilProfile, crop string) (*agronomy.YieldEstimate, error)
	Profit(ctx context.Context, lat, lon float64, soil agronomy.SoilProfile, crop, state, district string) (*agronomy.ProfitReport, error)
}

// PriceLookup answers market price queries (implemented by market.Client).
type PriceLookup interface {
	Prices(ctx context.Context, state, district, crop string, apiNames []string) (*market.Quote, error)
}

// ModelState reports whether a model is loaded (implemented by
// inference.Engine).
type ModelState interface {
	Ready() bool
}

// BackendProbe reports whether the remote fallback backend is reachable
// (implemented by remote.Client).
type BackendProbe interface {
	Healthy(ctx context.Context) bool
}

type Handler struct {
	detector DiseaseDetector
	agro     Agronomist
	prices   PriceLookup
	crops    *agronomy.CropData
	models   map[string]ModelState
	backend  BackendProbe
}

func NewHandler(detector DiseaseDetector, agro Agronomist, prices PriceLookup, crops *agronomy.CropData, models map[string]ModelState, backend BackendProbe) *Handler {
	return &Handler{detector: detector, agro: agro, prices: prices, crops: crops, models: models, backend: backend}
}

// Health reports liveness, per-model readiness and whether the fallback
// backend answers its health probe. Models load lazily, so ready=false
// before first use is normal.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	models := make(map[string]bool, len(h.models))
	for name, m := range h.models {
		models[name] = m.Ready()
	}

	body := map[string]any{
		"status": "healthy",
		"models": models,
	}
	if h.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		body["backend_reachable"] = h.backend.Healthy(ctx)
	}
	writeJSON(w, http.StatusOK, body)
}

// DetectDisease accepts a multipart image upload under the "file" field and
// returns the diagnosis.
func (h *Handler) DetectDisease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to parse multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("no image file provided; use 'file' as the form field name"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read uploaded file"))
		return
	}

	log.Debug().Str("filename", header.Filename).Int64("size", header.Size).Msg("received disease detection upload")

	diagnosis, err := h.detector.Detect(r.Context(), payload, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagnosis)
}

type recommendRequest struct {
	agronomy.SoilProfile
	SoilType string `json:"soil_type"`
}

// RecommendCrop returns the top crop recommendations for the posted soil
// profile and the location given as lat/lon query parameters.
func (h *Handler) RecommendCrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	lat, lon, err := coordinates(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	recs, err := h.agro.RecommendCrops(r.Context(), lat, lon, req.SoilProfile, req.SoilType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type yieldRequest struct {
	agronomy.SoilProfile
	Crop string `json:"crop"`
}

func (h *Handler) PredictYield(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	lat, lon, err := coordinates(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req yieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	estimate, err := h.agro.PredictYield(r.Context(), lat, lon, req.SoilProfile, req.Crop)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// Prices looks up mandi prices for ?state=&district=&crop=.
func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	state := r.URL.Query().Get("state")
	district := r.URL.Query().Get("district")
	crop := r.URL.Query().Get("crop")
	if state == "" || district == "" || crop == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("state, district and crop query parameters are required"))
		return
	}

	quote, err := h.prices.Prices(r.Context(), state, district, crop, h.crops.APINames(crop))
	if err != nil {
		writeError(w, err)
		return
	}
	if quote == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "No market price data found for " + crop + " in " + state + ".",
		})
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// Crops lists the crop reference table.
func (h *Handler) Crops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crops": h.crops.List()})
}

type calculatorRequest struct {
	agronomy.SoilProfile
	Crop     string `json:"crop"`
	State    string `json:"state"`
	District string `json:"district"`
}

func (h *Handler) CalculateProfit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	lat, lon, err := coordinates(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req calculatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	report, err := h.agro.Profit(r.Context(), lat, lon, req.SoilProfile, req.Crop, req.State, req.District)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func coordinates(r *http.Request) (float64, float64, error) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		return 0, 0, &errdef.ValidationError{Field: "lat", Reason: "must be a number"}
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		return 0, 0, &errdef.ValidationError{Field: "lon", Reason: "must be a number"}
	}
	return lat, lon, nil
}

// writeError maps the error taxonomy to HTTP responses. Connectivity
// problems get a generic message; remote service detail is passed through.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *errdef.ValidationError
		decodeErr     *errdef.DecodeError
		unavailable   *errdef.ModelUnavailableError
		remoteErr     *errdef.RemoteServiceError
		networkErr    *errdef.NetworkError
		invalidErr    *errdef.InvalidResponseError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorBody(validationErr.Error()))
	case errors.As(err, &decodeErr):
		writeJSON(w, http.StatusBadRequest, errorBody("uploaded file is not a valid image"))
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("model is not available right now, please retry"))
	case errors.As(err, &remoteErr):
		writeJSON(w, http.StatusBadGateway, errorBody(remoteErr.Error()))
	case errors.As(err, &networkErr):
		writeJSON(w, http.StatusBadGateway, errorBody("could not reach a required remote service, please retry"))
	case errors.As(err, &invalidErr):
		log.Error().Err(err).Msg("remote service returned an unexpected response")
		writeJSON(w, http.StatusBadGateway, errorBody("remote service returned an unexpected response"))
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
