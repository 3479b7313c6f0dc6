package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"agrisense/internal/agronomy"
	"agrisense/internal/cache"
	"agrisense/internal/config"
	"agrisense/internal/handlers"
	"agrisense/internal/imaging"
	"agrisense/internal/inference"
	"agrisense/internal/market"
	"agrisense/internal/plantdoc"
	"agrisense/internal/remote"
	"agrisense/internal/weather"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := cache.Open(cfg.CachePath, cfg.CacheMaxEntries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open result cache")
	}
	defer store.Close()

	library, err := plantdoc.NewLibrary()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load treatment library")
	}

	crops, err := agronomy.LoadCropData()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load crop data")
	}

	// Models load lazily on first use; a missing file surfaces as
	// ModelUnavailable on the first request, not at startup.
	diseaseEngine := inference.NewEngine("disease", inference.ORTLoader(inference.ORTConfig{
		ModelPath:      filepath.Join(cfg.ModelDir, "disease_detector.onnx"),
		ClassIndexPath: filepath.Join(cfg.ModelDir, "class_indices.json"),
		InputShape:     []int64{1, imaging.Side, imaging.Side, imaging.Channels},
		OutputShape:    []int64{1, 38},
	}))
	defer diseaseEngine.Close()

	cropEngine := inference.NewEngine("crop", inference.ORTLoader(inference.ORTConfig{
		ModelPath:      filepath.Join(cfg.ModelDir, "crop_recommender.onnx"),
		ClassIndexPath: filepath.Join(cfg.ModelDir, "crop_class_indices.json"),
		InputShape:     []int64{1, 12},
		OutputShape:    []int64{1, 22},
	}))
	defer cropEngine.Close()

	yieldEngine := inference.NewEngine("yield", inference.ORTLoader(inference.ORTConfig{
		ModelPath:   filepath.Join(cfg.ModelDir, "yield_predictor.onnx"),
		InputShape:  []int64{1, 29},
		OutputShape: []int64{1, 1},
	}))
	defer yieldEngine.Close()

	cropArtifacts, err := agronomy.LoadArtifacts(filepath.Join(cfg.ModelDir, "crop_artifacts.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load crop model artifacts")
	}
	yieldArtifacts, err := agronomy.LoadArtifacts(filepath.Join(cfg.ModelDir, "yield_artifacts.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load yield model artifacts")
	}

	fallback := remote.NewClient(remote.ClientOpts{
		BaseURL: cfg.RemoteAPIURL,
		Timeout: cfg.RemoteTimeout,
	})
	detector := plantdoc.NewDetector(diseaseEngine, fallback, library)

	wx := weather.NewCachedProvider(weather.NewClient(cfg.OpenMeteoURL), store, cfg.CacheTTL)
	prices := market.NewClient(market.ClientOpts{
		BaseURL:  cfg.DataGovURL,
		APIKey:   cfg.DataGovAPIKey,
		Store:    store,
		CacheTTL: cfg.CacheTTL,
	})

	agro := agronomy.NewService(cropEngine, yieldEngine, cropArtifacts, yieldArtifacts, wx, crops, prices)

	handler := handlers.NewHandler(detector, agro, prices, crops, map[string]handlers.ModelState{
		"disease": diseaseEngine,
		"crop":    cropEngine,
		"yield":   yieldEngine,
	}, fallback)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/detect-disease", enableCORS(handler.DetectDisease))
	mux.HandleFunc("/recommend-crop", enableCORS(handler.RecommendCrop))
	mux.HandleFunc("/predict-yield", enableCORS(handler.PredictYield))
	mux.HandleFunc("/api/prices", enableCORS(handler.Prices))
	mux.HandleFunc("/api/crops", enableCORS(handler.Crops))
	mux.HandleFunc("/calculate-profit", enableCORS(handler.CalculateProfit))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("modelDir", cfg.ModelDir).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
