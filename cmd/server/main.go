package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/capcall/riskengine/internal/api"
	"github.com/capcall/riskengine/internal/config"
	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/ingestion"
	"github.com/capcall/riskengine/internal/logging"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/risk"
	"github.com/capcall/riskengine/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().Str("db_path", cfg.Database.Path).Msg("Initializing database")
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init DB")
	}
	defer db.Close()

	// Create repositories.
	callRepo := repository.NewCapitalCallRepo(db)
	assessmentRepo := repository.NewAssessmentRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)

	// Create services.
	engine := risk.NewEngine(callRepo)
	workflowSvc, err := workflow.NewService(callRepo, assessmentRepo, paymentRepo, engine, workflow.Options{
		MatchWorkers:   cfg.Matching.Workers,
		CandidateLimit: cfg.Matching.CandidateLimit,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create workflow service")
	}
	ingestionSvc := ingestion.NewService(paymentRepo, workflowSvc, log)

	ctx := context.Background()

	// Seed capital calls if DB is empty.
	count, err := callRepo.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to count capital calls")
	}
	if count == 0 {
		log.Info().Msg("Database is empty, seeding capital calls from testdata")
		if err := seedCapitalCalls(ctx, callRepo, log); err != nil {
			log.Warn().Err(err).Msg("Failed to seed capital calls")
		}
	} else {
		log.Info().Int("count", count).Msg("Database already has capital calls, skipping seed")
	}

	router := api.NewRouter(api.Deps{
		Workflow:    workflowSvc,
		Ingestion:   ingestionSvc,
		Calls:       callRepo,
		Assessments: assessmentRepo,
		Payments:    paymentRepo,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	}, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("api_base", fmt.Sprintf("http://localhost:%d/api/v1", cfg.Server.Port)).
			Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func seedCapitalCalls(ctx context.Context, repo *repository.CapitalCallRepo, log zerolog.Logger) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		filepath.Join("testdata", "capital_calls.json"),
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "capital_calls.json"),
			filepath.Join(dir, "..", "..", "testdata", "capital_calls.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Info().Str("path", path).Msg("Loaded capital calls")
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find capital_calls.json in any candidate path: %w", loadErr)
	}

	var calls []domain.CapitalCallRecord
	if err := json.Unmarshal(data, &calls); err != nil {
		return fmt.Errorf("unmarshal capital calls: %w", err)
	}

	for i := range calls {
		if err := repo.Insert(ctx, &calls[i]); err != nil {
			return fmt.Errorf("insert %s: %w", calls[i].ID, err)
		}
	}

	log.Info().Int("count", len(calls)).Msg("Seeded capital calls")
	return nil
}
