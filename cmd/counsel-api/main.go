package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/agape-peninsula/counsel-api/internal/adapters/http"
	"github.com/agape-peninsula/counsel-api/internal/adapters/llm"
	firestorestore "github.com/agape-peninsula/counsel-api/internal/adapters/storage/firestore"
	memstore "github.com/agape-peninsula/counsel-api/internal/adapters/storage/memory"
	pgstore "github.com/agape-peninsula/counsel-api/internal/adapters/storage/postgres"
	"github.com/agape-peninsula/counsel-api/internal/adapters/ws"
	"github.com/agape-peninsula/counsel-api/internal/app/chat"
	"github.com/agape-peninsula/counsel-api/internal/config"
	"github.com/agape-peninsula/counsel-api/internal/domain"
	"github.com/agape-peninsula/counsel-api/internal/observability"
)

func main() {
	_ = godotenv.Load()

	log := observability.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oracle, err := buildOracle(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize oracle", "error", err)
		os.Exit(1)
	}

	sessionStore, messageStore, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	svc := chat.NewService(oracle, sessionStore, messageStore)

	mux := http.NewServeMux()
	mux.Handle("/api/", httpadapter.NewServer(svc, oracle, httpadapter.Options{
		FrontendURL:     cfg.FrontendURL,
		RateLimitWindow: time.Duration(cfg.RateLimitWindowMin) * time.Minute,
		RateLimitMax:    cfg.RateLimitMax,
	}))
	mux.Handle("/ws", ws.NewHub(svc, cfg.FrontendURL))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info("counsel API listening",
			"port", cfg.Port,
			"env", cfg.Env,
			"storage", string(cfg.StorageBackend),
			"oracle", string(cfg.OracleBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

func buildOracle(ctx context.Context, cfg *config.Config) (domain.Oracle, error) {
	switch cfg.OracleBackend {
	case config.OracleGemini:
		return llm.NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.AIModel)
	case config.OracleScript:
		return llm.NewScriptOracle(), nil
	default:
		return llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.AIModel), nil
	}
}

func buildStores(ctx context.Context, cfg *config.Config) (domain.SessionStore, domain.MessageStore, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageFirestore:
		store, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, nil, err
		}
		// One store implements both ports.
		return store, store, func() {}, nil

	case config.StoragePostgres:
		store, err := pgstore.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil

	default:
		return memstore.NewSessionStore(), memstore.NewMessageStore(), func() {}, nil
	}
}
