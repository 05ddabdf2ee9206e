package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docgraph/config"
	"docgraph/config/database"
	"docgraph/internal/document/repository"
	"docgraph/internal/document/service"
	"docgraph/middleware"
	"docgraph/pkg/graph"
	"docgraph/pkg/logger"
	"docgraph/pkg/metrics"
	"docgraph/router"
	"docgraph/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Sugar.Fatalf("Exiting: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var repo repository.Repository
	var health func(context.Context) error
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Sugar.Warn("Using the in-memory store; data is lost on restart")
		repo = repository.NewMemoryRepository()
	default:
		driver, err := database.Connect(ctx, cfg)
		if err != nil {
			logger.Sugar.Fatalf("Could not connect to the graph database: %v", err)
		}
		defer driver.Close(context.Background())

		gateway := graph.NewGateway(driver, graph.Config{
			Database:     cfg.Neo4jDatabase,
			QueryTimeout: cfg.QueryTimeout(),
			Metrics:      m,
		})
		repo = repository.NewDocumentRepository(gateway)
		health = gateway.Ping
	}

	verifier, err := middleware.NewVerifier(ctx, middleware.VerifierConfig{
		JWKSURL:           cfg.JWKSURL(),
		Issuer:            cfg.Issuer(),
		Audience:          cfg.AuthAudience,
		EmailClaim:        cfg.AuthEmailClaim,
		RequestsPerMinute: cfg.JWKSRequestsPerMinute,
	})
	if err != nil {
		logger.Sugar.Fatalf("Failed to configure token verification: %v", err)
	}

	hub := socket.NewHub(m)
	hub.AllowedOrigin = cfg.AppOrigin
	go hub.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: router.Setup(router.Deps{
			Service:   service.NewDocumentService(repo, hub),
			Hub:       hub,
			Verifier:  verifier,
			Metrics:   m,
			AppOrigin: cfg.AppOrigin,
			Health:    health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Server started at http://localhost%s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}
