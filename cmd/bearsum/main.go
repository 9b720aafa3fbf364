package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jakey-Jakey/Bearsum/internal/config"
	"github.com/Jakey-Jakey/Bearsum/internal/executor"
	"github.com/Jakey-Jakey/Bearsum/internal/gitremote"
	"github.com/Jakey-Jakey/Bearsum/internal/httpapi"
	"github.com/Jakey-Jakey/Bearsum/internal/llm"
	"github.com/Jakey-Jakey/Bearsum/internal/notify"
	"github.com/Jakey-Jakey/Bearsum/internal/observability"
	"github.com/Jakey-Jakey/Bearsum/internal/registry"
	"github.com/Jakey-Jakey/Bearsum/internal/session"
	"github.com/Jakey-Jakey/Bearsum/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	reg := registry.New(cfg.TaskRetention)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, func() float64 {
		return float64(reg.Len())
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	broker, err := notify.NewBroker(runCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("broker init failed: %v", err)
	}
	defer broker.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("notify: DATABASE_URL not set, using in-process broker")
	} else {
		log.Printf("notify: using postgres LISTEN/NOTIFY broker")
	}

	var generator llm.Generator
	if cfg.LLMAPIKey == "" {
		log.Printf("llm: PERPLEXITY_API_KEY not set, using the mock generator")
		generator = &llm.Mock{}
	} else {
		client, err := llm.NewClient(llm.ClientConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
		if err != nil {
			log.Fatalf("llm client init failed: %v", err)
		}
		generator = client
		log.Printf("llm: model %s via %s", cfg.LLMModel, cfg.LLMBaseURL)
	}

	github := gitremote.NewClient(cfg.GitHubAPIBase, cfg.GitHubToken)
	sessions := session.NewManager(cfg.SessionIdleTimeout)
	stager := upload.NewStager(cfg.MaxUploadFiles, cfg.MaxFileSizeMB)
	exec := executor.New(reg, broker, generator, github, metrics, cfg.LLMCallTimeout)

	api := httpapi.New(cfg, sessions, reg, broker, exec, stager, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	sessions.StartJanitor(runCtx, time.Minute)
	reg.StartJanitor(runCtx, time.Minute)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
