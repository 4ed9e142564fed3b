// Package main implements the autopilot inference server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/psmyrdek/autodrive/internal/api"
	"github.com/psmyrdek/autodrive/internal/audit"
	"github.com/psmyrdek/autodrive/internal/auth"
	"github.com/psmyrdek/autodrive/internal/checkpoint"
	"github.com/psmyrdek/autodrive/internal/config"
	"github.com/psmyrdek/autodrive/internal/infer"
	"github.com/psmyrdek/autodrive/internal/stream"
)

const Version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	log.Printf("Starting autopilot inference server v%s", Version)

	// Step 1: Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully")

	// Step 2: Load model checkpoint
	loaded, err := checkpoint.Load(cfg.Model.CheckpointPath)
	if err != nil {
		log.Fatalf("Failed to load checkpoint %s: %v", cfg.Model.CheckpointPath, err)
	}
	log.Printf("Loaded %s checkpoint from %s", loaded.Kind, cfg.Model.CheckpointPath)

	// Step 3: Build inference engine
	engine, err := infer.NewEngine(loaded, infer.Options{
		SeqLen:     cfg.Model.SeqLen,
		Threshold:  cfg.Model.Threshold,
		SessionTTL: cfg.Model.SessionTTL,
	})
	if err != nil {
		log.Fatalf("Failed to build inference engine: %v", err)
	}
	if !engine.Normalized() {
		log.Println("WARNING: checkpoint carries no normalization record; predicting on raw-scale inputs")
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go engine.RunJanitor(janitorCtx, cfg.Model.JanitorInterval)

	// Step 4: Initialize event hub
	hub := stream.NewHub(stream.Options{
		BufferSize:        cfg.Stream.BufferSize,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	})
	log.Println("Event hub initialized")

	// Step 5: Initialize audit logger
	var auditLogger *audit.Logger
	var auditPort api.AuditPort
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(cfg.Audit.Dir, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			log.Fatalf("Failed to initialize audit logger: %v", err)
		}
		auditPort = auditLogger
		log.Printf("Audit logger initialized at %s", auditLogger.Path())
	}

	// Step 6: Set up authentication
	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(auth.VerifierConfig{
			Algorithm:    cfg.Auth.Algorithm,
			SecretKey:    cfg.Auth.SecretKey,
			PublicKeyPEM: cfg.Auth.PublicKeyPEM,
		})
		if err != nil {
			log.Fatalf("Failed to initialize token verifier: %v", err)
		}
		log.Printf("Authentication enabled (%s)", cfg.Auth.Algorithm)
	} else {
		log.Println("Authentication disabled")
	}
	middleware := auth.NewMiddleware(verifier)

	// Step 7: Create and start API server
	server := api.NewServer(engine, hub, auditPort, middleware, api.Options{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	addr := cfg.Server.Addr()
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	log.Printf("Autopilot server listening on %s", addr)
	log.Printf("Health endpoint: http://%s/api/v1/health", addr)

	// Graceful shutdown on signal or server failure.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopJanitor()
	hub.Stop()
	log.Println("Event hub stopped")

	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			log.Printf("Error closing audit logger: %v", err)
		}
	}

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	log.Println("Autopilot server shutdown complete")
}
