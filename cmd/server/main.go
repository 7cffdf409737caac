package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zane-analytics/meta-ads-mcp/internal/api"
	"github.com/zane-analytics/meta-ads-mcp/internal/auth"
	"github.com/zane-analytics/meta-ads-mcp/internal/config"
	"github.com/zane-analytics/meta-ads-mcp/internal/mcp"
	"github.com/zane-analytics/meta-ads-mcp/internal/metaads"
	"github.com/zane-analytics/meta-ads-mcp/internal/policy"
	"github.com/zane-analytics/meta-ads-mcp/internal/session"
	"github.com/zane-analytics/meta-ads-mcp/internal/ssehub"
	"github.com/zane-analytics/meta-ads-mcp/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting MCP server...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Meta API: %s/%s", cfg.MetaAPIBaseURL, cfg.MetaAPIVersion)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize session registry with idle sweep
	sessions := session.NewRegistry(cfg.SessionIdleTimeout, nil)
	sessions.StartSweeper(cfg.SessionSweepEvery)
	defer sessions.Stop()

	// Initialize token verifier and provider factory
	verifier := auth.NewVerifier(cfg.JWTSecret)
	providers := metaads.NewFactory(cfg.MetaAPIBaseURL, cfg.MetaAPIVersion, cfg.MetaTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize dispatcher
	dispatcher := mcp.NewDispatcher(db, sessions, verifier, providers, policyEngine, nil)

	// Initialize SSE hub
	hub := ssehub.NewHub()
	go hub.Run()

	// Initialize handler
	h := api.NewHandler(dispatcher, hub, sessions, cfg.KeepaliveInterval)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("MCP server started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down MCP server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("MCP server stopped")
}
