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

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/secpilot/internal/adapter/llm"
	"github.com/xiaot623/secpilot/internal/adapter/rag"
	"github.com/xiaot623/secpilot/internal/config"
	"github.com/xiaot623/secpilot/internal/hub"
	"github.com/xiaot623/secpilot/internal/repository"
	"github.com/xiaot623/secpilot/internal/runner"
	"github.com/xiaot623/secpilot/internal/service"
	"github.com/xiaot623/secpilot/internal/tools"
	v1 "github.com/xiaot623/secpilot/internal/transport/http/v1"
	"github.com/xiaot623/secpilot/policy"
)

func main() {
	// .env is optional; environment variables win.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg := config.Load()

	log.Printf("Starting secpilot...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM URL: %s", cfg.LLMBaseURL)

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	completionClient := llm.NewCompletionClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	ragClient := rag.NewClient(cfg.RAGBaseURL, cfg.RAGTimeout)
	if !ragClient.Enabled() {
		log.Println("RAG capability disabled (RAG_BASE_URL not set)")
	}

	policyContent := policy.DefaultPolicy
	if cfg.RiskPolicyPath != "" {
		raw, err := os.ReadFile(cfg.RiskPolicyPath)
		if err != nil {
			log.Fatalf("Failed to read risk policy %s: %v", cfg.RiskPolicyPath, err)
		}
		policyContent = string(raw)
		log.Printf("Loaded risk policy from %s", cfg.RiskPolicyPath)
	}

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	commandRunner := runner.New(cfg.ToolTimeout, cfg.MaxOutputBytes)
	registry := tools.NewBuiltinRegistry(commandRunner, tools.Options{
		ScanTopPorts: cfg.ScanTopPorts,
		ScanTimeout:  cfg.ToolTimeout,
		DNSTimeout:   cfg.ToolTimeout,
		WhoisTimeout: cfg.ToolTimeout,
	})
	log.Printf("Registered tools: %v", registry.Names())

	eventHub := hub.New()
	go eventHub.Run()

	svc := service.New(db, completionClient, ragClient, registry, policyEngine, eventHub, cfg)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go svc.RunApprovalExpiryMonitor(monitorCtx)

	h := v1.NewHandler(svc, eventHub)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down secpilot...")
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Secpilot stopped")
}
