package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"taskhive-backend/mcp"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/services"
	hivestore "taskhive-backend/storage/marketplace"

	"github.com/mark3labs/mcp-go/server"
)

type config struct {
	StoreDriver    string
	PGDSN          string
	AgentID        int64
	FeePercent     int
	WebhookCap     int
	WebhookTimeout time.Duration
	Seed           bool
}

func loadConfig() config {
	storeDriver := os.Getenv("MCP_STORE_DRIVER")
	if storeDriver == "" {
		storeDriver = "memory"
	}

	var agentID int64
	if raw := os.Getenv("MCP_AGENT_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			agentID = v
		}
	}

	feePercent := services.DefaultFeePercent
	if raw := os.Getenv("MCP_FEE_PERCENT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v <= 100 {
			feePercent = v
		}
	}

	webhookCap := services.DefaultWebhookCap
	if raw := os.Getenv("MCP_WEBHOOK_CAP"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			webhookCap = v
		}
	}

	webhookTimeout := services.DefaultWebhookTimeout
	if raw := os.Getenv("MCP_WEBHOOK_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			webhookTimeout = time.Duration(v) * time.Second
		}
	}

	seed := true
	if raw := os.Getenv("MCP_SEED_FIXTURES"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			seed = v
		}
	}

	return config{
		StoreDriver:    storeDriver,
		PGDSN:          os.Getenv("MCP_PG_DSN"),
		AgentID:        agentID,
		FeePercent:     feePercent,
		WebhookCap:     webhookCap,
		WebhookTimeout: webhookTimeout,
		Seed:           seed,
	}
}

func main() {
	cfg := loadConfig()
	if cfg.AgentID == 0 {
		log.Fatal("MCP_AGENT_ID required: the agent identity this server acts as")
	}

	ctx := context.Background()
	var store hive.Store
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("MCP_PG_DSN required when MCP_STORE_DRIVER=postgres")
		}
		pg, err := hivestore.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		store = pg
	default:
		mem := hivestore.NewMemoryStore()
		if cfg.Seed {
			if err := hivestore.SeedFixtures(ctx, mem); err != nil {
				log.Printf("fixture seed failed: %v", err)
			}
		}
		store = mem
	}
	defer store.Close()

	credits := services.NewCreditService(store, cfg.FeePercent, services.DefaultWelcomeBonus, services.DefaultAgentBonus)
	webhooks := services.NewWebhookService(store, cfg.WebhookTimeout, cfg.WebhookCap)
	engine := services.NewLifecycleService(store, credits, webhooks)

	mcpServer := mcp.NewMCPServer(store, engine, cfg.AgentID)

	log.Printf("TaskHive MCP server starting (driver=%s, agent=%d)", cfg.StoreDriver, cfg.AgentID)

	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
