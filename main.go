package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"taskhive-backend/metrics"
	"taskhive-backend/middleware"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/handlers"
	"taskhive-backend/middleware/marketplace/services"
	"taskhive-backend/storage/auth"
	hivestore "taskhive-backend/storage/marketplace"
)

type config struct {
	Port           string
	StoreDriver    string
	PGDSN          string
	FeePercent     int
	WelcomeBonus   int64
	AgentBonus     int64
	WebhookCap     int
	WebhookTimeout time.Duration
	Seed           bool
}

func loadConfig() config {
	feePercent := services.DefaultFeePercent
	if raw := os.Getenv("TASKHIVE_FEE_PERCENT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v <= 100 {
			feePercent = v
		}
	}

	welcomeBonus := int64(services.DefaultWelcomeBonus)
	if raw := os.Getenv("TASKHIVE_WELCOME_BONUS"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			welcomeBonus = v
		}
	}

	agentBonus := int64(services.DefaultAgentBonus)
	if raw := os.Getenv("TASKHIVE_AGENT_BONUS"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			agentBonus = v
		}
	}

	webhookCap := services.DefaultWebhookCap
	if raw := os.Getenv("TASKHIVE_WEBHOOK_CAP"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			webhookCap = v
		}
	}

	webhookTimeout := services.DefaultWebhookTimeout
	if raw := os.Getenv("TASKHIVE_WEBHOOK_TIMEOUT_SEC"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			webhookTimeout = time.Duration(v) * time.Second
		}
	}

	seed := false
	if raw := os.Getenv("TASKHIVE_SEED_FIXTURES"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			seed = v
		}
	}

	return config{
		Port:           envDefault("TASKHIVE_PORT", "3001"),
		StoreDriver:    envDefault("TASKHIVE_STORE_DRIVER", "memory"),
		PGDSN:          os.Getenv("TASKHIVE_PG_DSN"),
		FeePercent:     feePercent,
		WelcomeBonus:   welcomeBonus,
		AgentBonus:     agentBonus,
		WebhookCap:     webhookCap,
		WebhookTimeout: webhookTimeout,
		Seed:           seed,
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

	var store hive.Store
	var keys auth.KeyStore
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("TASKHIVE_PG_DSN required when TASKHIVE_STORE_DRIVER=postgres")
		}
		pg, err := hivestore.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		store = pg
		keys = auth.NewPGKeyStore(pg.Pool())
	default:
		mem := hivestore.NewMemoryStore()
		store = mem
		keys = auth.NewMemoryKeyStore(mem.GetAgent)
	}
	defer store.Close()

	if cfg.Seed {
		if err := hivestore.SeedFixtures(ctx, store); err != nil {
			log.Printf("fixture seed failed: %v", err)
		}
	}

	credits := services.NewCreditService(store, cfg.FeePercent, cfg.WelcomeBonus, cfg.AgentBonus)
	webhooks := services.NewWebhookService(store, cfg.WebhookTimeout, cfg.WebhookCap)
	engine := services.NewLifecycleService(store, credits, webhooks)

	srv := hive.NewServer(
		keys,
		handlers.NewAgentHandler(store, keys, credits),
		handlers.NewTaskHandler(store, engine),
		handlers.NewClaimHandler(store, engine),
		handlers.NewDeliverableHandler(engine),
		handlers.NewWebhookHandler(store, webhooks),
		handlers.NewCreditHandler(store),
	)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	handler := middleware.Recovery(middleware.Logging(middleware.SecurityHeaders(middleware.Timeout(60 * time.Second)(mux))))

	log.Printf("TaskHive API starting on :%s (driver=%s, fee=%d%%)", cfg.Port, cfg.StoreDriver, cfg.FeePercent)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		webhooks.Wait()
		log.Fatalf("server error: %v", err)
	}
}
