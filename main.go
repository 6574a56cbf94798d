package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/analytics"
	"github.com/coderkp/order-fill-tracker/internal/api"
	"github.com/coderkp/order-fill-tracker/internal/config"
	"github.com/coderkp/order-fill-tracker/internal/eventbus"
	"github.com/coderkp/order-fill-tracker/internal/reconciler"
	"github.com/coderkp/order-fill-tracker/internal/repository"
	"github.com/coderkp/order-fill-tracker/internal/venue/okx"
	"github.com/coderkp/order-fill-tracker/internal/venue/snowtrace"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing Order Fill Tracker...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Pair: %s", cfg.Pair)
	log.Printf("API Port: %s", cfg.APIPort)

	// 2. Dependencies
	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database Migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running Database Migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database Migration Complete.")
	}

	okxClient := okx.NewClient(cfg.OKXAPIKey, cfg.OKXSecret, cfg.OKXPassphrase,
		okx.WithBaseURL(cfg.OKXBaseURL))
	snowtraceClient := snowtrace.NewClient(cfg.SnowtraceAPIKey, cfg.SnowtraceBaseURL,
		cfg.USDTContract, cfg.WalletAddress)

	// 3. Pipeline
	bus := eventbus.New()
	defer bus.Close()

	buffer := reconciler.NewOrderBuffer(cfg.BufferSize)
	reader := reconciler.NewTailingReader(repo, buffer,
		decimal.NewFromFloat(cfg.MinOrderSize), cfg.FetchPageSize, cfg.PollInterval())

	okxRec := reconciler.NewOKXReconciler(okxClient, repo, reconciler.OKXReconcilerConfig{
		Pair:           cfg.Pair,
		QuoteToken:     cfg.QuoteToken,
		MinCreatedMs:   cfg.OKXMinCreatedMs,
		MaxRefillPages: cfg.MaxRefillPages,
		PurgeOnConsume: cfg.OKXPurgeOnConsume,
	})
	joeRec := reconciler.NewJoeReconciler(snowtraceClient, repo, reconciler.JoeReconcilerConfig{
		WalletAddress:      cfg.WalletAddress,
		BaseToken:          cfg.BaseToken,
		QuoteToken:         cfg.QuoteToken,
		BaseTokenDecimals:  cfg.BaseTokenDecimals,
		QuoteTokenDecimals: cfg.QuoteTokenDecimals,
		MaxRefillPages:     cfg.MaxRefillPages,
	})

	dispatcher := reconciler.NewDispatcher(buffer,
		[]reconciler.Reconciler{okxRec, joeRec}, bus,
		cfg.BatchSize, cfg.Concurrency, cfg.PollInterval())

	analyticsWorker := analytics.NewWorker(repo, bus, 30*time.Second)

	// 4. API
	api.BuildCommit = BuildCommit
	hub := api.NewHub()
	pipeline := &api.PipelineStatus{
		Watermark:    reader.Watermark,
		BufferLen:    buffer.Len,
		Counters:     dispatcher.Counters,
		OKXCursorMs:  okxRec.CursorMs,
		JoeLastBlock: joeRec.LastSeenBlock,
	}
	apiServer := api.NewServer(repo, pipeline, hub, cfg.APIPort, cfg.AdminJWTSecret)

	// 5. Run
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting API Server on :%s", cfg.APIPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API Server failed: %v", err)
		}
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.ForwardFills(ctx, bus)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reader.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()

	enableAnalytics := os.Getenv("ENABLE_ANALYTICS_WORKER") != "false"
	if enableAnalytics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			analyticsWorker.Start(ctx)
		}()
	} else {
		log.Println("Analytics Worker is DISABLED (ENABLE_ANALYTICS_WORKER=false)")
	}

	<-sigChan
	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)(\S+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
