/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for the approvald server
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cmd/approval-server/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/outreachforge/approvald/internal/api"
	"github.com/outreachforge/approvald/internal/approval"
	"github.com/outreachforge/approvald/internal/config"
	"github.com/outreachforge/approvald/internal/db"
	"github.com/outreachforge/approvald/internal/metrics"
	"github.com/outreachforge/approvald/internal/notifications"
	"github.com/outreachforge/approvald/internal/ratelimit"
	"github.com/outreachforge/approvald/internal/rules"
	"github.com/outreachforge/approvald/internal/webhooks"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion      = flag.Bool("version", false, "Show version information")
		showVersionShort = flag.Bool("v", false, "Show version information (short)")
		configPath       = flag.String("c", "", "Path to configuration file")
		configPathLong   = flag.String("config", "", "Path to configuration file")
		migrationsDir    = flag.String("migrations", "./migrations", "Path to migration files")
		showHelp         = flag.Bool("help", false, "Show help message")
		showHelpShort    = flag.Bool("h", false, "Show help message (short)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "approvald - approval gate and webhook orchestration server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    Start server with default configuration\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c config.yaml     Start server with custom config file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version          Show version information\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nConfiguration:\n")
		fmt.Fprintf(os.Stderr, "  Configuration can be provided via:\n")
		fmt.Fprintf(os.Stderr, "  - Command line flag: -c or --config\n")
		fmt.Fprintf(os.Stderr, "  - Environment variable: CONFIG_PATH\n")
		fmt.Fprintf(os.Stderr, "  - Environment variables (see config package for details)\n")
	}
	flag.Parse()

	/* Handle version flag */
	if *showVersion || *showVersionShort {
		fmt.Printf("approvald version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		os.Exit(0)
	}

	/* Handle help flag */
	if *showHelp || *showHelpShort {
		flag.Usage()
		os.Exit(0)
	}

	/* Load configuration */
	cfg := config.DefaultConfig()

	/* Command line flag takes precedence over environment variable */
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = *configPathLong
	}
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}

	if cfgPath != "" {
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v, using defaults\n", err)
		}
	} else {
		/* Load from environment variables if no config file */
		config.LoadFromEnv(cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	/* Initialize logging */
	metrics.InitLogging(cfg.Logging.Level, cfg.Logging.Format)

	/* Connect to database */
	database, err := db.NewDB(cfg.Database.ConnString(), db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to connect to database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Connection: host=%s port=%d user=%s dbname=%s\n",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Database)
		os.Exit(1)
	}
	defer database.Close()

	/* Run migrations */
	migrationRunner, err := db.NewMigrationRunner(database.DB, *migrationsDir)
	if err == nil {
		if err := migrationRunner.Run(context.Background()); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	/* Initialize components */
	queries := db.NewQueries(database.DB)
	queries.SetConnInfoFunc(database.GetConnInfoString)

	limiter := ratelimit.NewLimiter(queries)
	engine := rules.NewEngine(queries)

	queue := webhooks.NewQueue(queries, limiter, webhooks.QueueConfig{
		Secret:         cfg.Webhooks.Secret,
		MaxAttempts:    cfg.Webhooks.MaxAttempts,
		BaseBackoff:    cfg.Webhooks.BaseBackoff,
		MaxBackoff:     cfg.Webhooks.MaxBackoff,
		RequestTimeout: cfg.Webhooks.RequestTimeout,
		ClaimLease:     cfg.Webhooks.ClaimLease,
		DeliveryLimit:  cfg.RateLimit.DeliveryLimit,
		DeliveryWindow: cfg.RateLimit.DeliveryWindow,
	})

	var notifier notifications.Notifier = notifications.NewLogNotifier()
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL, cfg.Notifications.Timeout)
	}

	orch := approval.NewOrchestrator(queries, engine, queue, notifier)

	/* Initialize API */
	handlers := api.NewHandlers(orch, queue, queries)

	/* Setup router */
	router := mux.NewRouter()
	router.Use(api.RequestIDMiddleware)
	router.Use(api.CORSMiddleware)
	router.Use(api.LoggingMiddleware)

	/* API routes */
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(api.DecisionRateLimitMiddleware(limiter, cfg.RateLimit.DecisionLimit, cfg.RateLimit.DecisionWindow))
	apiRouter.HandleFunc("/approvals", handlers.CreateApproval).Methods("POST")
	apiRouter.HandleFunc("/approvals/pending", handlers.ListPendingApprovals).Methods("GET")
	apiRouter.HandleFunc("/approvals/stats", handlers.GetStatistics).Methods("GET")
	apiRouter.HandleFunc("/approvals/bulk-approve", handlers.BulkApprove).Methods("POST")
	apiRouter.HandleFunc("/approvals/{id}", handlers.GetApproval).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}/history", handlers.GetApprovalHistory).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}/decision", handlers.SubmitDecision).Methods("POST")
	apiRouter.HandleFunc("/approvals/{id}/escalate", handlers.EscalateApproval).Methods("POST")
	apiRouter.HandleFunc("/approvals/{id}/deliveries", handlers.ListApprovalDeliveries).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}/resend-webhook", handlers.ResendResolutionWebhook).Methods("POST")
	apiRouter.HandleFunc("/deliveries/dead", handlers.ListDeadDeliveries).Methods("GET")
	apiRouter.HandleFunc("/deliveries/{id}/requeue", handlers.RequeueDelivery).Methods("POST")

	/* Health check */
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		open, idle, inUse := database.GetPoolStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"db_pool": map[string]int{
				"open_connections": open,
				"idle":             idle,
				"in_use":           inUse,
			},
		})
	}).Methods("GET")

	/* Metrics endpoint */
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	/* Start background workers */
	dispatcher := webhooks.NewDispatcher(queue, cfg.Webhooks.Workers, cfg.Webhooks.BatchSize, cfg.Webhooks.PollInterval)
	dispatcher.Start()
	defer dispatcher.Stop()

	sweeper := approval.NewSweeper(orch, cfg.Sweeper.Interval, cfg.Sweeper.EscalationLead, cfg.Sweeper.EscalateTo)
	sweeper.Start()
	defer sweeper.Stop()

	/* Start server */
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		fmt.Printf("approvald server listening on %s\n", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "FATAL: Server failed: %v\n", err)
			os.Exit(1)
		}
	}()

	/* Wait for shutdown signal */
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
	}
}
