package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aikewa/govledger/internal/alert"
	"github.com/aikewa/govledger/internal/api/handler"
	"github.com/aikewa/govledger/internal/app"
	"github.com/aikewa/govledger/internal/config"
	"github.com/aikewa/govledger/internal/health"
	"github.com/aikewa/govledger/internal/ratelimit"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	configFile := flag.String("config", "", "path to govledger.yaml")
	flag.Parse()

	if err := run(logger, *configFile); err != nil {
		logger.Fatal("govledger exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger, configFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(viper.New(), configFile)
	if err != nil {
		return err
	}
	if cfg.File == "" {
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Wire up layers ───────────────────────────────────────────────────────
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if rep, err := a.Verifier.VerifySet(ctx, a.Ledgers); err != nil {
		logger.Warn("startup ledger verification failed to run", zap.Error(err))
	} else if !rep.Verified {
		logger.Warn("ledger integrity check FAILED", zap.String("root", rep.GlobalMerkleRoot))
	} else {
		logger.Info("ledgers verified",
			zap.Int("entries", rep.TotalEntries),
			zap.String("root", rep.GlobalMerkleRoot),
		)
	}

	// ── Rate limiting ────────────────────────────────────────────────────────
	var store ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close() //nolint:errcheck
		store = ratelimit.NewRedisStore(client)
		logger.Info("rate limit backend: redis")
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartSweeper(ctx, cfg.RateLimit.Window)
		store = mem
		logger.Info("rate limit backend: memory")
	}
	public := ratelimit.NewLimiter("public", store, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)
	webhooks := ratelimit.NewLimiter("webhook", store, cfg.RateLimit.WebhookRequests, cfg.RateLimit.Window, logger)

	// ── Health monitor ───────────────────────────────────────────────────────
	monitor := health.New(a.Engine, health.Config{CheckInterval: cfg.Monitor.Interval, AutoRepair: true}, logger)
	monitor.SetStateChange(newNotifier(cfg.Alert, logger).StateChanged)
	if cfg.Federation.PollInterval > 0 {
		client := a.FederationClient()
		monitor.AddJob("federation-poll", cfg.Federation.PollInterval, func(ctx context.Context) error {
			_, err := a.Federation.VerifyNetwork(ctx, client)
			return err
		})
	}

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCHealthPort > 0 {
		hs := grpchealth.NewServer()
		monitor.AttachGRPC(hs)
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, hs)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCHealthPort))
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		go func() {
			logger.Info("grpc health listening", zap.Int("port", cfg.Server.GRPCHealthPort))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc health serve error", zap.Error(err))
			}
		}()
	}
	go monitor.Start(ctx)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.PrometheusMiddleware())

	origins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Api-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	api := router.Group("/api", public.Middleware(), handler.CacheControl(), handler.PrivacyGuard(logger))
	handler.NewStatusHandler(a.Ledgers, a.Verifier, a.Engine, monitor, logger).Register(api)
	handler.NewFederationHandler(a.Federation, cfg.Federation.APIKeyHash, webhooks, logger).Register(api)
	handler.NewInsightsHandler(a.EII, a.Consent, logger).Register(api)
	handler.NewLedgerHandler(a.Ledgers, logger).Register(api)
	if a.Proofs != nil {
		handler.NewTrustHandler(a.Proofs, logger).Register(api)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("govledger HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down govledger...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	logger.Info("govledger stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// newNotifier mails alerts when SMTP and recipients are configured and
// logs them otherwise.
func newNotifier(cfg config.AlertConfig, logger *zap.Logger) *alert.Notifier {
	var sender alert.Sender = alert.NewLogSender(logger)
	recipients := []string{"log"}
	if cfg.SMTPHost != "" && len(cfg.Emails) > 0 {
		sender = alert.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress)
		recipients = cfg.Emails
		logger.Info("alert mail via SMTP", zap.String("host", cfg.SMTPHost), zap.Int("recipients", len(recipients)))
	}

	var peers *alert.Dispatcher
	if len(cfg.WebhookURLs) > 0 {
		peers = alert.NewDispatcher(cfg.SourceID, cfg.WebhookSecret, cfg.WebhookURLs, logger)
	}
	return alert.NewNotifier(sender, recipients, peers, logger)
}
