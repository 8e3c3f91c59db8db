package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/rl1809/baller-exchange/internal/adapter/handler"
	"github.com/rl1809/baller-exchange/internal/adapter/identity"
	"github.com/rl1809/baller-exchange/internal/adapter/oracle"
	"github.com/rl1809/baller-exchange/internal/adapter/storage"
	"github.com/rl1809/baller-exchange/internal/config"
	"github.com/rl1809/baller-exchange/internal/core/service"
	"github.com/rl1809/baller-exchange/internal/port"
)

func main() {
	cfg := config.MustLoad()
	log := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	var guard port.IdempotencyGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 100,
		})
		defer rdb.Close()

		adapter := storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		if err := adapter.Ping(ctx); err != nil {
			log.WithError(err).Fatal("failed to connect redis")
		}
		guard = adapter
		log.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	} else {
		log.Warn("REDIS_ADDR not set, roll replay protection disabled")
	}

	var itemOracle port.ItemOracle
	switch cfg.Oracle.Mode {
	case "http":
		itemOracle = oracle.NewHTTPOracle(cfg.Oracle.Endpoint, cfg.Oracle.Timeout)
	default:
		itemOracle = oracle.NewLocalOracle(cfg.Oracle.CDNPrefix, nil)
	}

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		log.WithError(err).Fatal("failed to set up token verification")
	}
	if verifier == nil {
		log.Warnf("no token verifier configured, trusting %s header", handler.UserIDHeader)
	}

	economy := cfg.Economy.Service()
	coord := service.NewCoordinator(store, cfg.Tx.MaxAttempts, cfg.Tx.Backoff, log.WithField("component", "coordinator"))
	ledger := service.NewLedgerService(coord, economy, log.WithField("component", "ledger"))
	rolls := service.NewRollService(coord, itemOracle, identity.NewClaimsSource(""), guard, economy, log.WithField("component", "roll"))
	trades := service.NewTradeService(coord, economy, log.WithField("component", "trade"))
	queries := service.NewQueryService(store)
	auditor := service.NewAuditor(store, log.WithField("component", "audit"))

	var scheduler *cron.Cron
	if cfg.Audit.Schedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Audit.Schedule, func() {
			auditCtx, auditCancel := context.WithTimeout(ctx, time.Minute)
			defer auditCancel()
			if _, err := auditor.Run(auditCtx); err != nil {
				log.WithError(err).Error("audit failed")
			}
		})
		if err != nil {
			log.WithError(err).Fatal("invalid AUDIT_SCHEDULE")
		}
		scheduler.Start()
	}

	limiter := handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.AuthInterceptor(verifier)))
	handler.NewGRPCHandler(ledger, rolls, trades, queries).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddress())
	if err != nil {
		log.WithError(err).Fatal("failed to listen")
	}
	go func() {
		log.WithField("addr", cfg.Server.GRPCAddress()).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// HTTP
	httpHandler := handler.NewHTTPHandler(ledger, rolls, trades, queries, log.WithField("component", "http"))
	router := handler.NewRouter(httpHandler, handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Verifier:       verifier,
		Limiter:        limiter,
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.WithField("addr", cfg.Server.Address()).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if scheduler != nil {
		<-scheduler.Stop().Done()
		log.Info("audit scheduler stopped")
	}
	cancel()
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (port.DocumentStore, func()) {
	if cfg.Store.Backend != "mysql" {
		log.Warn("using in-memory store, state is lost on exit")
		return storage.NewMemoryStore(), func() {}
	}

	dsn := cfg.Store.DSN()
	if err := storage.MigrateMySQL(dsn); err != nil {
		log.WithError(err).Fatal("failed to migrate mysql")
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to connect mysql")
	}
	db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Store.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("failed to ping mysql")
	}
	log.WithField("db", cfg.Store.Name).Info("connected to mysql")

	return storage.NewMySQLStore(db), func() {
		db.Close()
		log.Info("mysql connection closed")
	}
}

func newVerifier(cfg config.AuthConfig) (*handler.TokenVerifier, error) {
	switch {
	case cfg.HMACSecret != "":
		return handler.NewHMACVerifier([]byte(cfg.HMACSecret), cfg.UserClaim, cfg.Issuer), nil
	case cfg.PublicKeyFile != "":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		return handler.NewRSAVerifier(pem, cfg.UserClaim, cfg.Issuer)
	}
	return nil, nil
}
