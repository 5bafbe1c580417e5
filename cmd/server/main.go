// ==============================================================================
// NETTING SERVICE MAIN - cmd/server/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"debtloop/internal/domain"
	"debtloop/internal/handler"
	"debtloop/internal/loop"
	"debtloop/internal/middleware"
	"debtloop/internal/netting"
	"debtloop/internal/registry"
	"debtloop/internal/repository/memory"
	"debtloop/internal/repository/postgres"
	"debtloop/internal/scheduler"
	"debtloop/internal/settlement"
	"debtloop/pkg/cache"
	"debtloop/pkg/config"
	"debtloop/pkg/logger"
	"debtloop/pkg/validator"
)

// stores bundles the repositories the services need, whichever backend
// provides them.
type stores struct {
	snapshots loop.SnapshotReader
	companies interface {
		registry.CompanyRepository
		loop.CompanyRepository
	}
	positions interface {
		registry.PositionRepository
		loop.PositionRepository
	}
	loops loop.Repository
	ping  handler.PingFunc
	close func() error
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewWithLevel("netting-service", cfg.Log.Level, os.Stdout)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Netting Service", map[string]interface{}{
		"port":    cfg.Server.Port,
		"backend": cfg.Database.Backend,
	})

	st, err := openStores(cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage", map[string]interface{}{"error": err.Error()})
	}
	defer st.close()

	// Redis is optional: without it detection results are not cached and
	// idempotency keys and rate limits are not enforced.
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer redisCache.Close()
		log.Info("Redis connected", nil)
	}

	policy, err := netting.ParseMalformedPolicy(cfg.Netting.MalformedPolicy)
	if err != nil {
		log.Fatal("Invalid malformed policy", map[string]interface{}{"error": err.Error()})
	}
	fees, err := netting.NewFeeSchedule(cfg.Fee)
	if err != nil {
		log.Fatal("Invalid fee schedule", map[string]interface{}{"error": err.Error()})
	}
	engine := netting.NewEngine(netting.Options{
		MaxDepth:       cfg.Netting.MaxDepth,
		MaxResults:     cfg.Netting.MaxResults,
		StrictDisjoint: cfg.Netting.StrictDisjoint,
	}, fees, log)

	// Transfers go through the in-process connector until a banking
	// connector is configured.
	connector := settlement.NewSimulatedConnector()
	connector.Open(cfg.Settlement.ClearingAccount, decimal.Zero, true)
	connector.SetAutoOpen(true)
	executor := settlement.NewExecutor(connector, cfg.Settlement.ClearingAccount, log)

	// Without Redis, detection results are cached per process.
	var resultCache loop.ResultCache = cache.NewMemoryCache()
	var invalidator registry.Invalidator = resultCache
	if redisCache != nil {
		resultCache = redisCache
		invalidator = redisCache
	}

	currency := domain.Currency(cfg.Netting.DefaultCurrency)
	registryService := registry.NewService(st.companies, st.positions, invalidator, currency, log)
	loopService := loop.NewService(engine, st.snapshots, st.companies, st.positions, st.loops, executor, resultCache,
		loop.Config{
			DefaultCurrency: currency,
			MalformedPolicy: policy,
			LoopTTL:         cfg.Netting.LoopTTL,
			ResultCacheTTL:  cfg.Netting.ResultCacheTTL,
		}, log)

	sched := scheduler.NewScheduler(loopService, []domain.Currency{currency}, cfg.Netting.DetectionInterval, log)
	sched.Start()
	defer sched.Stop()

	val := validator.New()
	checks := map[string]handler.PingFunc{"database": st.ping}
	if redisCache != nil {
		checks["redis"] = func(ctx context.Context) error { return redisCache.Client().Ping(ctx).Err() }
	}

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	var detectMW []mux.MiddlewareFunc
	if redisCache != nil {
		r.Use(middleware.NewIdempotencyMiddleware(redisCache.Client(), cfg.Redis.IdempotencyTTL, log).Handle)
		if cfg.Server.DetectRateLimit > 0 {
			limiter := middleware.NewRateLimiter(redisCache.Client(), "detect", cfg.Server.DetectRateLimit, time.Minute)
			detectMW = append(detectMW, limiter.Limit)
		}
	}

	handler.RegisterRoutes(r,
		handler.NewCompanyHandler(registryService, val, log),
		handler.NewLoopHandler(loopService, val, log),
		handler.NewSystemHandler(checks, log),
		detectMW...,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Netting Service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Netting Service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Netting Service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Netting Service stopped gracefully", nil)
}

func openStores(cfg *config.Config, log logger.Logger) (*stores, error) {
	if strings.EqualFold(cfg.Database.Backend, "memory") {
		log.Warn("Using in-memory storage; data is lost on restart", nil)
		store := memory.NewStore()
		return &stores{
			snapshots: store,
			companies: store.Companies(),
			positions: store.Positions(),
			loops:     store.Loops(),
			close:     func() error { return nil },
		}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	return &stores{
		snapshots: postgres.NewSnapshotReader(db),
		companies: postgres.NewCompanyRepository(db),
		positions: postgres.NewPositionRepository(db),
		loops:     postgres.NewLoopRepository(db),
		ping:      db.PingContext,
		close:     db.Close,
	}, nil
}
