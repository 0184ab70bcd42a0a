package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/jewel-ledger/internal/app"
	"github.com/odyssey-erp/jewel-ledger/internal/audit"
	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
	"github.com/odyssey-erp/jewel-ledger/internal/observability"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/cache"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/lock"
	"github.com/odyssey-erp/jewel-ledger/internal/procurement"
	"github.com/odyssey-erp/jewel-ledger/internal/returns"
	"github.com/odyssey-erp/jewel-ledger/internal/sales"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/jobs"
)

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	checks := map[string]app.Pinger{"postgres": dbpool}
	var locker returns.Locker
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The row locks keep transitions correct; the redis lock only sheds
		// contended requests early.
		logger.Warn("redis unavailable, document locks disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		locker = lock.New(redisClient, cfg.LockTTL)
		checks["redis"] = redisPinger{client: redisClient}
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool, logger)
	numbers := shared.NewSequenceGenerator(dbpool)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger, ledger.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Logger:             logger,
	})
	salesService := sales.NewService(sales.NewRepository(dbpool), ledgerService, numbers, auditLogger, sales.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), inventoryService, numbers, auditLogger, procurement.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	returnsService := returns.NewService(returns.NewRepository(dbpool), inventoryService, numbers, auditLogger, returns.ServiceConfig{
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		ReturnsHandler:     returns.NewHandler(logger, returnsService),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
		Checks:             checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
