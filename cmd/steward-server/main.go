package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightclass/steward/internal/catalog"
	"github.com/brightclass/steward/internal/guardrail"
	"github.com/brightclass/steward/internal/knowledge"
	"github.com/brightclass/steward/internal/ledger"
	"github.com/brightclass/steward/internal/server"
	"github.com/brightclass/steward/internal/telemetry"
	"github.com/brightclass/steward/internal/tenant"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("STEWARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("STEWARD_PORT", "8084")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	catalogPath := envOrDefault("STEWARD_CATALOG_FILE", "")
	packDir := envOrDefault("STEWARD_PACK_DIR", "")
	authCacheTTL := envOrDefaultInt("STEWARD_AUTH_CACHE_TTL_S", 30)
	catalogCacheTTL := envOrDefaultInt("STEWARD_CATALOG_CACHE_TTL_S", 60)

	logger.Info("starting steward server",
		zap.String("port", port),
		zap.Bool("postgres", postgresDSN != ""),
		zap.Bool("clickhouse", clickhouseDSN != ""),
	)

	// Telemetry — ClickHouse or log ledger fallback
	var telemetryLedger telemetry.Ledger
	if clickhouseDSN != "" {
		chLedger, err := telemetry.NewClickHouseLedger(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log ledger",
				zap.Error(err),
			)
			telemetryLedger = telemetry.NewLogLedger(logger)
		} else {
			telemetryLedger = chLedger
			logger.Info("clickhouse telemetry ledger connected")
		}
	} else {
		telemetryLedger = telemetry.NewLogLedger(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log ledger")
	}
	defer telemetryLedger.Close()

	// Postgres pool shared by the catalog, audit ledger, and auth
	var db *sql.DB
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	}

	// Tool catalog — Postgres, file, or fail
	var toolCatalog catalog.Catalog
	switch {
	case db != nil:
		toolCatalog = catalog.NewPostgresCatalog(catalog.PostgresCatalogConfig{
			DB:       db,
			CacheTTL: time.Duration(catalogCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres tool catalog connected")
	case catalogPath != "":
		fc, err := catalog.NewFileCatalog(catalogPath)
		if err != nil {
			logger.Fatal("failed to load catalog file", zap.Error(err))
		}
		toolCatalog = fc
		logger.Info("file tool catalog loaded", zap.String("path", catalogPath))
	default:
		logger.Fatal("no tool catalog: set POSTGRES_DSN or STEWARD_CATALOG_FILE")
	}

	// Audit ledger — Postgres or in-memory (dev only: records do not survive restarts)
	var auditStore ledger.Store
	if db != nil {
		auditStore = ledger.NewPostgresStore(db)
	} else {
		auditStore = ledger.NewMemoryStore()
		logger.Warn("no POSTGRES_DSN set, audit ledger is in-memory")
	}

	// Tenant auth — Postgres or static (dev)
	var authenticator tenant.Authenticator
	if db != nil {
		authenticator = tenant.NewPostgresAuthenticator(tenant.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = tenant.NewStaticAuthenticator()
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	// Knowledge packs
	var packSource knowledge.Source
	if packDir != "" {
		src, err := knowledge.NewFileSource(packDir, logger)
		if err != nil {
			logger.Fatal("failed to load knowledge packs", zap.Error(err))
		}
		packSource = src
	} else {
		packSource = knowledge.NewMemorySource()
		logger.Warn("no STEWARD_PACK_DIR set, knowledge registry is empty")
	}
	registry := knowledge.NewRegistry(packSource, logger)

	engine := guardrail.NewEngine(guardrail.Config{
		Catalog:   toolCatalog,
		Store:     auditStore,
		Telemetry: telemetryLedger,
		Logger:    logger,
	})
	// Tool handlers are registered by the embedding application; the
	// server binary runs with whatever has been linked in.
	registerBuiltinHandlers(engine)

	router := server.NewRouter(&server.Dependencies{
		Engine:    engine,
		Registry:  registry,
		Telemetry: telemetryLedger,
		Auth:      authenticator,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("steward server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
