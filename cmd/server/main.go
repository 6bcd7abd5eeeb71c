package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/api"
	"github.com/rpattn/labframe/internal/catalog"
	"github.com/rpattn/labframe/internal/config"
	"github.com/rpattn/labframe/internal/db"
	"github.com/rpattn/labframe/internal/export"
	"github.com/rpattn/labframe/internal/ingestion"
	"github.com/rpattn/labframe/internal/logging"
	"github.com/rpattn/labframe/internal/middleware"
	"github.com/rpattn/labframe/internal/repository"
	"github.com/rpattn/labframe/internal/samples"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(shutdown(logger, run(cfg, logger)))
}

// shutdown reports the error returned by run and flushes the logger before
// the process exits; os.Exit skips deferred calls.
func shutdown(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("Server stopped", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.close()

	cat := catalog.New(store.definitions, logger)
	if cfg.Catalog.SeedFile != "" {
		defs, err := catalog.LoadDefinitionsFile(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		if err := cat.Seed(ctx, defs); err != nil {
			return err
		}
	}

	opts := []samples.Option{samples.WithHistoryMaxLimit(cfg.Samples.HistoryMaxLimit)}
	if cfg.Samples.PreparedOnFutureTolerance != nil {
		opts = append(opts, samples.WithPreparedOnTolerance(*cfg.Samples.PreparedOnFutureTolerance))
	}
	sampleService := samples.NewService(store.samples, cat, logger, opts...)
	importer := ingestion.NewService(sampleService, logger, ingestion.WithImportLog(store.importLogs))
	importHandler := ingestion.NewHTTPHandler(importer, logger)

	mux := http.NewServeMux()
	api.NewHandler(sampleService, logger).RegisterRoutes(mux)
	mux.Handle("POST /samples/import", importHandler)
	mux.Handle("GET /samples/import/logs", importHandler)
	mux.Handle("GET /samples/export", export.NewHTTPHandler(export.NewService(sampleService, logger), logger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler.Handler(middleware.RequestLogger(logger)(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", server.Addr),
			zap.String("storage_driver", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

type storage struct {
	samples     repository.SampleRepository
	definitions repository.DefinitionRepository
	importLogs  repository.ImportLogRepository
	close       func()
}

// openStorage connects the configured driver and applies migrations.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if err := db.RunMigrations(db.DialectPostgres, cfg.Postgres.MigrationURL(), logger); err != nil {
			return storage{}, err
		}
		conn, err := db.NewConnection(ctx, cfg.Postgres)
		if err != nil {
			return storage{}, err
		}
		return storage{
			samples:     repository.NewSampleRepository(conn.Pool, logger),
			definitions: repository.NewDefinitionRepository(conn.Pool, logger),
			importLogs:  repository.NewImportLogRepository(conn.Pool),
			close:       conn.Close,
		}, nil

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return storage{}, err
		}
		if err := db.RunMigrations(db.DialectSQLite, db.SQLiteURL(cfg.SQLitePath), logger); err != nil {
			_ = conn.Close()
			return storage{}, err
		}
		store := repository.NewSQLiteStore(conn)
		return storage{
			samples:     store,
			definitions: store,
			importLogs:  store,
			close: func() {
				if err := conn.Close(); err != nil {
					logger.Warn("Failed to close sqlite database", zap.Error(err))
				}
			},
		}, nil

	case config.DriverMemory:
		logger.Warn("Using in-memory storage; data is lost on exit")
		store := repository.NewMemoryStore()
		return storage{samples: store, definitions: store, importLogs: store, close: func() {}}, nil
	}
	return storage{}, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}
