// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/config"
	"github.com/fawa-io/filedrop/pkg/cors"
	"github.com/fawa-io/filedrop/pkg/db"
	"github.com/fawa-io/filedrop/pkg/dropapi"
	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/middleware"
	"github.com/fawa-io/filedrop/pkg/storage"
	"github.com/fawa-io/filedrop/pkg/util"
	"github.com/fawa-io/filedrop/service/file"
	"github.com/fawa-io/filedrop/service/retention"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.Initconfig(); err != nil {
		fwlog.Fatalf("Failed to initialize configuration: %v", err)
	}
	if err := run(config.Get()); err != nil {
		fwlog.Fatalf("Server stopped: %v", err)
	}
	fwlog.Info("Server shutdown complete")
}

func run(cfg config.Config) error {
	applyLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Storage.Backend == config.BackendPostgres || cfg.Catalog.Backend == config.CatalogPostgres {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		p, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer p.Close()
		pool = p
	}

	backend, err := openBackend(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			fwlog.Errorf("Error closing storage backend: %v", err)
		}
	}()

	cat, err := openCatalog(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := cat.Close(); err != nil {
			fwlog.Errorf("Error closing catalog: %v", err)
		}
	}()

	policy, err := policyFromConfig(cfg)
	if err != nil {
		return err
	}
	validator := file.NewValidator(policy)

	if cfg.Upload.StagingDir != "" {
		if err := util.EnsureDir(cfg.Upload.StagingDir); err != nil {
			return err
		}
	}
	svc := file.NewService(backend, cat, validator, file.Options{
		IDLength:   cfg.Upload.IDLength,
		StagingDir: cfg.Upload.StagingDir,
		BaseURL:    cfg.BaseURL,
	})

	config.OnChange(func(next config.Config) {
		applyLogLevel(next.LogLevel)
		p, err := policyFromConfig(next)
		if err != nil {
			fwlog.Errorf("Keeping the previous upload policy: %v", err)
			return
		}
		validator.SetPolicy(p)
		fwlog.Infof("Upload policy reloaded: max=%s types=%d", humanize.IBytes(uint64(p.MaxSize)), len(p.Allowed))
	})

	publicSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	admin := http.NewServeMux()
	admin.Handle("/metrics", promhttp.Handler())
	admin.Handle(dropapi.NewDropServiceHandler(file.NewDropServer(svc)))
	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           h2c.NewHandler(admin, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := retention.NewSweeper(cat, svc, cfg.Retention.Period, cfg.Retention.Interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fwlog.Infof("Server starting on %v", cfg.Addr)
		var err error
		if cfg.CertFile != "" {
			err = publicSrv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = publicSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		fwlog.Infof("Admin server starting on %v", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		fwlog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := publicSrv.Shutdown(shutdownCtx); err != nil {
			fwlog.Errorf("Server shutdown error: %v", err)
		}
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			fwlog.Errorf("Admin server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func newRouter(svc *file.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.NewCORS().Handler)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.GetHead)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	file.NewFileServiceHandler(svc).Register(r)
	return r
}

func applyLogLevel(level string) {
	lv, err := fwlog.ParseLevel(level)
	if err != nil {
		fwlog.Warnf("Unknown log level %q, using info", level)
		lv = fwlog.LevelInfo
	}
	fwlog.SetLevel(lv)
}

func policyFromConfig(cfg config.Config) (file.Policy, error) {
	maxSize, err := cfg.Upload.MaxFileSizeBytes()
	if err != nil {
		return file.Policy{}, err
	}
	allowed, err := file.ParseAllowedTypes(cfg.Upload.AllowedTypes)
	if err != nil {
		return file.Policy{}, err
	}
	return file.Policy{MaxSize: maxSize, Allowed: allowed, Sniff: cfg.Upload.SniffContent}, nil
}

func openBackend(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		partSize, err := cfg.Storage.PartSizeBytes()
		if err != nil {
			return nil, err
		}
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AccessKeyID,
			SecretAccessKey: cfg.Minio.SecretAccessKey,
			Bucket:          cfg.Minio.Bucket,
			UseSSL:          cfg.Minio.UseSSL,
			PartSize:        uint64(partSize),
		})
	case config.BackendPostgres:
		chunkSize, err := cfg.Storage.ChunkSizeBytes()
		if err != nil {
			return nil, err
		}
		fwlog.Infof("Storing payloads in PostgreSQL, chunk size %s", humanize.IBytes(uint64(chunkSize)))
		return storage.NewPostgres(pool, int(chunkSize)), nil
	default:
		fwlog.Infof("Storing payloads under %s", cfg.Storage.Dir)
		return storage.NewFilesystem(cfg.Storage.Dir)
	}
}

func openCatalog(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (catalog.Catalog, error) {
	var (
		cat catalog.Catalog
		err error
	)
	switch cfg.Catalog.Backend {
	case config.CatalogDragonfly:
		cat, err = catalog.NewDragonfly(ctx, cfg.Dragonfly.Addr)
	case config.CatalogPostgres:
		cat = catalog.NewPostgres(pool)
	default:
		fwlog.Warn("Using the ephemeral in-memory catalog: records are lost on restart and their payloads are orphaned")
		cat = catalog.NewMemory()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Catalog.CacheSize > 0 {
		return catalog.NewCached(cat, cfg.Catalog.CacheSize, catalog.DefaultCacheTTL)
	}
	return cat, nil
}
