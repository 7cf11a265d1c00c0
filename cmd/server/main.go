// Command server is the process entrypoint: load configuration, wire
// the cache/verifier/fetcher/processor/pipeline collaborators, and serve
// the HTTP surface until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/server/main.go for process structure
// (godotenv, vips.Startup/Shutdown, log setup) and on
// _examples/original_source/src/main.rs/server.rs for route wiring and
// signal handling (SIGTERM/SIGHUP/SIGINT all trigger graceful shutdown).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/joho/godotenv"

	"github.com/imaged/imaged-go/internal/cache"
	"github.com/imaged/imaged-go/internal/config"
	"github.com/imaged/imaged-go/internal/fetcher"
	"github.com/imaged/imaged-go/internal/logger"
	"github.com/imaged/imaged-go/internal/originstore"
	"github.com/imaged/imaged-go/internal/pipeline"
	"github.com/imaged/imaged-go/internal/processor"
	"github.com/imaged/imaged-go/internal/server"
	"github.com/imaged/imaged-go/internal/thumbhash"
	"github.com/imaged/imaged-go/internal/verifier"
)

func main() {
	logger.SetOutput(os.Stderr)
	logger.SetFlags(log.LstdFlags | log.Lshortfile)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("[Server] invalid configuration: %v", err)
	}
	logger.InitFromEnv()

	logger.Infof("[Server] starting image processing server…")

	numCPU := runtime.NumCPU()
	vipsConcurrency := cfg.VIPSConcurrency
	if vipsConcurrency <= 0 {
		vipsConcurrency = numCPU
	}
	vips.Startup(&vips.Config{ConcurrencyLevel: vipsConcurrency})
	defer vips.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var memCache *cache.MemCache
	if cfg.MemCacheSizeBytes > 0 {
		memCache, err = cache.NewMemCache(cfg.MemCacheSizeBytes)
		if err != nil {
			logger.Fatalf("[Server] failed to construct mem cache: %v", err)
		}
		logger.Infof("[Server] mem cache enabled: %d bytes", cfg.MemCacheSizeBytes)
	}

	var diskCache *cache.DiskCache
	if cfg.DiskCacheSizeBytes > 0 {
		diskCache, err = cache.NewDiskCache(ctx, cfg.DiskCachePath, cfg.DiskCacheSizeBytes)
		if err != nil {
			logger.Fatalf("[Server] failed to construct disk cache: %v", err)
		}
		defer diskCache.Close()
		logger.Infof("[Server] disk cache enabled: %d bytes at %s", cfg.DiskCacheSizeBytes, cfg.DiskCachePath)
	}

	v, err := buildVerifier(cfg)
	if err != nil {
		logger.Fatalf("[Server] failed to construct verifier: %v", err)
	}

	var origin fetcher.OriginStore
	if cfg.OriginS3AccessKey != "" || cfg.OriginS3BaseURL != "" {
		store, err := originstore.New(ctx, originstore.Config{
			Region:    cfg.OriginS3Region,
			AccessKey: cfg.OriginS3AccessKey,
			SecretKey: cfg.OriginS3SecretKey,
			BaseURL:   cfg.OriginS3BaseURL,
		})
		if err != nil {
			logger.Fatalf("[Server] failed to construct origin store: %v", err)
		}
		origin = store
		logger.Infof("[Server] s3 origin store enabled")
	}

	f := fetcher.New(fetcher.Config{
		Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		Origin:  origin,
	})

	proc := processor.New(numCPU)

	admission := cfg.RequestConcurrency
	if admission <= 0 {
		admission = numCPU * 10
	}

	pl := pipeline.New(pipeline.Config{
		AdmissionCapacity: admission,
		Mem:               memCache,
		Disk:              diskCache,
		Fetcher:           f,
		Processor:         proc,
		ThumbHash:         thumbhash.Encode,
	})

	srv := server.New(pl, v)

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: srv.Mux(),
	}

	go func() {
		logger.Infof("[Server] listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("[Server] server failed: %v", err)
		}
	}()

	waitForShutdownSignal()
	logger.Infof("[Server] shutdown signal received, draining connections…")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[Server] graceful shutdown failed: %v", err)
	}
}

// waitForShutdownSignal blocks until SIGTERM, SIGHUP, or SIGINT, mirroring
// the original's tokio::select over all three signal kinds.
func waitForShutdownSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	<-ch
}

func buildVerifier(cfg *config.Config) (*verifier.Verifier, error) {
	if len(cfg.VerifyKeysHex) == 0 {
		return verifier.New(verifier.SchemeHMACSHA256, nil), nil
	}

	scheme := verifier.SchemeHMACSHA256
	if cfg.VerifyScheme == config.VerifySchemeEd25519 {
		scheme = verifier.SchemeEd25519
	}

	keys, err := verifier.KeysFromHex(scheme, cfg.VerifyKeysHex)
	if err != nil {
		return nil, err
	}
	return verifier.New(scheme, keys), nil
}
