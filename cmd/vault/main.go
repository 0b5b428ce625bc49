// Command vault boots the ingestion and streaming core: connects to
// Postgres, applies migrations, wires the Hasher/Prober/Scanner/
// StreamPlan Builder/Materializer/Cache stack, starts the asynq job
// worker, and serves the HTTP API — grounded on CineVault's
// cmd/cinevault/main.go bootstrap shape.
package main

import (
	"context"
	"log"

	"github.com/beamstream/vault/internal/api"
	"github.com/beamstream/vault/internal/config"
	"github.com/beamstream/vault/internal/db"
	"github.com/beamstream/vault/internal/ffmpeg"
	"github.com/beamstream/vault/internal/fingerprint"
	"github.com/beamstream/vault/internal/jobs"
	"github.com/beamstream/vault/internal/materializer"
	"github.com/beamstream/vault/internal/repository"
	"github.com/beamstream/vault/internal/scanner"
	"github.com/beamstream/vault/internal/streamcache"
	"github.com/beamstream/vault/internal/streamplan"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database, cfg.MigrateDir); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	log.Println("database connected and migrated")

	libRepo := repository.NewLibraryRepository(database)
	catRepo := repository.NewCatalogRepository(database)
	fileRepo := repository.NewFileRepository(database)
	streamRepo := repository.NewMediaStreamRepository(database)
	cacheRepo := repository.NewStreamCacheRepository(database)

	hasher := fingerprint.New(cfg.HashWorkers)
	prober := ffmpeg.NewProber(cfg.FFprobePath, cfg.ProbeConcurrency)

	sc := scanner.New(database, hasher, prober, libRepo, catRepo, fileRepo, streamRepo,
		cfg.ScanConcurrency, cfg.VideoExtensions)

	planBuilder := streamplan.NewBuilder(prober, hasher)
	mat := materializer.New(cfg.FFmpegPath)
	cache := streamcache.New(cfg.CacheDir, cacheRepo, fileRepo, planBuilder, mat)

	jobQueue := jobs.NewQueue(cfg.RedisAddr)
	server := api.NewServer(cfg, database, libRepo, fileRepo, sc, cache, jobQueue)

	jobQueue.RegisterHandler(jobs.TaskScanLibrary, jobs.NewScanHandler(sc, server.WSHub()))
	jobQueue.RegisterHandler(jobs.TaskMaterializeArtifact, jobs.NewMaterializeHandler(cache, server.WSHub()))

	go func() {
		if err := jobQueue.Start(context.Background()); err != nil {
			log.Printf("job queue worker stopped: %v", err)
		}
	}()
	defer jobQueue.Stop()

	log.Printf("server starting on :%d", cfg.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
