package main

import (
	"context"
	"os"
	"time"

	"jettyreport/internal/api"
	"jettyreport/internal/archive"
	"jettyreport/internal/config"
	"jettyreport/internal/correlate"
	"jettyreport/internal/logger"
	"jettyreport/internal/pipeline"
	"jettyreport/internal/progress"
	"jettyreport/internal/redis"
	"jettyreport/internal/report"
	"jettyreport/internal/service/artifact"
	"jettyreport/internal/storage"
	"jettyreport/internal/worker"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfgPath := os.Getenv("JETTYREPORT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	basic := cfg.BasicConfig
	logger.SetLevel(basic.LogLevel)

	dbType := os.Getenv("JETTYREPORT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Infof("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: uploads, reports
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatalf("migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := progress.NewHub(time.Duration(basic.ProgressGraceSeconds) * time.Second)
	var events progress.Broadcaster = hub
	var rdb *redis.Client
	if redis.Enabled(cfg) {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			logger.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		relay := progress.NewRedisRelay(rdb, hub)
		if err := relay.Start(ctx); err != nil {
			logger.Fatalf("start progress relay: %v", err)
		}
		events = relay
	}

	policy, err := correlate.ParseMatchPolicy(basic.MatchPolicy)
	if err != nil {
		logger.Fatalf("parse match policy: %v", err)
	}
	processor := &pipeline.Processor{
		Expander:      archive.Expander{MaxNestedDepth: basic.MaxNestedDepth},
		Engine:        correlate.Engine{Policy: policy},
		Writer:        report.Writer{HeaderLocale: basic.HeaderLocale},
		WorkDir:       basic.WorkDir,
		KeepExtracted: basic.KeepExtracted,
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  basic.MinWorkers,
		MaxWorkers:  basic.MaxWorkers,
		QueueSize:   basic.QueueSize,
		IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Close()

	ttl := time.Duration(basic.ReportTTL) * time.Minute
	artifacts := artifact.NewService(db, dbType, ttl)
	artifacts.StartCleaner(ctx, time.Duration(basic.CleanInterval)*time.Minute)

	handlers := api.NewHandler(api.Options{
		WorkDir:            basic.WorkDir,
		MaxPartSize:        basic.MaxPartSize,
		AvoidFileConflicts: basic.ConflictAvoidance(),
		ProgressInterval:   time.Duration(basic.ProgressIntervalMs) * time.Millisecond,
		Hub:                hub,
		Events:             events,
		Dispatcher:         dispatcher,
		Processor:          processor,
		Artifacts:          artifacts,
		Cache:              rdb,
		ClaimTTL:           ttl,
	})

	router := gin.Default()
	handlers.RegisterRoutes(router)

	logger.Infof("jettyreport listening on %s (work dir %s)", basic.ServerAddress, basic.WorkDir)
	if err := router.Run(basic.ServerAddress); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}
