package main

import (
	"fmt"
	"log"
	"time"

	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/backup"
	"github.com/selfdb/gateway/internal/config"
	"github.com/selfdb/gateway/internal/dbpool"
	"github.com/selfdb/gateway/internal/functions"
	"github.com/selfdb/gateway/internal/handlers"
	"github.com/selfdb/gateway/internal/realtime"
	"github.com/selfdb/gateway/internal/registry"
	"github.com/selfdb/gateway/internal/schema"
	"github.com/selfdb/gateway/internal/storage"
	"github.com/selfdb/gateway/internal/system"
	"github.com/selfdb/gateway/internal/tables"
	"github.com/selfdb/gateway/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	pool, err := dbpool.Open(cfg.DatabaseURL, cfg.DBPoolMaxOpen)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer pool.Close()
	log.Println("✅ connected to database")

	authSvc := auth.NewService(pool, auth.Config{
		SecretKey:                cfg.SecretKey,
		AccessTokenExpireMinutes: cfg.AccessTokenExpireMinutes,
		RefreshTokenExpireDays:   cfg.RefreshTokenExpireDays,
		BcryptCost:               0,
	})
	defer authSvc.Close()

	userReg := registry.NewUsers(pool, authSvc)

	storageBaseURL := fmt.Sprintf("http://%s:%s", cfg.StorageHost, cfg.StorageInternalPort)
	storageClient := storage.NewClient(storage.ClientConfig{
		BaseURL:           storageBaseURL,
		MaxConnections:    cfg.StorageMaxConnections,
		MaxKeepaliveConns: cfg.StorageMaxKeepalive,
		ConnectTimeout:    durationSeconds(cfg.StorageConnectTimeoutSeconds),
		ChunkTimeout:      durationSeconds(cfg.StorageChunkTimeoutSeconds),
	})
	buckets := storage.NewBuckets(pool, storageClient)
	files := storage.NewFiles(pool, buckets, storageClient)

	tableEngine := tables.NewEngine(pool)
	rows := tables.NewRows(pool, tableEngine)
	history := tables.NewHistory(pool)
	console := tables.NewConsole(pool, tableEngine, history)
	snippets := tables.NewSnippets(pool)

	functionsBaseURL := fmt.Sprintf("http://%s:%s", cfg.FunctionsHost, cfg.FunctionsInternalPort)
	runtime := functions.NewRuntime(functionsBaseURL)
	functionRegistry := functions.NewRegistry(pool, runtime)
	webhooks := functions.NewWebhooks(pool, runtime)

	schemaReader := schema.NewReader(pool)
	statusReporter := system.NewReporter(pool, cfg.AppVersion)

	scheduler := backup.New(pool, backup.DBConfig{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		User:     cfg.PGUser,
		Password: cfg.PGPassword,
		Database: cfg.PGDatabase,
	}, cfg.BackupDir, "", ".env", cfg.BackupRetentionDays)
	if err := scheduler.Start(cfg.BackupScheduleCron); err != nil {
		log.Printf("⚠️  backup scheduler not started: %v", err)
	} else {
		defer scheduler.Stop()
		log.Println("📡 backup scheduler running")
	}

	brokerBase := fmt.Sprintf("%s:%s", cfg.BrokerHost, cfg.RealtimeInternalPort)
	realtimeProxy := realtime.NewProxy(authSvc, brokerBase)

	app := routes.New(routes.Deps{
		Users:       handlers.NewUsers(userReg, authSvc),
		Tables:      handlers.NewTables(tableEngine, rows, console, history, snippets, authSvc),
		Storage:     handlers.NewStorage(buckets, files, authSvc),
		Functions:   handlers.NewFunctions(functionRegistry, webhooks, authSvc),
		Schema:      handlers.NewSchema(schemaReader, authSvc),
		System:      handlers.NewSystem(statusReporter),
		Backups:     handlers.NewBackups(scheduler, authSvc),
		Realtime:    handlers.NewRealtime(realtimeProxy),
		Health:      handlers.NewHealth(pool, storageClient, storageBaseURL+"/health", cfg.AppVersion),
		APIKey:      cfg.APIKey,
		CORSOrigins: cfg.CORSOrigins,
	})

	log.Printf("🚀 %s starting...", cfg.AppName)
	log.Printf("📡 listening on port %s", cfg.ServerPort)
	log.Fatal(app.Listen(":" + cfg.ServerPort))
}

func durationSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
