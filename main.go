package main

import (
	"context"
	"log"
	"os"
	"time"

	"personalchat/internal/ai"
	"personalchat/internal/api"
	"personalchat/internal/auth"
	"personalchat/internal/chat"
	"personalchat/internal/config"
	"personalchat/internal/redis"
	"personalchat/internal/session"
	"personalchat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("PERSONALCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("PERSONALCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, chat_documents
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, remote chat storage disabled: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	notifier := auth.NewNotifier(rdb)
	authService := auth.NewService(db, notifier, 24*time.Hour)

	ctx := context.Background()
	provider := os.Getenv("PERSONALCHAT_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	chatter, err := ai.NewClient(ctx, cfg, provider)
	if err != nil {
		log.Fatalf("init %s client: %v", provider, err)
	}
	var images chat.ImageGenerator
	imageClient, err := ai.NewImageClient(ctx, cfg)
	if err != nil {
		log.Printf("image generation disabled: %v", err)
	} else {
		images = imageClient
	}

	dispatchCfg := session.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	manager := session.NewManager(db, rdb, cfg, chatter, images, notifier, dispatchCfg)

	handlers := api.NewHandler(authService, manager)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
