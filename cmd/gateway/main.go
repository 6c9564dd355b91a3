package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"hirepilot/internal/config"
	"hirepilot/internal/coordination"
	"hirepilot/internal/database"
	"hirepilot/internal/gateway"
	"hirepilot/internal/logging"
	"hirepilot/internal/marketplace"
	"hirepilot/internal/queue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logging.Init()

	log.Println("🚀 Starting HirePilot Gateway...")

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()

	redisService, err := coordination.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()
	log.Println("✅ Redis connected")

	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())
	log.Println("✅ MongoDB connected")

	conversations := database.NewConversationStore(mongoDB)
	profiles := database.NewProfileStore(mongoDB)
	accounts := database.NewAccountStore(mongoDB)
	vacancies := database.NewVacancyStore(mongoDB)

	taskQueue, err := queue.NewTaskQueue(redisService.Client(), cfg.ConsumerGroup)
	if err != nil {
		log.Fatalf("❌ Failed to initialize task queue: %v", err)
	}

	client := marketplace.NewClient(cfg.MarketplaceBaseURL, cfg.MarketplaceRateLimit, accounts)
	debouncer := coordination.NewDebouncer(redisService, cfg.DebounceWindow)
	ingestor := marketplace.NewIngestor(conversations, profiles, vacancies, accounts, client, taskQueue, debouncer)

	server := gateway.NewServer(ingestor, taskQueue, cfg.WebhookSecret)

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Gateway server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("⏹️ Shutting down gateway...")
	if err := server.Shutdown(); err != nil {
		log.Printf("⚠️ Gateway shutdown: %v", err)
	}
	log.Println("👋 Gateway stopped")
}
