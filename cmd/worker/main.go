package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hirepilot/internal/calendar"
	"hirepilot/internal/config"
	"hirepilot/internal/coordination"
	"hirepilot/internal/database"
	"hirepilot/internal/engine"
	"hirepilot/internal/faults"
	"hirepilot/internal/jobs"
	"hirepilot/internal/knowledge"
	"hirepilot/internal/logging"
	"hirepilot/internal/marketplace"
	"hirepilot/internal/metrics"
	"hirepilot/internal/notify"
	"hirepilot/internal/oracle"
	"hirepilot/internal/queue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logging.Init()

	log.Println("🚀 Starting HirePilot Worker...")

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()

	if cfg.OpenAIAPIKey == "" {
		log.Fatal("❌ OPENAI_API_KEY environment variable is required")
	}

	metrics.Init()

	// Redis: task stream, locks, semaphores, quota and alert channel.
	redisService, err := coordination.NewRedisService(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()
	log.Println("✅ Redis connected")

	// MongoDB: conversations, profiles, accounts, vacancies, reminders.
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())
	log.Println("✅ MongoDB connected")

	// SQL event log: oracle usage and funnel analytics.
	eventLog, err := database.NewEventLog(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open event log: %v", err)
	}
	defer eventLog.Close()

	rulesService, err := config.NewRulesService(cfg.RulesPath)
	if err != nil {
		log.Fatalf("❌ Failed to load rules from %s: %v", cfg.RulesPath, err)
	}
	if err := rulesService.Watch(); err != nil {
		log.Printf("⚠️ Rules file watcher unavailable: %v", err)
	}
	log.Printf("📋 Rules loaded from %s", cfg.RulesPath)

	conversations := database.NewConversationStore(mongoDB)
	profiles := database.NewProfileStore(mongoDB)
	accounts := database.NewAccountStore(mongoDB)
	vacancies := database.NewVacancyStore(mongoDB)
	reminders := database.NewReminderStore(mongoDB)

	taskQueue, err := queue.NewTaskQueue(redisService.Client(), cfg.ConsumerGroup)
	if err != nil {
		log.Fatalf("❌ Failed to initialize task queue: %v", err)
	}
	log.Printf("✅ Task queue ready (consumer %s)", taskQueue.Consumer())

	oracleGate := coordination.NewSemaphore(redisService, "oracle", cfg.OracleConcurrency, cfg.SemaphoreTTL)
	backend := oracle.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OracleModel, cfg.OracleTemperature)
	adapter := oracle.NewAdapter(backend, oracleGate, func(o *oracle.Options) {
		o.MaxRetries = cfg.OracleRetries
		o.Backoff = faults.NewBackoff(cfg.BackoffInitialMs, cfg.BackoffMaxMs, 2.0, 20)
	})
	auditor := oracle.NewAuditor(backend, oracleGate)

	client := marketplace.NewClient(cfg.MarketplaceBaseURL, cfg.MarketplaceRateLimit, accounts).
		WithSendGates(func(accountID string) marketplace.SendGate {
			return coordination.NewSemaphore(redisService, "send:"+accountID, cfg.MarketplaceConcurrency, cfg.SemaphoreTTL)
		})
	debouncer := coordination.NewDebouncer(redisService, cfg.DebounceWindow)
	ingestor := marketplace.NewIngestor(conversations, profiles, vacancies, accounts, client, taskQueue, debouncer)

	xlsxCalendar, err := calendar.NewXLSXCalendar(cfg.CalendarPath)
	if err != nil {
		log.Fatalf("❌ Failed to open calendar %s: %v", cfg.CalendarPath, err)
	}
	log.Printf("📅 Calendar ready at %s", cfg.CalendarPath)

	notifier := notify.NewNotifier(redisService, cfg.AlertChannel)
	knowledgeService := knowledge.NewService()
	quota := coordination.NewQuotaLedger(redisService)

	eng := engine.New(engine.Deps{
		Conversations: conversations,
		Profiles:      profiles,
		Accounts:      accounts,
		Vacancies:     vacancies,
		Reminders:     reminders,
		Oracle:        adapter,
		Auditor:       auditor,
		Messenger:     client,
		Calendar:      xlsxCalendar,
		Events:        eventLog,
		Alerts:        notifier,
		Queue:         taskQueue,
		Knowledge:     knowledgeService,
		Rules:         rulesService,
		Quota:         quota,
		NewLock: func() engine.Lock {
			return coordination.NewConversationLock(redisService, cfg.LockTTL)
		},
		OracleModel:   cfg.OracleModel,
		QuotaDefault:  cfg.QuotaDefault,
		HistoryWindow: cfg.HistoryWindow,
	})

	scheduler, err := jobs.NewScheduler(redisService, conversations, profiles, reminders, taskQueue, rulesService, cfg.SilenceSweepCron)
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("❌ Failed to start background jobs: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chat polling backfills anything the webhook missed.
	poller := marketplace.NewPoller(accounts, client, ingestor, cfg.PollInterval)
	go poller.Run(ctx)

	if cfg.WebhookBaseURL != "" {
		go marketplace.RegisterWebhooks(ctx, accounts, client, cfg.WebhookBaseURL)
	}

	go func() {
		if err := taskQueue.Consume(ctx, eng.ProcessTask); err != nil && ctx.Err() == nil {
			log.Fatalf("❌ Task consumer stopped: %v", err)
		}
	}()

	// Metrics and liveness for the worker process.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
			log.Printf("⚠️ Metrics server stopped: %v", err)
		}
	}()
	log.Println("✅ Worker ready, consuming tasks")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("⏹️ Shutting down worker...")
	cancel()
	if err := scheduler.Stop(); err != nil {
		log.Printf("⚠️ Job scheduler shutdown: %v", err)
	}

	// Give in-flight tasks a moment to finish before the process exits.
	time.Sleep(2 * time.Second)
	log.Println("👋 Worker stopped")
}
