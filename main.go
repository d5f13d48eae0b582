package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"league-sync-service/config"
	"league-sync-service/database"
	"league-sync-service/services"
	"league-sync-service/web"
)

func main() {
	log.Println("Starting league sync service...")

	// 加载配置
	cfg := config.Load()

	// 连接数据库
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 运行数据库迁移
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database connected and migrated")

	// 告警通知器
	notifier := services.NewWebhookNotifier(cfg.AlertWebhook)

	// 流水线统计
	stats := services.NewStatsTracker(cfg.StatsInterval)
	go stats.StartPeriodicReport()

	// 持久化适配器与重试控制器
	store := services.NewMatchStore(db)
	controller := services.NewRetryController(store, nil, notifier, stats, services.RetryOptions{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
	})

	// 队列：AMQP 或内存（本地开发）
	var (
		publisher services.IngestPublisher
		stop      func()
	)

	switch cfg.QueueMode {
	case "memory":
		broker := services.NewInMemoryBroker()
		brokerPub := services.NewBrokerPublisher(broker, cfg.InboundQueue, cfg.DeadLetterQueue)
		controller.SetDeadLetterPublisher(brokerPub)

		pool := services.NewWorkerPool(broker, controller, cfg.InboundQueue, cfg.WorkerCount)
		if err := pool.Start(); err != nil {
			log.Fatalf("Failed to start worker pool: %v", err)
		}

		publisher = brokerPub
		stop = func() {
			broker.Close()
			pool.Stop()
		}
		log.Printf("In-memory queue started with %d workers", cfg.WorkerCount)

	default:
		connector := services.NewAMQPConnector(cfg, controller)
		controller.SetDeadLetterPublisher(connector)

		if err := connector.Start(); err != nil {
			log.Fatalf("Failed to start AMQP connector: %v", err)
		}

		publisher = connector
		stop = connector.Stop
		log.Printf("AMQP consumer started on queue %s with %d workers", cfg.InboundQueue, cfg.WorkerCount)
	}

	// 启动Web服务器
	server := web.NewServer(cfg, db, store, stats, publisher)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server error: %v", err)
		}
	}()

	log.Printf("Web server started on port %s", cfg.Port)

	if err := notifier.NotifyServiceStart(cfg.Environment, cfg.WorkerCount); err != nil {
		log.Printf("Failed to send startup notification: %v", err)
	}

	log.Println("Service is running. Press Ctrl+C to stop.")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down service...")

	// 先停队列（等在途消息到终态），再停 Web 与统计
	stop()
	stats.Stop()
	server.Stop()

	log.Println("Service stopped")
}
