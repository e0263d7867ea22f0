package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"farmtrace/anchoring"
	blockchain "farmtrace/blockchain/client"
	"farmtrace/config"
	"farmtrace/internal/health"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/consumer"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	worker "farmtrace/processing"
	"farmtrace/statemachine/journey"
	"farmtrace/storage/store"
	"farmtrace/tracking"

	"github.com/alecthomas/kong"
)

type cli struct {
	Config string `help:"Engine configuration file." default:"./config/engine.defaults.yml" type:"path"`
	Demo   bool   `help:"Queue a demo batch journey through the in-process queue (mock broker only)."`
}

func main() {
	var args cli
	kong.Parse(&args, kong.Name("engine"), kong.Description("Anchors queued farm activities on the ledger."))

	// Bootstrap logger until the configured one is built
	bootLog, err := logger.New("development", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	// 1. Load Engine Config
	engineCfg, err := config.LoadEngineConfig(args.Config, bootLog.Named("config"))
	if err != nil {
		bootLog.Fatal("Failed to load engine configuration", "error", err)
	}

	log, err := logger.New(engineCfg.Monitoring.LogMode, engineCfg.Monitoring.LogLevel)
	if err != nil {
		bootLog.Fatal("Failed to build logger", "error", err)
	}
	log = log.Named("engine")
	defer log.Sync()
	log.Info("Starting Anchoring Engine...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Dependencies
	engineCfg.Database.LogConfiguration(log)
	taskStore, err := store.New(ctx, engineCfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize task store", "error", err)
	}
	defer taskStore.Close()

	log.Info("Initializing ledger client", "config_path", engineCfg.BlockchainClientConfigPath)
	ledger, bcCfg, err := blockchain.NewLedgerClientFromFile(engineCfg.BlockchainClientConfigPath, log)
	if err != nil {
		log.Fatal("Failed to initialize ledger client", "error", err)
	}
	defer ledger.Close()
	anchorSvc := anchoring.NewService(ledger, bcCfg.ExplorerURLTemplate, log)

	// 3. Initialize consumers and the producer used to re-deliver retried tasks
	var (
		mqConsumers []consumer.Consumer
		requeue     producer.Producer
		demoQueue   *consumer.MockConsumer
	)
	if !engineCfg.KafkaConsumer.IsMock() {
		log.Info("Initializing Kafka consumers", "count", engineCfg.KafkaConsumer.Count)
		for i := 0; i < engineCfg.KafkaConsumer.Count; i++ {
			kafkaConsumer, err := consumer.NewKafkaConsumer(engineCfg.KafkaConsumer, log)
			if err != nil {
				log.Fatal("Failed to initialize Kafka consumer", "index", i, "error", err)
			}
			mqConsumers = append(mqConsumers, kafkaConsumer)
		}

		producerCfg := engineCfg.KafkaProducer
		if producerCfg.Topic == "" {
			producerCfg.Topic = engineCfg.KafkaConsumer.Topic
		}
		if len(producerCfg.Brokers) == 0 {
			producerCfg.Brokers = engineCfg.KafkaConsumer.Brokers
		}
		kafkaProducer, err := producer.NewKafkaProducer(producerCfg, log)
		if err != nil {
			log.Fatal("Failed to initialize Kafka requeue producer", "error", err)
		}
		defer kafkaProducer.Close()
		requeue = kafkaProducer
	} else {
		log.Info("Initializing in-process message queue")
		demoQueue = consumer.NewMockConsumer(log, 0)
		mqConsumers = append(mqConsumers, demoQueue)
		requeue = demoQueue
	}

	// Ensure all consumers are closed on exit
	defer func() {
		for _, c := range mqConsumers {
			c.Close()
		}
	}()

	// 4. Create and Start Multiple Workers
	var wg sync.WaitGroup
	for i, c := range mqConsumers {
		w := worker.New(engineCfg.Worker, engineCfg.MaxTaskRetries, log, taskStore, c, anchorSvc, requeue)

		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.Run(ctx)
			log.Info("Worker group stopped", "group", workerID)
		}(i + 1)
	}

	// 5. Reconciler
	if engineCfg.Reconciler.Enabled {
		reconciler, err := worker.NewReconciler(engineCfg.Reconciler, taskStore, anchorSvc, requeue, log)
		if err != nil {
			log.Fatal("Failed to initialize reconciler", "error", err)
		}
		if err := reconciler.Start(ctx); err != nil {
			log.Fatal("Failed to start reconciler", "error", err)
		}
		defer reconciler.Stop()
	} else {
		log.Warn("Reconciler disabled; AMBIGUOUS tasks will not be settled")
	}

	// 6. Health
	pingInterval, err := time.ParseDuration(engineCfg.Monitoring.PingInterval)
	if err != nil {
		log.Fatal("Invalid monitoring.ping_interval", "value", engineCfg.Monitoring.PingInterval, "error", err)
	}
	monitor := health.NewMonitor(pingInterval, func(ctx context.Context) error {
		return anchorSvc.TotalActivities(ctx).Err
	}, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	if addr := engineCfg.Monitoring.HealthListenAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Serve(ctx, addr); err != nil {
				log.Error("Health server stopped", "error", err)
			}
		}()
	} else {
		log.Info("health_listen_addr not configured, skipping gRPC health server startup")
	}

	// 7. Demo journey
	var tracker *tracking.Service
	if args.Demo {
		if demoQueue == nil {
			log.Fatal("--demo requires the in-process broker", "broker", config.MockBroker)
		}
		tracker = tracking.NewService(taskStore, demoQueue, config.BatchProcessorConfig{
			BatchSize: 10, BatchTimeout: 200 * time.Millisecond, MaxBufferSize: 100, FlushChannelBuffer: 10,
		}, log)
		if err := seedDemo(ctx, tracker, log); err != nil {
			log.Error("Demo journey stopped early", "error", err)
		}
	}

	log.Info("Anchoring Engine started. Press Ctrl+C to stop.", "worker_groups", len(mqConsumers))

	// 8. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal, initiating graceful shutdown...")
	if tracker != nil {
		tracker.Close()
	}
	cancel()

	log.Info("Waiting for all workers to finish...")
	wg.Wait()

	log.Info("Anchoring Engine shut down gracefully.")
}

// seedDemo walks one batch from sowing to shipment.
func seedDemo(ctx context.Context, t *tracking.Service, log *logger.Logger) error {
	batch := models.NewBatch(fmt.Sprintf("DEMO-%d", time.Now().Unix()), models.CropInfo{Name: "tomato", Variety: "San Marzano"})
	steps := []models.Activity{
		{Type: journey.ActivitySeeding, ProductName: "organic seed", Quantity: 1.5, IsOrganic: true},
		{Type: journey.ActivityWatering, Quantity: 200, IsOrganic: true},
		{Type: journey.ActivityFertilizer, ProductName: "compost", Quantity: 40, IsOrganic: true},
		{Type: journey.ActivityHarvest, Quantity: 320, IsOrganic: true},
		{Type: journey.ActivityPacked, IsOrganic: true},
		{Type: journey.ActivityShipped, IsOrganic: true},
	}
	for _, step := range steps {
		receipt, err := t.RecordActivity(ctx, batch, step)
		if err != nil {
			return err
		}
		log.Info("Demo activity queued", "batch_id", batch.ID, "activity_type", step.Type, "request_id", receipt.RequestID)
	}
	return nil
}
