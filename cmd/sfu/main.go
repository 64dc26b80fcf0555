package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mynameaksh/SkillXChange/internals/auth"
	"github.com/mynameaksh/SkillXChange/internals/config"
	"github.com/mynameaksh/SkillXChange/internals/media/ortc"
	"github.com/mynameaksh/SkillXChange/internals/sfu"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/mynameaksh/SkillXChange/internals/utils"
	"github.com/mynameaksh/SkillXChange/internals/worker"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := utils.GetLogger()
	defer logger.Sync()
	logger.Info("Starting SFU server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := ortc.NewEngine(ortc.Options{
		UDPPortMin:  cfg.WebRTC.UDPPortRange.Min,
		UDPPortMax:  cfg.WebRTC.UDPPortRange.Max,
		ListenIP:    cfg.WebRTC.ListenIP,
		AnnouncedIP: cfg.WebRTC.AnnouncedIP,
	}, logger)

	strategy, err := worker.NewStrategy(cfg.Worker.Strategy)
	if err != nil {
		logger.Fatal("Invalid worker strategy", zap.Error(err))
	}
	pool, err := worker.NewPool(ctx, engine, worker.Options{
		MaxWorkers:          cfg.Worker.MaxWorkers,
		MaxRoutersPerWorker: cfg.Worker.MaxRoutersPerWorker,
		Strategy:            strategy,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to start media workers", zap.Error(err))
	}
	defer pool.Close()

	var (
		records store.Store
		pubsub  *signaling.PubSubManager
		srv     *sfu.Server
	)
	if cfg.Redis.Enabled {
		redisStore, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		records = redisStore

		if cfg.Chat.PubSubEnabled {
			// srv is assigned before the first chat connection can subscribe.
			pubsub = signaling.NewPubSubManager(redisStore.Client(), func(userID string, msg signaling.Message) {
				srv.Chat().Deliver(userID, msg)
			}, logger)
			defer pubsub.Close()
		}
	} else {
		logger.Warn("Redis disabled, session and room records are kept in memory")
		records = store.NewMemory()
	}
	defer records.Close()

	srv, err = sfu.NewServer(cfg, sfu.Deps{
		Pool:     pool,
		Store:    records,
		Verifier: auth.NewJWTVerifier(cfg.Auth.JWTSecret),
		PubSub:   pubsub,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create SFU server", zap.Error(err))
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start SFU server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Received shutdown signal")

	srv.Stop()
	logger.Info("SFU server stopped")
}
