package configuration

import (
	"Parley/internal/db"
	"Parley/internal/handler"
	"Parley/internal/hub"
	"Parley/internal/idem"
	"Parley/internal/kafka"
	"Parley/internal/ratelimit"
	"Parley/internal/redisx"
	"Parley/internal/repo"
	"Parley/internal/service"
	"Parley/internal/task"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	UserHandler    handler.UserHandler
	RoomHandler    handler.RoomHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Messages       service.MessageService
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup and background work
	mongoClient *mongo.Database
	redis       *redisx.Client
	asynq       *task.AsynqScheduler
	local       *task.LocalScheduler
	publisher   *kafka.Publisher
}

func BuildContainer() (*Container, error) {
	config, err := Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(config.Debug)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: *config, Logger: logger}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}
	c.mongoClient = con

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureIndexes(ctx, con); err != nil {
		c.Close()
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	userRepo := repo.NewUserRepository(con, logger)
	roomRepo := repo.NewRoomRepository(con, logger)
	membershipRepo := repo.NewMembershipRepository(con, logger)
	messageRepo := repo.NewMessageRepository(con, logger)

	var scheduler service.ReconcileScheduler
	deps := hub.Dependencies{
		SendLimit:  config.Redis.SendLimit,
		SendWindow: time.Duration(config.Redis.SendWindowSeconds) * time.Second,
	}
	var ranker handler.RoomRanker

	if config.Redis.Url != "" {
		rdb, err := redisx.NewClient(ctx, config.Redis.Url)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.redis = rdb

		if c.asynq, err = task.NewAsynqScheduler(config.Redis.Url, logger); err != nil {
			c.Close()
			return nil, err
		}
		scheduler = c.asynq

		deps.Limiter = ratelimit.New(rdb)
		deps.Idem = idem.New(rdb)
		deps.Activity = rdb
		ranker = rdb
	} else {
		logger.Info("redis not configured: rate limit and send de-duplication disabled, reconcile runs in-process")
		c.local = task.NewLocalScheduler(config.Tasks.LocalQueueSize, logger)
		scheduler = c.local
	}

	var publisher service.EventPublisher
	if len(config.Kafka.Brokers) > 0 {
		c.publisher = kafka.NewPublisher(config.Kafka.Brokers, config.Kafka.Topic, logger)
		publisher = c.publisher
	}

	userService := service.NewUserService(userRepo, logger)
	presenceService := service.NewPresenceService(userRepo, logger)
	membershipService := service.NewMembershipService(userRepo, roomRepo, membershipRepo, scheduler, logger)
	messageService := service.NewMessageService(messageRepo, roomRepo, membershipService, scheduler, publisher, logger)
	c.Messages = messageService

	deps.Presence = presenceService
	deps.Membership = membershipService
	deps.Messages = messageService
	c.Hub = hub.NewHub(deps, logger, config.Server.AllowedOrigins)

	c.UserHandler = handler.NewUserHandler(userService, presenceService)
	c.RoomHandler = handler.NewRoomHandler(membershipService, messageService, c.Hub)
	c.MonitorHandler = handler.NewMonitorHandler(hub.NewMonitorService(c.Hub), ranker)

	return c, nil
}

// RunBackground consumes reconcile work until ctx is canceled
func (c *Container) RunBackground(ctx context.Context) error {
	if c.local != nil {
		c.local.Run(ctx, c.Messages)
		return nil
	}

	srv, err := task.NewServer(c.Config.Redis.Url, c.Config.Tasks.Concurrency, c.Logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx, c.Messages)
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.Logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if c.asynq != nil {
		_ = c.asynq.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
