package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"analytics-console/internal/config"
	"analytics-console/internal/controller"
	"analytics-console/internal/handler"
	"analytics-console/internal/model"
	"analytics-console/internal/pkg/logger"
	"analytics-console/internal/repository"
	"analytics-console/internal/repository/contract"
	"analytics-console/internal/repository/implementation"
	"analytics-console/internal/repository/memory"
	"analytics-console/internal/repository/unitofwork"
	"analytics-console/internal/service"
	"analytics-console/internal/websocket"
	"analytics-console/pkg/archive"
	"analytics-console/pkg/backend"
	"analytics-console/pkg/database"

	pktNats "analytics-console/pkg/nats"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ConsoleController controller.IConsoleController
	StreamHandler     *handler.ConsoleStreamHandler

	// Background Services (Exposed for main.go to run)
	UpdateForwarder service.IUpdateForwarder
	WebSocketHub    *websocket.Hub

	ConsoleService service.IConsoleService
	Logger         logger.ILogger

	updateBus *gochannel.GoChannel
	natsPub   *pktNats.Publisher
	rdb       *redis.Client
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.IsProduction())

	// 2. Infrastructure
	rdb := newRedis(cfg.App.RedisURL)

	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}

	persister, err := newSessionPersister(cfg, rdb)
	if err != nil {
		return nil, err
	}

	var archiveStore archive.Archive = archive.Nop{}
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3(archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init export archive: %w", err)
		}
		archiveStore = s3
		log.Printf("[INFO] Archiving exports to bucket %s", cfg.Archive.Bucket)
	}

	// 3. Live updates: workspace -> bus -> forwarder -> hub -> websocket
	wsLogger := logger.NewIsolatedLogger("logs/console_stream.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	updateBus := service.NewUpdateBus()
	forwarder := service.NewUpdateForwarder(updateBus, wsHub, wsLogger)

	// 4. Services
	var sink service.EventSink
	if natsPub != nil {
		sink = natsPub
	}
	eventPublisher := service.NewNatsEventPublisher(sink, sysLogger)

	consoleService, err := service.NewConsoleService(
		persister,
		backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout),
		archiveStore,
		eventPublisher,
		forwarder,
		sysLogger,
		service.ConsoleServiceConfig{
			WorkspaceCapacity: cfg.Console.WorkspaceCapacity,
			StreamTimeout:     cfg.Backend.StreamTimeout,
		},
	)
	if err != nil {
		return nil, err
	}

	// 5. Controllers
	return &Container{
		ConsoleController: controller.NewConsoleController(consoleService),
		StreamHandler:     handler.NewConsoleStreamHandler(wsHub, cfg.Keys.JwtSecret, wsLogger),
		UpdateForwarder:   forwarder,
		WebSocketHub:      wsHub,
		ConsoleService:    consoleService,
		Logger:            sysLogger,
		updateBus:         updateBus,
		natsPub:           natsPub,
		rdb:               rdb,
	}, nil
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	c.ConsoleService.Close()
	if c.updateBus != nil {
		c.updateBus.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		c.rdb.Close()
	}
	c.Logger.Sync()
}

func newRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	return rdb
}

func newSessionPersister(cfg *config.Config, rdb *redis.Client) (contract.SessionStateRepository, error) {
	switch cfg.Console.SessionStore {
	case config.SessionStoreMemory:
		log.Printf("[INFO] Using Session Store: MEMORY")
		return memory.NewSessionRepository(), nil

	case config.SessionStoreRedis:
		log.Printf("[INFO] Using Session Store: REDIS")
		return implementation.NewRedisSessionStateRepository(rdb, cfg.Console.SessionTTL), nil

	case config.SessionStorePostgres, "":
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Printf("[INFO] Using Session Store: POSTGRES")
		return repository.NewSessionStore(unitofwork.NewRepositoryFactory(db)), nil
	}
	return nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.Console.SessionStore)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Connection == "" {
		return nil, fmt.Errorf("DB_CONNECTION_STRING is required for the postgres session store")
	}
	db, err := database.NewGormDBFromDSN(cfg.Connection, cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to GORM DB: %w", err)
	}
	if err := database.Ping(db, 5*time.Second); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.AutoMigrate(&model.ConsoleSession{}); err != nil {
		return nil, fmt.Errorf("migrate console sessions: %w", err)
	}
	return db, nil
}
