package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goldlink/internal/api/http/route"
	"goldlink/internal/apperrors"
	"goldlink/internal/config"
	"goldlink/internal/model"
	"goldlink/internal/msg/dispatch"
	"goldlink/internal/msg/mailbox"
	"goldlink/internal/msg/relay"
	"goldlink/internal/repository"
	"goldlink/internal/service"
	"goldlink/pkg/geoip"
	"goldlink/pkg/jwt"
	"goldlink/pkg/kafka"
	"goldlink/pkg/postgres"
	"goldlink/pkg/redis"
	"goldlink/pkg/server"

	apihandler "goldlink/internal/api/http/handler"
)

const (
	consumerBufferSize = 1000
)

const defaultTimeout = 15 * time.Second

type Publisher interface {
	Run(ctx context.Context)
}

type Subscriber interface {
	Run(ctx context.Context)
}

type App struct {
	Cfg        *config.Config
	Log        *zap.Logger
	Repository *Repository
	Service    *Service
	Handler    *Handler
	Security   *Security
	Registry   *dispatch.Registry
	Scheduler  *dispatch.Scheduler
	DB         postgres.Postgres
	RDB        redis.Redis
	HTTPServer server.HTTPServer
	Relay      *Relay
	GeoDB      geoip.GeoIP
}

type Repository struct {
	HealthRepository       *repository.HealthRepository
	UserRepository         *repository.UserRepository
	MailboxRepository      *repository.MailboxRepository
	SessionRepository      *repository.SessionRepository
	NotificationRepository *repository.NotificationRepository
}

type Service struct {
	HealthService       *service.HealthService
	UserService         *service.UserService
	SessionService      *service.SessionService
	NotificationService *service.NotificationService
	MailboxStore        *mailbox.Store
}

type Handler struct {
	HealthHandler       route.HealthHandler
	AuthHandler         route.AuthHandler
	MessageHandler      route.MessageHandler
	NotificationHandler route.NotificationHandler
}

type Security struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Relay bridges the local mailbox with the sibling application over the
// broker. Present only when the broker is enabled; with a shared database
// the mailbox alone is the transport.
type Relay struct {
	Publisher  Publisher
	Subscriber Subscriber
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if !cfg.App.AppID.Valid() {
		return nil, apperrors.ErrUnknownApp
	}

	db, err := initDB(&cfg.Database)
	if err != nil {
		log.Error("Failed to initialize database", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	rdb, err := initRedis(&cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize redis", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	sec, err := initSecurity(log, cfg.Key)
	if err != nil {
		log.Error("Failed to initialize security", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize security: %w", err)
	}

	geo, err := initGeo(log, &cfg.Geo)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize geo: %w", err)
	}

	repo := initRepository(log, db)

	registry := dispatch.NewRegistry()

	svc := initService(log, cfg, sec, repo, rdb, geo)

	scheduler := initScheduler(log, cfg, repo, svc, registry)

	subscribeHandlers(registry, svc)

	hdl := initHandler(log, cfg, svc)

	httpServer := initHTTPServer(log, cfg, sec.PublicKey, svc.SessionService, hdl)

	var rly *Relay
	if cfg.Kafka.Enable {
		rly, err = initRelay(log, cfg, repo)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize relay: %w", err)
		}
	}

	if cfg.App.SeedDemoUsers > 0 {
		if err := svc.UserService.SeedDemoUsers(ctx, cfg.App.SeedDemoUsers); err != nil {
			log.Warn("Failed to seed demo users", zap.Error(err))
		}
	}

	return &App{
		Cfg:        cfg,
		Log:        log,
		Repository: repo,
		Service:    svc,
		Handler:    hdl,
		Security:   sec,
		Registry:   registry,
		Scheduler:  scheduler,
		DB:         db,
		RDB:        rdb,
		HTTPServer: httpServer,
		Relay:      rly,
		GeoDB:      geo,
	}, nil
}

func MustNew(cfg *config.Config, log *zap.Logger) *App {
	app, err := New(cfg, log)
	if err != nil {
		panic(err)
	}

	return app
}

func (a *App) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	defer close(errs)

	go func() {
		if err := a.HTTPServer.Run(); err != nil {
			errs <- err
		}
	}()

	go a.Scheduler.Run(ctx)

	go a.Service.SessionService.RunExpiryMonitor(ctx)

	if a.Relay != nil {
		go a.Relay.Publisher.Run(ctx)
		go a.Relay.Subscriber.Run(ctx)
	}

	if err := <-errs; err != nil {
		return err
	}

	return nil
}

func (a *App) Shutdown() error {
	a.DB.Close()
	a.Log.Debug("Database closed")

	err := apperrors.ErrShutdown

	if rdbErr := a.RDB.Close(); rdbErr != nil {
		err = fmt.Errorf("%w, failed to close RDB: %w", err, rdbErr)
	}

	a.Log.Debug("Redis closed")

	if srvErr := a.HTTPServer.Shutdown(); srvErr != nil {
		err = fmt.Errorf("%w, failed to shutdown http server: %w", err, srvErr)
	}

	a.Log.Debug("Http server shutdown")

	if geoErr := a.GeoDB.Close(); geoErr != nil {
		err = fmt.Errorf("%w, failed to close GeoDB: %w", err, geoErr)
	}

	a.Log.Debug("GeoDB closed")

	if !errors.Is(err, apperrors.ErrShutdown) {
		return err
	}

	return nil
}

func initDB(cfg *config.Database) (postgres.Postgres, error) {
	postgresCfg := &postgres.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Name:     cfg.Name,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
		Migration: postgres.Migration{
			Path:      cfg.Migration.Path,
			AutoApply: cfg.Migration.AutoApply,
		},
	}

	db, err := postgres.New(postgresCfg)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func initRedis(cfg *config.Redis) (redis.Redis, error) {
	redisCfg := &redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	rdb, err := redis.New(redisCfg)
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

func initSecurity(log *zap.Logger, cfg config.Key) (*Security, error) {
	privateKey, err := jwt.LoadECDSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	log.Debug("Private key loaded")

	publicKey, err := jwt.LoadECDSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}

	log.Debug("Public key loaded")

	return &Security{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}, nil
}

func initGeo(log *zap.Logger, cfg *config.Geo) (geoip.GeoIP, error) {
	geo, err := geoip.NewGeo(cfg.GeoLiteCountryPath, cfg.GeoLiteASNPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init geoip: %w", err)
	}

	log.Debug("GeoIP initialized")

	return geo, nil
}

func initRepository(log *zap.Logger, db postgres.Postgres) *Repository {
	healthRepo := repository.NewHealthRepository(db.Pool())
	log.Debug("Health repository initialized")

	userRepo := repository.NewUserRepository(db.Pool())
	log.Debug("User repository initialized")

	mailboxRepo := repository.NewMailboxRepository(db.Pool())
	log.Debug("Mailbox repository initialized")

	sessionRepo := repository.NewSessionRepository(db.Pool())
	log.Debug("Session repository initialized")

	notificationRepo := repository.NewNotificationRepository(db.Pool())
	log.Debug("Notification repository initialized")

	return &Repository{
		HealthRepository:       healthRepo,
		UserRepository:         userRepo,
		MailboxRepository:      mailboxRepo,
		SessionRepository:      sessionRepo,
		NotificationRepository: notificationRepo,
	}
}

func initService(
	log *zap.Logger,
	cfg *config.Config,
	sec *Security,
	repo *Repository,
	rdb redis.Redis,
	geo geoip.GeoIP,
) *Service {
	healthSvc := service.NewHealthService(log, repo.HealthRepository)
	log.Debug("Health service initialized")

	userSvc := service.NewUserService(log, repo.UserRepository)
	log.Debug("User service initialized")

	store := mailbox.NewStore(log, mailbox.Config{
		LocalApp:       cfg.App.AppID,
		Cap:            cfg.Mailbox.Cap,
		PersistRetries: cfg.Mailbox.PersistRetries,
	}, repo.MailboxRepository)
	log.Debug("Mailbox store initialized")

	notificationSvc := service.NewNotificationService(log, cfg.App.AppID, repo.NotificationRepository)
	log.Debug("Notification service initialized")

	sessionSvc := service.NewSessionService(
		log,
		service.SessionConfig{
			LocalApp:        cfg.App.AppID,
			Timeout:         cfg.Session.Timeout,
			MonitorInterval: cfg.Session.MonitorInterval,
			AccessTokenTTL:  cfg.Session.AccessTokenTTL,
		},
		sec.PrivateKey,
		repo.SessionRepository,
		service.NewRedisTokenStore(rdb),
		store,
		notificationSvc,
		userSvc.ValidateCredentials,
		service.DerivePermissions,
		nil,
		geo,
	)
	log.Debug("Session service initialized")

	return &Service{
		HealthService:       healthSvc,
		UserService:         userSvc,
		SessionService:      sessionSvc,
		NotificationService: notificationSvc,
		MailboxStore:        store,
	}
}

func initScheduler(log *zap.Logger, cfg *config.Config, repo *Repository, svc *Service, registry *dispatch.Registry) *dispatch.Scheduler {
	scheduler := dispatch.NewScheduler(log, dispatch.Config{
		App:           cfg.App.AppID,
		FlushInterval: cfg.Mailbox.FlushInterval,
		Budget:        cfg.Mailbox.Budget,
	}, repo.MailboxRepository, svc.MailboxStore, registry)
	log.Debug("Delivery scheduler initialized")

	return scheduler
}

// subscribeHandlers wires the built-in message consumers. Anything else in
// the process may subscribe additional handlers at runtime.
func subscribeHandlers(registry *dispatch.Registry, svc *Service) {
	registry.Subscribe(model.MessageUserNotification, svc.NotificationService.HandleUserNotification)
	registry.Subscribe(model.MessageUserLogout, svc.SessionService.HandleSiblingLogout)
}

func initHandler(log *zap.Logger, cfg *config.Config, svc *Service) *Handler {
	healthHandler := apihandler.NewHealthHandler(log, svc.HealthService)
	log.Debug("Health handler initialized")

	authHandler := apihandler.NewAuthHandler(log, svc.SessionService)
	log.Debug("Auth handler initialized")

	messageHandler := apihandler.NewMessageHandler(log, cfg.App.AppID, svc.MailboxStore)
	log.Debug("Message handler initialized")

	notificationHandler := apihandler.NewNotificationHandler(log, svc.NotificationService)
	log.Debug("Notification handler initialized")

	return &Handler{
		HealthHandler:       healthHandler,
		AuthHandler:         authHandler,
		MessageHandler:      messageHandler,
		NotificationHandler: notificationHandler,
	}
}

func initHTTPServer(log *zap.Logger, cfg *config.Config, publicKey *ecdsa.PublicKey, sessions *service.SessionService, hdl *Handler) server.HTTPServer {
	router := route.SetupRouter(
		log,
		cfg,
		publicKey,
		sessions,
		hdl.HealthHandler,
		hdl.AuthHandler,
		hdl.MessageHandler,
		hdl.NotificationHandler,
	)

	httpServer := server.NewHTTPServer(
		server.WithAddr(cfg.HTTPServer.Host, cfg.HTTPServer.Port),
		server.WithTimeout(cfg.HTTPServer.Timeout.Read, cfg.HTTPServer.Timeout.Write, cfg.HTTPServer.Timeout.Idle),
		server.WithHandler(router),
	)

	return httpServer
}

func initRelay(log *zap.Logger, cfg *config.Config, repo *Repository) (*Relay, error) {
	producer, err := kafka.NewProducer(
		cfg.Kafka.Brokers,
		kafka.WithBalancer(kafka.RoundRobin),
		kafka.WithRequiredAcks(kafka.RequireAll),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init kafka producer: %w", err)
	}

	log.Debug("Kafka producer initialized")

	publisher := relay.NewPublisher(log, relay.PublisherConfig{
		Name:         cfg.Kafka.Producer.Name,
		SiblingApp:   cfg.App.AppID.Sibling(),
		Topic:        cfg.Kafka.Producer.Topic,
		WorkerCount:  cfg.Kafka.Producer.WorkerCount,
		PollInterval: cfg.Kafka.Producer.PollInterval,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
	}, producer, repo.MailboxRepository)

	log.Debug("Relay publisher initialized")

	consumerGroup, err := kafka.NewConsumerGroupRunner(
		cfg.Kafka.Brokers,
		cfg.Kafka.Subscriber.GroupID,
		[]string{cfg.Kafka.Subscriber.Topic},
		consumerBufferSize,
		kafka.WithBalancerConsumer(kafka.RoundrobinBalanceStrategy),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	go func() {
		startAndRunningStr := <-consumerGroup.Info()

		log.Info(startAndRunningStr)
	}()

	subscriber := relay.NewSubscriber(log, relay.SubscriberConfig{
		Name:        cfg.Kafka.Subscriber.Name,
		LocalApp:    cfg.App.AppID,
		WorkerCount: cfg.Kafka.Subscriber.WorkerCount,
	}, consumerGroup, repo.MailboxRepository)

	log.Debug("Relay subscriber initialized")

	return &Relay{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}
