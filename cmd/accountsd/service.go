package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goerrors "github.com/goliatone/go-errors"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/metrics"
	"github.com/goliatone/go-accounts/repository"
)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// service holds the wired application and the resources it must release
type service struct {
	app      *fiber.App
	manager  *accounts.Manager
	tokens   *accounts.TokenService
	metrics  *metrics.Collector
	closers  []func() error
	logger   *slog.Logger
	sessions accounts.SessionRegistry
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{logger: logger}

	if cfg.Auth.SigningKey == "" && !cfg.IsProduction() {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to generate signing key")
		}
		cfg.Auth.SigningKey = hex.EncodeToString(key)
		logger.Warn("no signing key configured, using an ephemeral key; tokens will not survive a restart")
	}

	store, err := svc.openStore(ctx, cfg)
	if err != nil {
		svc.Close()
		return nil, err
	}

	if s, ok := store.(schemaEnsurer); ok {
		if err := s.EnsureSchema(ctx); err != nil {
			svc.Close()
			return nil, err
		}
	}

	registry, err := svc.openSessions(ctx, cfg)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.sessions = registry

	tokenOpts := []accounts.TokenServiceOption{accounts.WithTokenLogger(logger)}
	if registry != nil {
		tokenOpts = append(tokenOpts, accounts.WithSessionRegistry(registry))
	}
	svc.tokens = accounts.NewTokenServiceFromConfig(cfg, tokenOpts...)

	svc.metrics = metrics.NewCollector("accounts")
	if cfg.IsProduction() {
		svc.metrics.WithRuntimeCollectors()
	}

	svc.manager = accounts.NewManager(
		store,
		accounts.NewBcryptHasher(cfg.GetPasswordCost()),
		svc.tokens,
		accounts.WithManagerConfig(cfg),
		accounts.WithManagerLogger(logger),
		accounts.WithManagerActivitySink(accounts.MultiActivitySink(
			activitymap.Sink(activitymap.LoggerEmitter(logger)),
			svc.metrics,
		)),
	)

	images := accounts.NewLocalImageStore(cfg.Images.BaseDir,
		accounts.WithMaxImageDimension(cfg.Images.MaxDimension),
		accounts.WithImageQuality(cfg.Images.Quality),
		accounts.WithMaxImageBytes(cfg.Images.MaxBytes),
		accounts.WithImageLogger(logger),
	)

	svc.app = svc.newApp(cfg, images)

	return svc, nil
}

func (s *service) newApp(cfg config.Config, images accounts.ImageUploader) *fiber.App {
	debug := !cfg.IsProduction()

	app := fiber.New(fiber.Config{
		AppName:               "accountsd",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		BodyLimit:             cfg.Server.BodyLimit,
		ErrorHandler:          accounts.ErrorHandler(s.logger, debug),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(accounts.RequestLogger(s.logger))
	app.Use(s.metrics.Middleware())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	if cfg.Images.BaseDir != "" {
		app.Static("/images", cfg.Images.BaseDir)
	}

	api := app.Group(cfg.Server.Prefix)
	accounts.RegisterAccountRoutes(api,
		accounts.WithControllerService(s.manager),
		accounts.WithControllerTokens(s.tokens),
		accounts.WithControllerImages(images),
		accounts.WithControllerLogger(s.logger),
		accounts.WithControllerDebug(debug),
	)

	return app
}

func (s *service) openStore(ctx context.Context, cfg config.Config) (accounts.AccountStore, error) {
	switch cfg.Persistence.Driver {
	case "mongo":
		return s.openMongo(ctx, cfg)
	default:
		db, err := openBun(cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return accounts.NewAccountsRepository(db,
			accounts.WithReserveDeletedIdentifiers(cfg.GetReserveDeletedIdentifiers()),
			accounts.WithAccountsLogger(s.logger),
		), nil
	}
}

func openBun(cfg config.Config) (*bun.DB, error) {
	var db *bun.DB

	switch cfg.Persistence.Driver {
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Persistence.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Persistence.DSN)
		if err != nil {
			return nil, accounts.NewDependencyFailure(err, "unable to open sqlite database")
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, goerrors.New("unsupported persistence driver", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": cfg.Persistence.Driver})
	}

	if cfg.Persistence.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db, nil
}

func (s *service) openMongo(ctx context.Context, cfg config.Config) (accounts.AccountStore, error) {
	mcfg := cfg.Persistence.Mongo

	connectCtx := ctx
	if mcfg.Timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, mcfg.Timeout)
		defer cancel()
	}

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(mcfg.URI))
	if err != nil {
		return nil, accounts.NewDependencyFailure(err, "unable to connect to mongo")
	}
	s.closers = append(s.closers, func() error {
		return client.Disconnect(context.Background())
	})

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, accounts.NewDependencyFailure(err, "mongo is not reachable")
	}

	coll := client.Database(mcfg.Database).Collection(mcfg.Collection)
	return repository.NewMongoAccounts(coll,
		repository.WithMongoReserveDeleted(cfg.GetReserveDeletedIdentifiers()),
		repository.WithMongoTimeout(mcfg.Timeout),
		repository.WithMongoLogger(s.logger),
	), nil
}

func (s *service) openSessions(ctx context.Context, cfg config.Config) (accounts.SessionRegistry, error) {
	switch cfg.Sessions.Backend {
	case "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
		})
		s.closers = append(s.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, accounts.NewDependencyFailure(err, "redis is not reachable")
		}
		return accounts.NewRedisSessionRegistry(client, cfg.Sessions.Namespace), nil
	default:
		return accounts.NewMemorySessionRegistry(cfg.Sessions.CleanupInterval), nil
	}
}

// Close releases every opened resource in reverse order
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func setupLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Logging.Format == "json" || cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
	}

	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  true,
	}))
}
