package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"flirtmarket/internal/auth"
	"flirtmarket/internal/balance"
	"flirtmarket/internal/config"
	"flirtmarket/internal/gate"
	"flirtmarket/internal/handler"
	"flirtmarket/internal/infrastructure/cache"
	"flirtmarket/internal/infrastructure/database"
	"flirtmarket/internal/infrastructure/lock"
	"flirtmarket/internal/infrastructure/mq"
	"flirtmarket/internal/job"
	"flirtmarket/internal/realtime"
	"flirtmarket/internal/repository"
	"flirtmarket/internal/reward"
	"flirtmarket/internal/service"
	"flirtmarket/internal/telegram"
	"flirtmarket/pkg/idgen"
)

func main() {
	path := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*path); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// backend is the storage-specific half of the wiring.
type backend struct {
	store       balance.Store
	directory   service.Directory
	eligibility reward.Eligibility
	sinks       []reward.Sink
	db          *gorm.DB
}

func openBackend(ctx context.Context, cfg *config.Config, ids *idgen.Snowflake, log *slog.Logger) (*backend, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("using in-memory storage, balances are lost on restart")
		return &backend{
			store:       balance.NewMemoryStore(),
			directory:   service.NewMemoryDirectory(),
			eligibility: reward.NewMemoryEligibility(),
		}, func() {}, nil
	}

	db, err := database.Open(&cfg.MySQL, log)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}

	locker := lock.NewAccountLocker(rdb, log.With("component", "lock"))
	ledger := service.NewLedgerService(db, locker, ids, cfg.Kafka.Topic.Ledger,
		service.WithBalanceCache(cache.NewBalanceCache(rdb, cfg.Redis.CacheTTL)),
		service.WithLedgerLogger(log.With("component", "ledger")),
	)
	b := &backend{
		store:       ledger,
		directory:   service.NewAccountService(db),
		eligibility: service.NewClaimEligibility(db),
		sinks:       []reward.Sink{service.NewRewardOutbox(db, cfg.Kafka.Topic.Reward, log)},
		db:          db,
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("close redis", "err", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return b, closeFn, nil
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	ids, err := idgen.New(cfg.Storage.WorkerID)
	if err != nil {
		return err
	}
	loc, err := cfg.Rewards.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, closeBackend, err := openBackend(ctx, cfg, ids, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	hub := realtime.NewHub()
	issuerOpts := []reward.IssuerOption{
		reward.WithLocation(loc),
		reward.WithSink(hub),
		reward.WithIssuerLogger(log.With("component", "reward")),
	}
	for _, s := range be.sinks {
		issuerOpts = append(issuerOpts, reward.WithSink(s))
	}

	h := handler.NewHandler(handler.Deps{
		Store:     be.store,
		Directory: be.directory,
		Pricer:    service.NewPricer(cfg.Pricing.Coins),
		Dispatcher: gate.NewDispatcher(be.store,
			gate.WithTimeout(cfg.Gate.Timeout),
			gate.WithLogger(log.With("component", "dispatcher"))),
		Issuer:      reward.NewIssuer(be.store, be.eligibility, issuerOpts...),
		Tables:      cfg.Rewards.Tables,
		Validator:   telegram.NewValidator(cfg.Telegram.BotToken, cfg.Telegram.MaxAge),
		Tokens:      auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Hub:         hub,
		InternalKey: cfg.Auth.InternalKey,
		Logger:      log,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.SetupRouter(h, cfg.Server.Mode),
	}

	g, gctx := errgroup.WithContext(ctx)

	if be.db != nil && cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		outbox := repository.NewOutboxRepository(be.db)
		sender := job.NewOutboxSender(outbox, producer, log,
			cfg.Kafka.PollInterval, cfg.Kafka.BatchSize, cfg.Kafka.MaxRetryCount)
		requeue := job.NewOutboxRequeueJob(outbox, log, cfg.Kafka.RequeueInterval, cfg.Kafka.RequeueAfter)

		g.Go(func() error { sender.Start(gctx); return nil })
		g.Go(func() error { requeue.Start(gctx); return nil })
	}

	g.Go(func() error {
		log.Info("server listening", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
