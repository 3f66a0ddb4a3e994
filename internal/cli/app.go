package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/samims/keepsake/internal/config"
	"github.com/samims/keepsake/internal/delivery"
	"github.com/samims/keepsake/internal/kafka"
	"github.com/samims/keepsake/internal/logger"
	"github.com/samims/keepsake/internal/service"
	"github.com/samims/keepsake/internal/storage"
	"github.com/samims/keepsake/internal/store"
	"github.com/samims/keepsake/pkg/tracing"
)

const shutdownTimeout = 5 * time.Second

// app is the wired dependency graph shared by every command.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	tracer *tracing.Tracer

	pool    *pgxpool.Pool
	notifDB *sqlx.DB

	keepsakes  storage.KeepsakeStorage
	recipients storage.RecipientStorage
	runs       storage.RunStorage

	channels  *delivery.Router
	producer  *kafka.OutcomeProducer
	processor *service.Processor
	requeue   service.RequeueService
	health    service.HealthService

	closers []func(context.Context) error
}

func loadConfig(opts *RootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.AppCfg.LogLevel = opts.LogLevel
	}
	l := logger.NewJSONLogger(cfg.AppCfg.LogLevel)
	slog.SetDefault(l)
	return cfg, l, nil
}

// newApp connects to every configured dependency. withProducer enables outcome
// events when brokers are configured.
func newApp(ctx context.Context, cfg *config.Config, l *slog.Logger, withProducer bool) (*app, error) {
	a := &app{cfg: cfg, log: l}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRatio:  cfg.Tracing.SampleRatio,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)
	a.tracer = tracing.NewTracer(tracing.GetTracer(cfg.Tracing.ServiceName))

	a.pool, err = storage.NewPostgresPool(ctx, cfg.DBConfig)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.pool.Close(); return nil })

	a.notifDB, err = store.ConnectPostgres(cfg.NotifDBConfig)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.notifDB.Close() })

	a.keepsakes = storage.NewKeepsakeStorage(a.pool)
	a.recipients = storage.NewRecipientStorage(a.pool)
	a.runs = storage.NewRunStorage(a.pool)
	notifications := store.NewPostgresStorage(a.notifDB)

	var telegram delivery.Channel
	if cfg.Telegram.Token != "" {
		telegram = delivery.NewTelegramChannel(cfg.Telegram, nil)
	}
	a.channels = delivery.NewRouter(delivery.NewSMTPChannel(cfg.SMTP), telegram)

	var publisher service.OutcomePublisher
	if withProducer && len(cfg.Kafka.Brokers) > 0 {
		asyncProducer, err := kafka.NewAsyncProducer(cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.producer = kafka.NewOutcomeProducer(asyncProducer, cfg.Kafka.OutcomeTopic, l, a.tracer)
		a.producer.Start(ctx)
		a.closers = append(a.closers, func(context.Context) error { a.producer.Close(); return nil })
		publisher = a.producer
	}

	notifier := service.NewNotificationService(notifications, publisher, cfg.NotifDBConfig.CallTimeout, l)
	a.processor = service.NewProcessor(
		a.keepsakes, a.recipients, a.runs,
		a.channels, notifier, a.tracer,
		cfg.Worker, cfg.DBConfig.CallTimeout, l,
	)
	a.requeue = service.NewRequeueService(a.keepsakes, cfg.DBConfig.CallTimeout, l)
	a.health = service.NewHealthService(a.keepsakes, a.recipients, notifications, a.channels.Channels())

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("Shutdown step failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}
