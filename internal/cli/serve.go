package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/samims/keepsake/internal/handler"
	"github.com/samims/keepsake/internal/kafka"
	"github.com/samims/keepsake/internal/metrics"
	"github.com/samims/keepsake/internal/router"
	"github.com/samims/keepsake/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	NoScheduler bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, operator API and requeue consumer",
		Long: `Start the long-running processor: an in-process scheduler that runs a
processing pass every WORKER_INTERVAL, the operator HTTP API with health,
readiness and metrics endpoints, and, when KAFKA_BROKERS is set, the
requeue consumer.

Use --no-scheduler when passes are triggered externally (cron or POST /runs).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not trigger runs in-process")

	return cmd
}

func serve(parent context.Context, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, l, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, l, true)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Init()

	runTimeout := cfg.Worker.RunDeadline + 10*time.Second
	if cfg.Worker.RunDeadline <= 0 {
		runTimeout = 5 * time.Minute
	}
	r := router.NewRouter(
		handler.NewRunHandler(a.processor, a.requeue, l),
		handler.NewHealthHandler(a.health, l),
		a.tracer,
		cfg.AppCfg.OperatorJWTSecret,
		runTimeout,
	)
	server := &http.Server{
		Addr:              ":" + cfg.AppCfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var consumer *kafka.RequeueConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		group, err := kafka.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			return err
		}
		consumer = kafka.NewRequeueConsumer(cfg.Kafka.RequeueTopic, group, a.requeue, a.tracer, l)
	}

	// Use a WaitGroup to gracefully shut down all goroutines.
	var wg sync.WaitGroup

	if !opts.NoScheduler {
		scheduler := service.NewScheduler(a.processor, cfg.Worker.Interval, l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("Scheduler stopped with error", slog.Any("error", err))
			}
		}()
	}

	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("Kafka consumer stopped with error", slog.Any("error", err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Warn("HTTP server shutdown failed", slog.Any("error", err))
	}

	wg.Wait()
	l.Info("Service shut down gracefully")
	return nil
}
