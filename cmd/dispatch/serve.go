package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/rewind-dispatch/internal/config"
	"github.com/Sternrassler/rewind-dispatch/pkg/continuation"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger, status and subscription endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := wireApp(ctx, cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	logger := logging.NewLogger("serve")

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.newServer().Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if a.cron != nil {
		a.cron.Start()
		defer a.cron.Stop()
		logger.Info().Str("spec", cfg.CronSpec).Str("timezone", cfg.Timezone).Msg("Cron trigger started")
	}

	workerDone := make(chan struct{})
	if cfg.Continuation == config.ContinuationKafka {
		worker := continuation.NewKafkaWorker(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, a.runOnce, a.scheduler.Workday, logging.NewLogger("kafka-worker"))
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Kafka worker stopped")
			}
			_ = worker.Close()
		}()
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("Kafka continuation worker started")
	} else {
		close(workerDone)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("checkpoint_store", cfg.CheckpointStore).
			Str("continuation", cfg.Continuation).
			Msg("Starting dispatch server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Budget+cfg.SafetyMargin)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}

	<-workerDone
	return nil
}
