package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/rewind-dispatch/internal/config"
	"github.com/Sternrassler/rewind-dispatch/internal/server"
	"github.com/Sternrassler/rewind-dispatch/internal/storage"
	"github.com/Sternrassler/rewind-dispatch/pkg/aggregator"
	"github.com/Sternrassler/rewind-dispatch/pkg/broadcast"
	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
	"github.com/Sternrassler/rewind-dispatch/pkg/client"
	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/continuation"
	"github.com/Sternrassler/rewind-dispatch/pkg/delivery"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/Sternrassler/rewind-dispatch/pkg/scheduler"
)

type wireOptions struct {
	// dryRun logs messages instead of sending them.
	dryRun bool
	// memoryCheckpoints keeps progress out of the configured store.
	memoryCheckpoints bool
	// noContinuation disables follow-up scheduling (one-shot commands).
	noContinuation bool
}

type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	location    *time.Location
	db          *sql.DB
	redis       *redis.Client
	checkpoints checkpoint.Store
	recipients  recipients.Store
	composer    compose.Composer
	deliverer   *delivery.Deliverer
	scheduler   *scheduler.Scheduler

	cron   *continuation.CronTrigger
	kafka  *continuation.KafkaTrigger
	http   *continuation.HTTPTrigger
	logOut *delivery.LogSender

	closers []func() error
}

func wireApp(ctx context.Context, cfg *config.Config, opts wireOptions) (*app, error) {
	if err := cfg.Validate(opts.dryRun); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logging.NewLogger("dispatch"), location: loc}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStores(ctx, opts); err != nil {
		return nil, err
	}

	upstream, err := client.New(client.Config{
		BaseURL:          cfg.OpenAlexBaseURL,
		Contact:          cfg.OpenAlexContact,
		UserAgent:        userAgent(cfg),
		MinSpacing:       cfg.MinSpacing,
		RateLimitBackoff: cfg.RateLimitBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		RateLimitRetries: cfg.RateLimitRetries,
		Timeout:          cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	sender, err := a.newSender(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.deliverer = delivery.NewDeliverer(sender, cfg.EmailPacing)
	a.composer = compose.Composer{
		BaseURL:           cfg.BaseURL,
		FeedbackURL:       cfg.FeedbackURL,
		UnsubscribeSecret: cfg.UnsubscribeSecret,
	}

	cont, err := a.newContinuation(opts)
	if err != nil {
		return nil, err
	}

	a.scheduler, err = scheduler.New(scheduler.Config{
		BatchSize:         cfg.BatchSize,
		Budget:            cfg.Budget,
		SafetyMargin:      cfg.SafetyMargin,
		ContinuationDelay: cfg.ContinuationDelay,
		LeaseTTL:          leaseTTL(cfg),
		Location:          loc,
		Defaults:          requestDefaults(cfg),
	}, scheduler.Deps{
		Checkpoints: a.checkpoints,
		Recipients:  a.recipients,
		NewResolver: func(runCache *cache.Cache) aggregator.Resolver {
			return upstream.NewFetcher(runCache)
		},
		Composer:     a.composer,
		Deliverer:    a.deliverer,
		Continuation: cont,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *app) openStores(ctx context.Context, opts wireOptions) error {
	db, err := storage.Open(ctx, storage.Config{Path: a.cfg.SQLitePath})
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.recipients = recipients.NewSQLiteStore(db)

	backend := a.cfg.CheckpointStore
	if opts.memoryCheckpoints {
		backend = config.StoreMemory
	}

	switch backend {
	case config.StoreRedis:
		redisOpts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(redisOpts)
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.checkpoints = checkpoint.NewRedisStore(a.redis, a.cfg.Retention)
	case config.StoreSQLite:
		a.checkpoints = checkpoint.NewSQLiteStore(db)
	default:
		a.checkpoints = checkpoint.NewMemoryStore()
	}
	a.logger.Debug().Str("backend", backend).Msg("Checkpoint store ready")
	return nil
}

func (a *app) newSender(ctx context.Context, opts wireOptions) (delivery.Sender, error) {
	if opts.dryRun {
		a.logOut = delivery.NewLogSender(logging.NewLogger("delivery"))
		return a.logOut, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	ses, err := delivery.NewSESSender(awsCfg, a.cfg.SESFrom)
	if err != nil {
		return nil, err
	}
	return ses, nil
}

func (a *app) newContinuation(opts wireOptions) (scheduler.Continuation, error) {
	if opts.dryRun || opts.noContinuation {
		return continuation.Noop{}, nil
	}

	switch a.cfg.Continuation {
	case config.ContinuationHTTP:
		t, err := continuation.NewHTTPTrigger(a.cfg.ContinuationURL, a.cfg.CronSecret, logging.NewLogger("continuation"))
		if err != nil {
			return nil, err
		}
		a.http = t
		return t, nil
	case config.ContinuationKafka:
		t, err := continuation.NewKafkaTrigger(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, func() string {
			return a.scheduler.Workday()
		})
		if err != nil {
			return nil, err
		}
		a.kafka = t
		a.closers = append(a.closers, t.Close)
		return t, nil
	case config.ContinuationCron:
		t, err := continuation.NewCronTrigger(a.cfg.CronSpec, a.location, a.runOnce, a.cfg.Budget+a.cfg.SafetyMargin, logging.NewLogger("cron"))
		if err != nil {
			return nil, err
		}
		a.cron = t
		return t, nil
	default:
		return continuation.Noop{}, nil
	}
}

// runOnce adapts the scheduler to continuation.RunFunc.
func (a *app) runOnce(ctx context.Context) error {
	summary, err := a.scheduler.Run(ctx)
	if err != nil {
		return err
	}
	a.logger.Info().
		Str("workday", summary.Workday).
		Int("processed", summary.Progress.Processed).
		Int("total", summary.Progress.Total).
		Msg(summary.Message)
	return nil
}

func (a *app) newServer() *server.Server {
	defaults := requestDefaults(a.cfg)
	srv := &server.Server{
		Dispatcher:        a.scheduler,
		Checkpoints:       a.checkpoints,
		Recipients:        a.recipients,
		Composer:          a.composer,
		Mailer:            a.deliverer,
		Broadcaster:       a.newBroadcaster(a.cfg.Budget),
		CronSecret:        a.cfg.CronSecret,
		AdminEmail:        a.cfg.AdminEmail,
		DefaultOffsets:    defaults.Offsets,
		DefaultCategories: defaults.Categories,
	}
	srv.SetLogger(logging.NewLogger("server"))
	return srv
}

// newBroadcaster shares the app's recipients, composer and paced deliverer.
// A zero budget lets a broadcast run to the end of the list.
func (a *app) newBroadcaster(budget time.Duration) *broadcast.Broadcaster {
	b := broadcast.New(broadcast.Config{Budget: budget, BatchPause: a.cfg.BroadcastPause}, a.recipients, a.composer, a.deliverer)
	b.SetLogger(logging.NewLogger("broadcast"))
	return b
}

func (a *app) Close() error {
	if a.http != nil {
		a.http.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func userAgent(cfg *config.Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return client.DefaultConfig(cfg.OpenAlexContact).UserAgent
}

// leaseTTL covers the budget with room for the final batch to persist.
func leaseTTL(cfg *config.Config) time.Duration {
	if cfg.LeaseTTL >= cfg.Budget {
		return cfg.LeaseTTL
	}
	return cfg.Budget + cfg.SafetyMargin
}

// requestDefaults applies the configured preference defaults over the
// standard ones.
func requestDefaults(cfg *config.Config) aggregator.Defaults {
	d := aggregator.StandardDefaults()
	if len(cfg.DefaultOffsets) > 0 {
		d.Offsets = cfg.DefaultOffsets
	}
	if len(cfg.DefaultCategories) > 0 {
		d.Categories = cfg.DefaultCategories
	}
	return d
}
