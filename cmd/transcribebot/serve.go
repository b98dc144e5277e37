package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcribebot/internal/audit"
	"transcribebot/internal/channel"
	"transcribebot/internal/config"
	"transcribebot/internal/domain"
	"transcribebot/internal/media"
	"transcribebot/internal/metrics"
	"transcribebot/internal/pipeline"
	"transcribebot/internal/provider"
	"transcribebot/internal/server"

	"github.com/spf13/cobra"
)

const (
	serverShutdownTimeout = 10 * time.Second
	drainTimeout          = 60 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Serves the inbound webhook, health and metrics endpoints. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// service holds every long-lived component built for serve.
type service struct {
	server    *server.Server
	pool      *pipeline.Pool
	store     *audit.SQLiteStore
	retention *audit.RetentionJob
	logger    *slog.Logger
}

// buildService constructs and wires all components from cfg. Nothing is
// started and no port is bound.
func buildService(cfg *config.Config, log *slog.Logger) (*service, error) {
	svc := &service{logger: log}

	var validator domain.RequestValidator
	if cfg.Twilio.AuthToken != "" {
		validator = channel.NewSignatureValidator(cfg.Twilio.AuthToken)
	} else {
		log.Warn("AUTH_TOKEN not set; webhook signatures will not be verified")
	}

	var sender domain.ReplySender
	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
		Channel:    cfg.Twilio.Channel,
		Logger:     log,
	})
	if dispatcher.Configured() {
		sender = dispatcher
	} else if cfg.Processing.AsyncReply {
		log.Warn("async replies need ACCOUNT_SID, AUTH_TOKEN and FROM; replying inline")
	}

	fetcher := media.NewFetcher(media.FetcherConfig{
		TempDir:   cfg.Media.TempDir,
		Timeout:   time.Duration(cfg.Media.FetchTimeoutSeconds) * time.Second,
		ChunkSize: cfg.Media.ChunkSize,
		MaxBytes:  cfg.Media.MaxBytes,
		Username:  cfg.Twilio.AccountSID,
		Password:  cfg.Twilio.AuthToken,
		Logger:    log,
	})

	transcriber, err := provider.NewTranscriber(cfg.Transcription, provider.SharedHTTPClient(0), log)
	if err != nil {
		return nil, fmt.Errorf("transcription engine: %w", err)
	}

	var submitter pipeline.Submitter
	if cfg.Processing.AsyncReply && sender != nil {
		svc.pool = pipeline.NewPool(pipeline.PoolConfig{
			Workers:   cfg.Processing.Workers,
			QueueSize: cfg.Processing.QueueSize,
			Logger:    log,
		})
		submitter = svc.pool
	}

	var store domain.EventStore
	if cfg.Audit.Enabled {
		svc.store, err = audit.NewSQLiteStore(cfg.Audit.DBPath, log)
		if err != nil {
			svc.close(context.Background())
			return nil, fmt.Errorf("audit store: %w", err)
		}
		store = svc.store
		if cfg.Audit.RetentionDays > 0 {
			retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
			svc.retention, err = audit.NewRetentionJob(svc.store, retention, cfg.Audit.PruneSchedule, log)
			if err != nil {
				svc.close(context.Background())
				return nil, fmt.Errorf("audit retention: %w", err)
			}
		}
	}

	orchestrator := pipeline.New(pipeline.Config{
		Validator:   validator,
		Fetcher:     fetcher,
		Transcriber: transcriber,
		Sender:      sender,
		Store:       store,
		Pool:        submitter,
		Messages:    cfg.Messages,
		Async:       cfg.Processing.AsyncReply,
		Logger:      log,
	})

	webhook := channel.NewWebhook(channel.WebhookConfig{
		Handler:       orchestrator,
		Logger:        log,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		WebhookPath:     cfg.Server.WebhookPath,
		MaxConnections:  cfg.Server.MaxConnections,
		Webhook:         webhook,
		ShutdownTimeout: serverShutdownTimeout,
		Logger:          log,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Metrics = metrics.Collector.Handler()
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	svc.server = server.New(srvCfg)

	log.Info("service configured",
		"engine", transcriber.Name(),
		"max_concurrent", cfg.Transcription.MaxConcurrent,
		"async", submitter != nil,
		"signatures", validator != nil,
		"audit", cfg.Audit.Enabled,
	)
	return svc, nil
}

// run serves until ctx ends, then drains detached work.
func (s *service) run(ctx context.Context) error {
	if s.retention != nil {
		s.retention.Start(ctx)
	}
	if err := s.server.Start(ctx); err != nil {
		s.close(context.Background())
		return err
	}
	serveErr := s.server.Wait()

	if s.pool != nil {
		s.logger.Info("draining background work", "active", len(s.pool.ListActive()))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	closeErr := s.close(drainCtx)

	return errors.Join(serveErr, closeErr)
}

// close stops background work in dependency order: queued events finish
// before the audit store they write to is closed.
func (s *service) close(ctx context.Context) error {
	var errs []error
	if s.pool != nil {
		if err := s.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
		}
	}
	if s.retention != nil {
		if err := s.retention.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop audit retention: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(cfg, log)
	if err != nil {
		return err
	}

	log.Info("transcribebot starting", "version", version, "port", cfg.Server.Port)
	if err := svc.run(ctx); err != nil {
		log.Error("shutdown incomplete", "err", err)
		return err
	}
	log.Info("shutdown complete")
	return nil
}
