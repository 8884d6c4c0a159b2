package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linebot/internal/channel"
	"linebot/internal/domain"
	"linebot/internal/memory"
	"linebot/internal/metrics"
	"linebot/internal/provider"
	"linebot/internal/scheduler"
)

const (
	lineHTTPTimeout    = 30 * time.Second
	dedupePurgeEvery   = time.Hour
	refreshJobName     = "index-refresh"
	dedupePurgeJobName = "dedupe-purge"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Builds the document index and serves the LINE webhook. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &domain.StartupError{Step: "config", Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.buildIndex(ctx); err != nil {
		return err
	}

	var deduper channel.Deduper
	var events *memory.EventStore
	if cfg.Webhook.Dedupe {
		events, err = memory.NewEventStore(cfg.Webhook.DedupeDBPath, logger.With("component", "dedupe"))
		if err != nil {
			return &domain.StartupError{Step: "dedupe store", Err: err}
		}
		defer events.Close()
		deduper = events
	}

	sched, err := scheduler.New(logger)
	if err != nil {
		return &domain.StartupError{Step: "scheduler", Err: err}
	}
	if a.builder != nil && cfg.Knowledge.RefreshInterval > 0 {
		if err := sched.Every(refreshJobName, cfg.Knowledge.RefreshInterval, a.refreshIndex); err != nil {
			return &domain.StartupError{Step: "scheduler", Err: err}
		}
	}
	if events != nil && cfg.Webhook.DedupeRetention > 0 {
		retention := cfg.Webhook.DedupeRetention
		purge := func(ctx context.Context) error {
			n, err := events.Purge(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("purged processed events", "count", n)
			}
			return nil
		}
		if err := sched.Every(dedupePurgeJobName, dedupePurgeEvery, purge); err != nil {
			return &domain.StartupError{Step: "scheduler", Err: err}
		}
	}

	sender, err := channel.NewLineSender(channel.LineSenderConfig{
		AccessToken: cfg.Line.ChannelAccessToken,
		Endpoint:    cfg.Line.APIEndpoint,
		HTTPClient:  provider.SharedHTTPClient(lineHTTPTimeout),
		Logger:      logger,
	})
	if err != nil {
		return &domain.StartupError{Step: "line sender", Err: err}
	}

	webhookCfg := channel.LineWebhookConfig{
		Addr:            net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		CallbackPath:    cfg.Line.CallbackPath,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Parser:          channel.NewLineParser(cfg.Line.ChannelSecret),
		Sender:          sender,
		Responder:       a.responder,
		Deduper:         deduper,
		Index:           a.holder,
		Logger:          logger,
	}
	if cfg.Metrics.Enabled {
		webhookCfg.MetricsPath = cfg.Metrics.Path
		webhookCfg.MetricsHandler = metrics.Collector.Handler()
	}
	server := channel.NewLineWebhook(webhookCfg)

	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", "err", err)
		}
	}()

	logger.Info("linebot started",
		"version", version,
		"addr", webhookCfg.Addr,
		"callback", cfg.Line.CallbackPath,
		"mode", cfg.Bot.Mode,
		"indexReady", a.holder.Ready(),
		"dedupe", cfg.Webhook.Dedupe,
		"jobs", sched.Jobs(),
	)

	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("linebot stopped")
	return nil
}
