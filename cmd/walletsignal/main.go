package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamashdown/walletsignal/internal/alerts"
	"github.com/liamashdown/walletsignal/internal/cache"
	"github.com/liamashdown/walletsignal/internal/cluster"
	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/encryption"
	"github.com/liamashdown/walletsignal/internal/humanity"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/reference"
	"github.com/liamashdown/walletsignal/internal/server"
	"github.com/liamashdown/walletsignal/internal/sybil"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting walletsignal service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	log.WithFields(logrus.Fields{
		"environment":         cfg.Environment,
		"ledger_url":          cfg.LedgerAPIBaseURL,
		"ledger_min_interval": cfg.LedgerMinInterval,
		"allow_empty_wallets": cfg.AllowEmptyWallets,
		"bypass_errors":       cfg.BypassErrors,
		"alert_mode":          cfg.AlertMode,
	}).Info("Configuration loaded")

	refs, err := reference.Load(cfg.ReferenceDataPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load reference data")
	}

	log.WithFields(logrus.Fields{
		"bridges": refs.Bridges.Len(),
		"lending": refs.Lending.Len(),
		"ens":     refs.ENS.Len(),
		"mixers":  refs.Mixers.Len(),
	}).Info("Reference data loaded")

	enc, err := encryption.LoadFiles(cfg.PublicKeyPath, cfg.PrivateKeyPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load encryption keys")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Result cache is optional
	var resultCache server.ResultCache
	if cfg.ResultCacheRedisAddr != "" {
		rc, err := cache.NewResultCache(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to result cache")
		}
		defer rc.Close()
		resultCache = rc
	}

	// One client, one pacing gate for every analysis
	clock := ratelimit.SystemClock{}
	client := ledger.NewClient(cfg, clock, log)

	deps := server.Deps{
		Humanity: humanity.NewAnalyzer(client, refs, clock, log),
		Cluster:  cluster.NewAnalyzer(client, refs.Mixers, cfg, clock, log),
		Sybil:    sybil.NewDetector(client, cfg, clock, log),
		Sealer:   enc,
		Cache:    resultCache,
		Alerts:   createAlertSender(cfg, log),
		Clock:    clock,
	}

	log.WithField("alert_mode", cfg.AlertMode).Info("Alert sender initialized")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.New(cfg, deps, log).Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errCh:
		log.WithError(err).Error("HTTP server failed")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	log.Info("Graceful shutdown complete")
}

func createAlertSender(cfg *config.Config, log *logrus.Logger) alerts.Sender {
	senders := []alerts.Sender{}

	for _, mode := range cfg.AlertModes() {
		switch mode {
		case "log":
			senders = append(senders, alerts.NewLogSender(log))
		case "discord":
			if len(cfg.DiscordWebhookURLs) == 0 {
				log.Warn("Discord mode specified but DISCORD_WEBHOOK_URLS not set")
				continue
			}
			// A sender per webhook URL
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, alerts.NewDiscordSender(url))
			}
		case "smtp":
			if cfg.SMTPHost == "" {
				log.Warn("SMTP mode specified but SMTP_HOST not set")
				continue
			}
			senders = append(senders, alerts.NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	switch len(senders) {
	case 0:
		log.Warn("No valid alert senders configured, using log")
		return alerts.NewLogSender(log)
	case 1:
		return senders[0]
	default:
		return alerts.NewMultiSender(senders...)
	}
}
