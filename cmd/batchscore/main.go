package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/liamashdown/walletsignal/internal/batch"
	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/humanity"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/reference"
	"github.com/liamashdown/walletsignal/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	addressFile := flag.String("addresses", "addresses.txt", "file with one wallet address per line")
	export := flag.String("export", "", "write all stored results as CSV to this path after the run")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	refs, err := reference.Load(cfg.ReferenceDataPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load reference data")
	}

	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := ratelimit.SystemClock{}
	client := ledger.NewClient(cfg, clock, log)
	runner := batch.New(db, humanity.NewAnalyzer(client, refs, clock, log), cfg, clock, log)

	f, err := os.Open(*addressFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to open address file")
	}
	addresses, err := batch.ReadAddresses(f)
	f.Close()
	if err != nil {
		log.WithError(err).Fatal("Failed to read address file")
	}

	log.WithField("addresses", len(addresses)).Info("Starting batch run")

	summary, err := runner.Run(ctx, addresses)
	log.WithFields(logrus.Fields{
		"scored":  summary.Scored,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Info("Batch run finished")
	if err != nil {
		log.WithError(err).Error("Batch run stopped early")
	}

	if *export == "" {
		return
	}

	out, err := os.Create(*export)
	if err != nil {
		log.WithError(err).Fatal("Failed to create export file")
	}
	defer out.Close()

	if err := runner.Export(context.Background(), out); err != nil {
		log.WithError(err).Fatal("Failed to export results")
	}
	log.WithField("path", *export).Info("Results exported")
}
