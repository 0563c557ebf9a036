package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/reference"
	"github.com/liamashdown/walletsignal/internal/score"
)

const unknownFunder = "unknown"

// Ledger is the subset of the ledger client the cluster analysis needs
type Ledger interface {
	FirstTransaction(ctx context.Context, address string) (*ledger.Transaction, error)
	TransactionsInRange(ctx context.Context, address string, start, end time.Time) ([]ledger.Transaction, error)
	InternalTransactionsInRange(ctx context.Context, address string, start, end time.Time) ([]ledger.Transaction, error)
}

// Metrics are the cluster features, keyed as they appear in responses
type Metrics struct {
	FundingSource score.Metric `json:"fundingSource"`
	ClusterSize   score.Metric `json:"clusterSize"`
}

// Metadata is the descriptive part of a cluster report
type Metadata struct {
	Address   string    `json:"address"`
	Metrics   Metrics   `json:"metrics"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the serialized cluster analysis
type Report struct {
	Metadata     Metadata `json:"metadata"`
	ClusterScore float64  `json:"clusterScore"`

	Funder   string `json:"-"`
	Degraded bool   `json:"-"`
}

// HasActivity reports whether a funder was found
func (r *Report) HasActivity() bool {
	return r.Funder != ""
}

// Empty returns the all-zero report served for wallets without a funder
func Empty(address string, now time.Time) *Report {
	return &Report{
		Metadata: Metadata{
			Address: address,
			Metrics: Metrics{
				FundingSource: score.Metric{Value: unknownFunder, Score: 0},
				ClusterSize:   score.Metric{Value: 0, Score: 0},
			},
			Timestamp: now.UTC(),
		},
	}
}

// Analyzer finds wallets funded alongside a wallet by the same source
type Analyzer struct {
	ledger        Ledger
	mixers        reference.Set
	windowRadius  time.Duration
	retryAttempts int
	retryDelay    time.Duration
	clock         ratelimit.Clock
	log           *logrus.Logger
}

// NewAnalyzer creates a cluster analyzer
func NewAnalyzer(l Ledger, mixers reference.Set, cfg *config.Config, clock ratelimit.Clock, log *logrus.Logger) *Analyzer {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	attempts := cfg.ClusterRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Analyzer{
		ledger:        l,
		mixers:        mixers,
		windowRadius:  cfg.AnalysisWindowRadius,
		retryAttempts: attempts,
		retryDelay:    cfg.ClusterRetryDelay,
		clock:         clock,
		log:           log,
	}
}

// Analyze identifies the wallet's funder and the size of its funding cluster.
// A wallet with no history yields a zero report, not an error.
func (a *Analyzer) Analyze(ctx context.Context, address string) (*Report, error) {
	start := time.Now()
	address = ledger.NormalizeAddress(address)

	funding, err := a.ledger.FirstTransaction(ctx, address)
	if ledger.IsNotFound(err) {
		a.log.WithField("address", address).Debug("No funding transaction found")
		metrics.RecordAnalysis(string(score.KindCluster), time.Since(start), nil)
		return Empty(address, a.clock.Now()), nil
	}
	if err != nil {
		metrics.RecordAnalysis(string(score.KindCluster), time.Since(start), err)
		return nil, fmt.Errorf("cluster analysis: %w", err)
	}

	funder := funding.From
	sourceScore := FundingSourceScore(funder, a.mixers)

	size, degraded, err := a.clusterSizeWithRetry(ctx, funding)
	if err != nil {
		metrics.RecordAnalysis(string(score.KindCluster), time.Since(start), err)
		return nil, fmt.Errorf("cluster analysis: %w", err)
	}
	sizeScore := SizeScore(size)
	total := TotalScore(sourceScore, sizeScore)

	a.log.WithFields(logrus.Fields{
		"address":      address,
		"funder":       funder,
		"cluster_size": size,
		"degraded":     degraded,
		"score":        total,
	}).Debug("Cluster analysis complete")

	metrics.RecordAnalysis(string(score.KindCluster), time.Since(start), nil)
	metrics.RecordScore(string(score.KindCluster), total)

	return &Report{
		Metadata: Metadata{
			Address: address,
			Metrics: Metrics{
				FundingSource: score.Metric{Value: funder, Score: sourceScore},
				ClusterSize:   score.Metric{Value: size, Score: sizeScore},
			},
			Timestamp: a.clock.Now().UTC(),
		},
		ClusterScore: total,
		Funder:       funder,
		Degraded:     degraded,
	}, nil
}

// clusterSizeWithRetry degrades to zero once every attempt has failed.
// It only returns an error when ctx ends, and that is not a degradation.
func (a *Analyzer) clusterSizeWithRetry(ctx context.Context, funding *ledger.Transaction) (int, bool, error) {
	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		size, err := a.clusterSize(ctx, funding)
		if err == nil {
			return size, false, nil
		}
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}

		entry := a.log.WithFields(logrus.Fields{
			"funder":  funding.From,
			"attempt": attempt,
		}).WithError(err)

		if attempt == a.retryAttempts {
			entry.Warn("Cluster size computation failed, falling back to zero")
			break
		}
		entry.Warn("Cluster size computation failed, retrying")

		if err := a.clock.Sleep(ctx, a.retryDelay); err != nil {
			return 0, false, err
		}
	}

	metrics.RecordClusterDegradation()
	return 0, true, nil
}

// clusterSize counts distinct recipients of same-value transfers sent by the
// funder inside the window around the funding transaction.
func (a *Analyzer) clusterSize(ctx context.Context, funding *ledger.Transaction) (int, error) {
	window := ledger.NewTimeWindow(funding.Time(), a.windowRadius)
	funder := funding.From

	var native, internal []ledger.Transaction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := a.ledger.TransactionsInRange(gctx, funder, window.Start, window.End)
		native = txs
		return err
	})
	g.Go(func() error {
		txs, err := a.ledger.InternalTransactionsInRange(gctx, funder, window.Start, window.End)
		internal = txs
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return countRecipients(funder, funding.Value, native, internal), nil
}

func countRecipients(funder string, value decimal.Decimal, lists ...[]ledger.Transaction) int {
	recipients := make(map[string]struct{})
	for _, txs := range lists {
		for _, tx := range txs {
			if tx.From != funder || tx.To == "" || !tx.Value.Equal(value) {
				continue
			}
			recipients[tx.To] = struct{}{}
		}
	}
	return len(recipients)
}

// FundingSourceScore is 100 for a known mixer or relayer, otherwise 0
func FundingSourceScore(funder string, mixers reference.Set) int {
	if mixers.Contains(funder) {
		return 100
	}
	return 0
}

// SizeScore maps a cluster size onto its ladder
func SizeScore(size int) int {
	switch {
	case size > 15:
		return 100
	case size >= 5:
		return 50
	case size >= 2:
		return 25
	default:
		return 0
	}
}

// TotalScore averages the funding source and cluster size scores
func TotalScore(sourceScore, sizeScore int) float64 {
	return float64(sourceScore+sizeScore) / 2
}
