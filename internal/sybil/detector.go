package sybil

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/score"
)

// Ledger is the subset of the ledger client the Sybil scan needs
type Ledger interface {
	Transactions(ctx context.Context, address string) ([]ledger.Transaction, error)
	InternalTransactions(ctx context.Context, address string) ([]ledger.Transaction, error)
	TokenTransfers(ctx context.Context, address string) ([]ledger.Transaction, error)
	NFTTransfers(ctx context.Context, address string) ([]ledger.Transaction, error)
	TransactionsInRange(ctx context.Context, address string, start, end time.Time) ([]ledger.Transaction, error)
	TokenTransfersInRange(ctx context.Context, address string, start, end time.Time) ([]ledger.Transaction, error)
	NFTTransfersInRange(ctx context.Context, address string, start, end time.Time) ([]ledger.Transaction, error)
}

// Metrics are the Sybil features, keyed as they appear in responses
type Metrics struct {
	Occurrences  score.Metric `json:"occurrences"`
	Coordination score.Metric `json:"coordination"`
}

// Metadata is the descriptive part of a Sybil report
type Metadata struct {
	Address         string    `json:"address"`
	ContractAddress string    `json:"contractAddress"`
	Metrics         Metrics   `json:"metrics"`
	Timestamp       time.Time `json:"timestamp"`
}

// Report is the serialized Sybil analysis
type Report struct {
	Metadata   Metadata `json:"metadata"`
	SybilScore int      `json:"sybilScore"`

	Patterns     []Pattern `json:"-"`
	Interactions int       `json:"-"`
}

// HasActivity reports whether the wallet ever interacted with the contract
func (r *Report) HasActivity() bool {
	return r.Interactions > 0
}

// Empty returns the all-zero report served for wallets without interactions
func Empty(address, contract string, now time.Time) *Report {
	return newReport(address, contract, 0, 0, now)
}

// newReport derives the coordination metric from the capped total, so its
// score is what coordination actually added.
func newReport(address, contract string, occurrences, sybilScore int, now time.Time) *Report {
	occurrenceScore := OccurrenceScore(occurrences)
	return &Report{
		Metadata: Metadata{
			Address:         address,
			ContractAddress: contract,
			Metrics: Metrics{
				Occurrences: score.Metric{Value: occurrences, Score: occurrenceScore},
				Coordination: score.Metric{
					Value: sybilScore > occurrenceScore,
					Score: sybilScore - occurrenceScore,
				},
			},
			Timestamp: now.UTC(),
		},
		SybilScore: sybilScore,
	}
}

// Detector scans a wallet's interactions with a contract for coordinated peers
type Detector struct {
	ledger       Ledger
	windowRadius time.Duration
	windowPause  time.Duration
	clock        ratelimit.Clock
	log          *logrus.Logger
}

// NewDetector creates a Sybil detector
func NewDetector(l Ledger, cfg *config.Config, clock ratelimit.Clock, log *logrus.Logger) *Detector {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	return &Detector{
		ledger:       l,
		windowRadius: cfg.AnalysisWindowRadius,
		windowPause:  cfg.SybilWindowPause,
		clock:        clock,
		log:          log,
	}
}

// Analyze scores wallet's interactions with contract. Failing to fetch the
// wallet's own history fails the analysis; a failed window is skipped.
func (d *Detector) Analyze(ctx context.Context, wallet, contract string) (*Report, error) {
	start := time.Now()
	wallet = ledger.NormalizeAddress(wallet)
	contract = ledger.NormalizeAddress(contract)

	interactions, err := d.fetchInteractions(ctx, wallet, contract)
	if err != nil {
		metrics.RecordAnalysis(string(score.KindSybil), time.Since(start), err)
		return nil, fmt.Errorf("sybil analysis: %w", err)
	}

	logger := d.log.WithFields(logrus.Fields{
		"wallet":   wallet,
		"contract": contract,
	})

	if len(interactions) == 0 {
		logger.Debug("No contract interactions found")
		metrics.RecordAnalysis(string(score.KindSybil), time.Since(start), nil)
		return Empty(wallet, contract, d.clock.Now()), nil
	}

	patterns, err := d.scan(ctx, interactions, wallet, contract)
	if err != nil {
		metrics.RecordAnalysis(string(score.KindSybil), time.Since(start), err)
		return nil, fmt.Errorf("sybil analysis: %w", err)
	}

	occurrenceScore := OccurrenceScore(len(patterns))
	coordinationScore := CoordinationScore(patterns)
	sybilScore := score.Clamp(occurrenceScore + coordinationScore)

	logger.WithFields(logrus.Fields{
		"interactions":       len(interactions),
		"patterns":           len(patterns),
		"occurrence_score":   occurrenceScore,
		"coordination_score": coordinationScore,
		"score":              sybilScore,
	}).Debug("Sybil analysis complete")

	metrics.RecordAnalysis(string(score.KindSybil), time.Since(start), nil)
	metrics.RecordSybilPatterns(len(patterns))
	metrics.RecordScore(string(score.KindSybil), float64(sybilScore))

	report := newReport(wallet, contract, len(patterns), sybilScore, d.clock.Now())
	report.Patterns = patterns
	report.Interactions = len(interactions)
	return report, nil
}

func (d *Detector) fetchInteractions(ctx context.Context, wallet, contract string) ([]ledger.Transaction, error) {
	var native, internal, tokens, nfts []ledger.Transaction

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		native, err = d.ledger.Transactions(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		internal, err = d.ledger.InternalTransactions(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		tokens, err = d.ledger.TokenTransfers(gctx, wallet)
		return err
	})
	g.Go(func() (err error) {
		nfts, err = d.ledger.NFTTransfers(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filterInteractions(contract, native, internal, tokens, nfts), nil
}

// scan walks interactions in timestamp order, one window lookup per distinct event
func (d *Detector) scan(ctx context.Context, interactions []ledger.Transaction, wallet, contract string) ([]Pattern, error) {
	var patterns []Pattern
	processed := make(map[string]struct{}, len(interactions))
	lookups := 0

	for _, tx := range interactions {
		key := patternKey(tx)
		if _, ok := processed[key]; ok {
			continue
		}
		processed[key] = struct{}{}

		if lookups > 0 {
			if err := d.clock.Sleep(ctx, d.windowPause); err != nil {
				return nil, err
			}
		}
		lookups++

		window := ledger.NewTimeWindow(tx.Time(), d.windowRadius)
		records, err := d.fetchWindow(ctx, contract, window)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.log.WithFields(logrus.Fields{
				"hash":   tx.Hash,
				"kind":   tx.Kind.String(),
				"window": window.Start.Format(time.RFC3339),
			}).WithError(err).Warn("Skipping Sybil window after lookup failure")
			metrics.RecordSybilWindowFailure()
			continue
		}

		if p, ok := buildPattern(tx, records, wallet, contract); ok {
			patterns = append(patterns, p)
		}
	}

	return patterns, nil
}

func (d *Detector) fetchWindow(ctx context.Context, contract string, window ledger.TimeWindow) ([]ledger.Transaction, error) {
	var native, tokens, nfts []ledger.Transaction

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		native, err = d.ledger.TransactionsInRange(gctx, contract, window.Start, window.End)
		return err
	})
	g.Go(func() (err error) {
		tokens, err = d.ledger.TokenTransfersInRange(gctx, contract, window.Start, window.End)
		return err
	})
	g.Go(func() (err error) {
		nfts, err = d.ledger.NFTTransfersInRange(gctx, contract, window.Start, window.End)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]ledger.Transaction, 0, len(native)+len(tokens)+len(nfts))
	records = append(records, native...)
	records = append(records, tokens...)
	return append(records, nfts...), nil
}
