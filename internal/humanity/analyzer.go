package humanity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/reference"
	"github.com/liamashdown/walletsignal/internal/score"
)

// History supplies a wallet's native transactions
type History interface {
	Transactions(ctx context.Context, address string) ([]ledger.Transaction, error)
}

// Metadata is the descriptive part of a humanity report
type Metadata struct {
	Address   string    `json:"address"`
	Metrics   Metrics   `json:"metrics"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the serialized humanity analysis
type Report struct {
	Metadata     Metadata `json:"metadata"`
	OnchainScore int      `json:"onchainScore"`

	TransactionCount int `json:"-"`
}

// HasActivity reports whether the wallet had any native transactions
func (r *Report) HasActivity() bool {
	return r.TransactionCount > 0
}

// Empty returns the all-zero report served for wallets without history
func Empty(address string, now time.Time) *Report {
	zero := score.Metric{Value: 0, Score: 0}
	return &Report{
		Metadata: Metadata{
			Address: address,
			Metrics: Metrics{
				ActiveDays:          zero,
				LongestStreak:       zero,
				CurrentStreak:       zero,
				ActivityPeriod:      zero,
				BridgeInteractions:  zero,
				LendingInteractions: zero,
				ENSInteractions:     zero,
				ContractDeployments: zero,
			},
			Timestamp: now.UTC(),
		},
	}
}

// Analyzer fetches a wallet's history and scores it
type Analyzer struct {
	history History
	refs    *reference.Sets
	clock   ratelimit.Clock
	log     *logrus.Logger
}

// NewAnalyzer creates a humanity analyzer
func NewAnalyzer(history History, refs *reference.Sets, clock ratelimit.Clock, log *logrus.Logger) *Analyzer {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	return &Analyzer{history: history, refs: refs, clock: clock, log: log}
}

// Analyze scores address. Failing to fetch the history fails the analysis.
func (a *Analyzer) Analyze(ctx context.Context, address string) (*Report, error) {
	start := time.Now()
	address = ledger.NormalizeAddress(address)

	txs, err := a.history.Transactions(ctx, address)
	if err != nil {
		metrics.RecordAnalysis(string(score.KindHumanity), time.Since(start), err)
		return nil, fmt.Errorf("humanity analysis: %w", err)
	}

	result := Score(txs, a.refs)

	a.log.WithFields(logrus.Fields{
		"address":      address,
		"transactions": len(txs),
		"score":        result.Score,
	}).Debug("Humanity score computed")

	metrics.RecordAnalysis(string(score.KindHumanity), time.Since(start), nil)
	metrics.RecordScore(string(score.KindHumanity), float64(result.Score))

	return &Report{
		Metadata: Metadata{
			Address:   address,
			Metrics:   result.Metrics,
			Timestamp: a.clock.Now().UTC(),
		},
		OnchainScore:     result.Score,
		TransactionCount: len(txs),
	}, nil
}
