// Package batch scores a list of wallet addresses offline and records the
// humanity score of each in storage.
package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/humanity"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/storage"
)

// Store persists batch results
type Store interface {
	ProcessedAddresses(ctx context.Context) (map[string]struct{}, error)
	SaveResult(ctx context.Context, address, score string) error
	Results(ctx context.Context) ([]storage.BatchResult, error)
}

// Scorer computes the humanity report for one wallet
type Scorer interface {
	Analyze(ctx context.Context, address string) (*humanity.Report, error)
}

// Summary counts what a run did
type Summary struct {
	Scored  int
	Failed  int
	Skipped int
}

// Runner walks an address list one wallet at a time
type Runner struct {
	store  Store
	scorer Scorer
	delay  time.Duration
	clock  ratelimit.Clock
	log    *logrus.Logger
}

// New creates a batch runner
func New(store Store, scorer Scorer, cfg *config.Config, clock ratelimit.Clock, log *logrus.Logger) *Runner {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	return &Runner{
		store:  store,
		scorer: scorer,
		delay:  cfg.BatchAddressDelay,
		clock:  clock,
		log:    log,
	}
}

// ReadAddresses returns the addresses in r, one per line. Lines that do
// not start with 0x are ignored.
func ReadAddresses(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "0x") {
			continue
		}
		out = append(out, ledger.NormalizeAddress(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return out, nil
}

// Run scores every address that has no stored result yet. A scoring
// failure is recorded as ERROR and does not stop the run; a storage
// failure does.
func (r *Runner) Run(ctx context.Context, addresses []string) (Summary, error) {
	var summary Summary

	done, err := r.store.ProcessedAddresses(ctx)
	if err != nil {
		return summary, fmt.Errorf("load processed addresses: %w", err)
	}

	first := true
	for _, address := range addresses {
		address = ledger.NormalizeAddress(address)
		if _, ok := done[address]; ok {
			summary.Skipped++
			continue
		}

		if !first {
			if err := r.clock.Sleep(ctx, r.delay); err != nil {
				return summary, err
			}
		}
		first = false

		value := storage.ErrorScore
		report, err := r.scorer.Analyze(ctx, address)
		if err != nil {
			r.log.WithError(err).WithField("address", address).Warn("Failed to score address")
			summary.Failed++
		} else {
			value = strconv.Itoa(report.OnchainScore)
			summary.Scored++
		}

		if err := r.store.SaveResult(ctx, address, value); err != nil {
			return summary, fmt.Errorf("save result for %s: %w", address, err)
		}
		done[address] = struct{}{}

		r.log.WithFields(logrus.Fields{
			"address": address,
			"score":   value,
		}).Info("Address processed")
	}

	return summary, nil
}

// Export writes every stored result as CSV with an Address,Humanity Score header
func (r *Runner) Export(ctx context.Context, w io.Writer) error {
	rows, err := r.store.Results(ctx)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Address", "Humanity Score"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.Address, row.Score}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
