package humanity

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/reference"
)

var testRefs = &reference.Sets{
	Bridges: reference.NewSet("0xb1"),
	Lending: reference.NewSet("0xl1"),
	ENS:     reference.NewSet("0xe1"),
	Mixers:  reference.NewSet("0xm1"),
}

func txAt(date string) ledger.Transaction {
	ts, err := time.Parse("2006-01-02 15:04", date)
	if err != nil {
		panic(err)
	}
	return ledger.Transaction{Timestamp: ts.Unix(), From: "0xw", To: "0xother", Input: "0x", Kind: ledger.KindNative}
}

func TestScoreStreakScenario(t *testing.T) {
	txs := []ledger.Transaction{
		txAt("2024-01-01 10:00"),
		txAt("2024-01-02 23:59"),
		txAt("2024-01-03 00:01"),
		txAt("2024-01-03 12:00"),
		txAt("2024-02-15 08:00"),
	}

	got := Score(txs, testRefs).Metrics

	if got.ActiveDays.Value != 4 || got.ActiveDays.Score != 25 {
		t.Errorf("ActiveDays: got %+v, want {4 25}", got.ActiveDays)
	}
	if got.LongestStreak.Value != 3 || got.LongestStreak.Score != 25 {
		t.Errorf("LongestStreak: got %+v, want {3 25}", got.LongestStreak)
	}
	if got.CurrentStreak.Value != 1 || got.CurrentStreak.Score != 25 {
		t.Errorf("CurrentStreak: got %+v, want {1 25}", got.CurrentStreak)
	}
	if got.ActivityPeriod.Value != 1 || got.ActivityPeriod.Score != 25 {
		t.Errorf("ActivityPeriod: got %+v, want {1 25}", got.ActivityPeriod)
	}
}

func TestScoreEmptyHistory(t *testing.T) {
	got := Score(nil, testRefs)

	lowestTier := map[string]int{
		"activeDays":     got.Metrics.ActiveDays.Score,
		"longestStreak":  got.Metrics.LongestStreak.Score,
		"currentStreak":  got.Metrics.CurrentStreak.Score,
		"activityPeriod": got.Metrics.ActivityPeriod.Score,
	}
	for name, s := range lowestTier {
		if s != 25 {
			t.Errorf("%s score: got %d, want 25", name, s)
		}
	}

	if got.Metrics.ActiveDays.Value != 0 || got.Metrics.CurrentStreak.Value != 0 || got.Metrics.ActivityPeriod.Value != 0 {
		t.Errorf("empty values: %+v", got.Metrics)
	}
	if got.Metrics.BridgeInteractions.Score != 0 || got.Metrics.ContractDeployments.Score != 0 {
		t.Errorf("count metrics should score 0: %+v", got.Metrics)
	}
	if got.Score != 12 {
		t.Errorf("Score: got %d, want 12", got.Score)
	}
}

func TestScoreSingleDayStreak(t *testing.T) {
	got := Score([]ledger.Transaction{txAt("2024-05-05 05:05")}, testRefs).Metrics
	if got.LongestStreak.Value != 1 || got.CurrentStreak.Value != 1 {
		t.Errorf("single day: longest=%v current=%v, want 1 and 1", got.LongestStreak.Value, got.CurrentStreak.Value)
	}
}

func TestScoreLongStreaks(t *testing.T) {
	start := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	var txs []ledger.Transaction
	for i := 0; i < 40; i++ {
		txs = append(txs, ledger.Transaction{Timestamp: start.AddDate(0, 0, i).Unix(), To: "0xother"})
	}
	// A gap, then a fresh run of 6 days ending at the latest activity
	for i := 0; i < 6; i++ {
		txs = append(txs, ledger.Transaction{Timestamp: start.AddDate(0, 0, 100+i).Unix(), To: "0xother"})
	}

	got := Score(txs, testRefs).Metrics
	if got.LongestStreak.Value != 40 || got.LongestStreak.Score != 75 {
		t.Errorf("LongestStreak: got %+v, want {40 75}", got.LongestStreak)
	}
	if got.CurrentStreak.Value != 6 || got.CurrentStreak.Score != 50 {
		t.Errorf("CurrentStreak: got %+v, want {6 50}", got.CurrentStreak)
	}
	if got.ActiveDays.Value != 46 || got.ActiveDays.Score != 50 {
		t.Errorf("ActiveDays: got %+v, want {46 50}", got.ActiveDays)
	}
	if got.ActivityPeriod.Value != 3 || got.ActivityPeriod.Score != 50 {
		t.Errorf("ActivityPeriod: got %+v, want {3 50}", got.ActivityPeriod)
	}
}

func TestScoreReferenceInteractions(t *testing.T) {
	base := txAt("2024-01-01 00:00")
	var txs []ledger.Transaction
	add := func(to string, n int) {
		for i := 0; i < n; i++ {
			tx := base
			tx.To = to
			txs = append(txs, tx)
		}
	}
	add("0xb1", 6)
	add("0xl1", 3)
	add("0xe1", 16)

	got := Score(txs, testRefs).Metrics
	if got.BridgeInteractions.Value != 6 || got.BridgeInteractions.Score != 75 {
		t.Errorf("Bridge: got %+v, want {6 75}", got.BridgeInteractions)
	}
	if got.LendingInteractions.Value != 3 || got.LendingInteractions.Score != 50 {
		t.Errorf("Lending: got %+v, want {3 50}", got.LendingInteractions)
	}
	if got.ENSInteractions.Value != 16 || got.ENSInteractions.Score != 100 {
		t.Errorf("ENS: got %+v, want {16 100}", got.ENSInteractions)
	}
}

func TestScoreContractDeployments(t *testing.T) {
	deploy := txAt("2024-01-01 00:00")
	deploy.To = ""
	deploy.Input = "0x6080604052"

	emptyPayload := deploy
	emptyPayload.Input = "0x"

	txs := []ledger.Transaction{deploy, deploy, emptyPayload, txAt("2024-01-02 00:00")}
	got := Score(txs, testRefs).Metrics
	if got.ContractDeployments.Value != 2 || got.ContractDeployments.Score != 50 {
		t.Errorf("ContractDeployments: got %+v, want {2 50}", got.ContractDeployments)
	}
}

func TestLaddersAreMonotonic(t *testing.T) {
	ladders := map[string]func(int) int{
		"activeDays":    activeDaysScore,
		"longestStreak": longestStreakScore,
		"currentStreak": currentStreakScore,
		"bridge":        bridgeScore,
		"lending":       lendingScore,
		"ens":           ensScore,
		"deployments":   deploymentScore,
		"activityPeriod": func(n int) int {
			return activityPeriodScore(float64(n) / 4)
		},
	}
	allowed := map[int]bool{0: true, 25: true, 50: true, 75: true, 100: true}

	for name, ladder := range ladders {
		t.Run(name, func(t *testing.T) {
			prev := -1
			for v := 0; v <= 400; v++ {
				s := ladder(v)
				if !allowed[s] {
					t.Fatalf("value %d scored %d, not a ladder step", v, s)
				}
				if s < prev {
					t.Fatalf("ladder decreased at %d: %d < %d", v, s, prev)
				}
				prev = s
			}
		})
	}
}

func TestLadderBreakpoints(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(int) int
		value int
		want  int
	}{
		{"active days 30 is inclusive", activeDaysScore, 30, 50},
		{"active days 90 is exclusive", activeDaysScore, 90, 50},
		{"active days 181", activeDaysScore, 181, 100},
		{"longest streak 10", longestStreakScore, 10, 50},
		{"longest streak 61", longestStreakScore, 61, 100},
		{"current streak 5", currentStreakScore, 5, 50},
		{"current streak 16", currentStreakScore, 16, 75},
		{"bridge 0", bridgeScore, 0, 0},
		{"bridge 3", bridgeScore, 3, 50},
		{"bridge 11", bridgeScore, 11, 100},
		{"lending 8", lendingScore, 8, 75},
		{"ens 3", ensScore, 3, 25},
		{"ens 4", ensScore, 4, 50},
		{"deployments 1", deploymentScore, 1, 25},
		{"deployments 4", deploymentScore, 4, 75},
		{"deployments 8", deploymentScore, 8, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.value); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

type fakeHistory struct {
	txs []ledger.Transaction
	err error
}

func (f fakeHistory) Transactions(context.Context, string) ([]ledger.Transaction, error) {
	return f.txs, f.err
}

func TestAnalyzerBuildsReport(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	a := NewAnalyzer(fakeHistory{txs: []ledger.Transaction{txAt("2024-01-01 00:00")}}, testRefs, ratelimit.NewManualClock(now), log)
	report, err := a.Analyze(context.Background(), "0xABCDEF")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if report.Metadata.Address != "0xabcdef" {
		t.Errorf("Address: got %s", report.Metadata.Address)
	}
	if !report.Metadata.Timestamp.Equal(now) {
		t.Errorf("Timestamp: got %v, want %v", report.Metadata.Timestamp, now)
	}
	if !report.HasActivity() {
		t.Error("HasActivity should be true")
	}
	// 4 streak/time metrics at 25, 4 count metrics at 0
	if report.OnchainScore != 12 {
		t.Errorf("OnchainScore: got %d, want 12", report.OnchainScore)
	}
}

func TestAnalyzerPropagatesFetchFailure(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cause := errors.New("upstream down")

	a := NewAnalyzer(fakeHistory{err: cause}, testRefs, nil, log)
	_, err := a.Analyze(context.Background(), "0xabc")
	if !errors.Is(err, cause) {
		t.Errorf("got %v, want wrapped cause", err)
	}
}
