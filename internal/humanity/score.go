package humanity

import (
	"sort"

	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/reference"
	"github.com/liamashdown/walletsignal/internal/score"
)

const (
	secondsPerDay   = 60 * 60 * 24
	secondsPerMonth = secondsPerDay * 30
)

// Metrics are the eight humanity features, keyed as they appear in responses
type Metrics struct {
	ActiveDays          score.Metric `json:"activeDays"`
	LongestStreak       score.Metric `json:"longestStreak"`
	CurrentStreak       score.Metric `json:"currentStreak"`
	ActivityPeriod      score.Metric `json:"activityPeriod"`
	BridgeInteractions  score.Metric `json:"bridgeInteractions"`
	LendingInteractions score.Metric `json:"lendingInteractions"`
	ENSInteractions     score.Metric `json:"ensInteractions"`
	ContractDeployments score.Metric `json:"contractDeployments"`
}

func (m Metrics) scores() []int {
	return []int{
		m.ActiveDays.Score,
		m.LongestStreak.Score,
		m.CurrentStreak.Score,
		m.ActivityPeriod.Score,
		m.BridgeInteractions.Score,
		m.LendingInteractions.Score,
		m.ENSInteractions.Score,
		m.ContractDeployments.Score,
	}
}

// Result is the outcome of scoring one transaction history
type Result struct {
	Metrics Metrics
	Score   int
}

// Score computes all eight metrics over native transactions and
// returns their floored mean. An empty history is valid input.
func Score(txs []ledger.Transaction, refs *reference.Sets) Result {
	days := activeDays(txs)

	longest := longestStreak(days)
	current := currentStreak(days)
	months := activityMonths(txs)
	bridges := countInteractions(txs, refs.Bridges)
	lending := countInteractions(txs, refs.Lending)
	ens := countInteractions(txs, refs.ENS)
	deployments := countDeployments(txs)

	m := Metrics{
		ActiveDays:          score.Metric{Value: len(days), Score: activeDaysScore(len(days))},
		LongestStreak:       score.Metric{Value: longest, Score: longestStreakScore(longest)},
		CurrentStreak:       score.Metric{Value: current, Score: currentStreakScore(current)},
		ActivityPeriod:      score.Metric{Value: int(months), Score: activityPeriodScore(months)},
		BridgeInteractions:  score.Metric{Value: bridges, Score: bridgeScore(bridges)},
		LendingInteractions: score.Metric{Value: lending, Score: lendingScore(lending)},
		ENSInteractions:     score.Metric{Value: ens, Score: ensScore(ens)},
		ContractDeployments: score.Metric{Value: deployments, Score: deploymentScore(deployments)},
	}

	total := 0
	scores := m.scores()
	for _, s := range scores {
		total += s
	}

	return Result{Metrics: m, Score: total / len(scores)}
}

// activeDays returns the distinct UTC calendar days with activity, ascending.
// Days are counted from the Unix epoch.
func activeDays(txs []ledger.Transaction) []int64 {
	seen := make(map[int64]struct{}, len(txs))
	days := make([]int64, 0, len(txs))
	for _, tx := range txs {
		d := dayIndex(tx.Timestamp)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

func dayIndex(ts int64) int64 {
	d := ts / secondsPerDay
	if ts%secondsPerDay < 0 {
		d--
	}
	return d
}

func longestStreak(days []int64) int {
	if len(days) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// currentStreak walks back from the most recent active day
func currentStreak(days []int64) int {
	if len(days) == 0 {
		return 0
	}
	run := 1
	for i := len(days) - 1; i > 0; i-- {
		if days[i]-days[i-1] != 1 {
			break
		}
		run++
	}
	return run
}

// activityMonths is the span between first and last transaction in 30-day months
func activityMonths(txs []ledger.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	first, last := txs[0].Timestamp, txs[0].Timestamp
	for _, tx := range txs[1:] {
		if tx.Timestamp < first {
			first = tx.Timestamp
		}
		if tx.Timestamp > last {
			last = tx.Timestamp
		}
	}
	return float64(last-first) / secondsPerMonth
}

func countInteractions(txs []ledger.Transaction, set reference.Set) int {
	n := 0
	for _, tx := range txs {
		if tx.To != "" && set.Contains(tx.To) {
			n++
		}
	}
	return n
}

// countDeployments counts creation transactions: no recipient, non-empty payload
func countDeployments(txs []ledger.Transaction) int {
	n := 0
	for _, tx := range txs {
		if tx.To == "" && len(tx.Input) > 2 {
			n++
		}
	}
	return n
}

func activeDaysScore(days int) int {
	switch {
	case days > 180:
		return 100
	case days > 90:
		return 75
	case days >= 30:
		return 50
	default:
		return 25
	}
}

func longestStreakScore(streak int) int {
	switch {
	case streak > 60:
		return 100
	case streak > 30:
		return 75
	case streak >= 10:
		return 50
	default:
		return 25
	}
}

func currentStreakScore(streak int) int {
	switch {
	case streak > 30:
		return 100
	case streak > 15:
		return 75
	case streak >= 5:
		return 50
	default:
		return 25
	}
}

func activityPeriodScore(months float64) int {
	switch {
	case months > 12:
		return 100
	case months > 6:
		return 75
	case months >= 3:
		return 50
	default:
		return 25
	}
}

func bridgeScore(n int) int {
	return interactionScore(n, 10, 5, 2)
}

func lendingScore(n int) int {
	return interactionScore(n, 15, 7, 2)
}

func ensScore(n int) int {
	return interactionScore(n, 15, 7, 3)
}

// interactionScore is the shared >high/>mid/>low/>0 ladder
func interactionScore(n, high, mid, low int) int {
	switch {
	case n > high:
		return 100
	case n > mid:
		return 75
	case n > low:
		return 50
	case n > 0:
		return 25
	default:
		return 0
	}
}

func deploymentScore(n int) int {
	switch {
	case n > 7:
		return 100
	case n > 3:
		return 75
	case n > 1:
		return 50
	case n == 1:
		return 25
	default:
		return 0
	}
}
