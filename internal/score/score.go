// Package score holds the result types shared by every analyzer.
package score

// Metric is one measured feature and its discrete 0-100 score
type Metric struct {
	Value any `json:"value"`
	Score int `json:"score"`
}

// Kind names an analysis for metrics, caching and alerts
type Kind string

const (
	KindHumanity Kind = "humanity"
	KindCluster  Kind = "cluster"
	KindSybil    Kind = "sybil"
)

// Clamp bounds v to [0, 100]
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
