package alerts

import (
	"context"
	"time"

	"github.com/liamashdown/walletsignal/internal/score"
)

// Severity represents alert severity
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityAlert Severity = "ALERT"
)

// SeverityFor grades a 0-100 score against the warn and alert thresholds
func SeverityFor(value, warn, alert float64) Severity {
	switch {
	case value >= alert:
		return SeverityAlert
	case value >= warn:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// MetricLine is one named metric of the analysis that raised the alert
type MetricLine struct {
	Name  string
	Value string
	Score int
}

// AlertPayload contains all information for an alert
type AlertPayload struct {
	Severity        Severity
	Kind            score.Kind
	WalletAddress   string
	WalletShort     string // Shortened for display
	ContractAddress string // Sybil alerts only
	Score           float64
	Threshold       float64
	Breakdown       []MetricLine
	Timestamp       time.Time
	Environment     string
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *AlertPayload) error
}

// ShortenAddress renders 0x1234...abcd for display
func ShortenAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
