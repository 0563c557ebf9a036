package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, payload *AlertPayload) error {
	fields := logrus.Fields{
		"severity":  payload.Severity,
		"kind":      payload.Kind,
		"wallet":    payload.WalletShort,
		"score":     payload.Score,
		"threshold": payload.Threshold,
	}
	if payload.ContractAddress != "" {
		fields["contract"] = ShortenAddress(payload.ContractAddress)
	}
	for _, line := range payload.Breakdown {
		fields["metric_"+line.Name] = line.Score
	}
	s.log.WithFields(fields).Info("Alert generated")
	return nil
}
