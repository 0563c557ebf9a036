package server

import (
	"context"
	"fmt"

	"github.com/liamashdown/walletsignal/internal/alerts"
	"github.com/liamashdown/walletsignal/internal/cluster"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/score"
	"github.com/liamashdown/walletsignal/internal/sybil"
)

func (s *Server) alertCluster(ctx context.Context, report *cluster.Report) {
	m := report.Metadata.Metrics
	s.sendAlert(ctx, &alerts.AlertPayload{
		Kind:          score.KindCluster,
		WalletAddress: report.Metadata.Address,
		Score:         report.ClusterScore,
		Threshold:     s.cfg.AlertClusterScore,
		Breakdown: []alerts.MetricLine{
			metricLine("fundingSource", m.FundingSource),
			metricLine("clusterSize", m.ClusterSize),
		},
		Timestamp: report.Metadata.Timestamp,
	})
}

func (s *Server) alertSybil(ctx context.Context, report *sybil.Report) {
	m := report.Metadata.Metrics
	s.sendAlert(ctx, &alerts.AlertPayload{
		Kind:            score.KindSybil,
		WalletAddress:   report.Metadata.Address,
		ContractAddress: report.Metadata.ContractAddress,
		Score:           float64(report.SybilScore),
		Threshold:       s.cfg.AlertSybilScore,
		Breakdown: []alerts.MetricLine{
			metricLine("occurrences", m.Occurrences),
			metricLine("coordination", m.Coordination),
		},
		Timestamp: report.Metadata.Timestamp,
	})
}

// sendAlert fills in the shared fields and sends payload when its score
// reaches the threshold. Send failures are logged and never fail the request.
func (s *Server) sendAlert(ctx context.Context, payload *alerts.AlertPayload) {
	if s.deps.Alerts == nil || payload.Threshold <= 0 || payload.Score < payload.Threshold {
		return
	}

	payload.Severity = alerts.SeverityFor(payload.Score, payload.Threshold, 100)
	payload.WalletShort = alerts.ShortenAddress(payload.WalletAddress)
	payload.Environment = s.cfg.Environment
	if payload.Timestamp.IsZero() {
		payload.Timestamp = s.deps.Clock.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	status := "success"
	if err := s.deps.Alerts.Send(ctx, payload); err != nil {
		status = "error"
		s.log.WithError(err).WithField("wallet", payload.WalletShort).Error("Failed to send alert")
	}
	metrics.RecordAlert(string(payload.Severity), status, s.cfg.AlertMode)
}

func metricLine(name string, m score.Metric) alerts.MetricLine {
	return alerts.MetricLine{Name: name, Value: fmt.Sprint(m.Value), Score: m.Score}
}

