package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liamashdown/walletsignal/internal/score"
)

const (
	colorAlert = 0xFF0000
	colorWarn  = 0xFFA500
	colorInfo  = 0x0099FF

	// Discord rejects embed field values over 1024 characters
	maxFieldValue = 1000
)

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      discordFooter  `json:"footer"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// DiscordSender posts alerts to a Discord webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one embed describing payload
func (s *DiscordSender) Send(ctx context.Context, payload *AlertPayload) error {
	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{buildEmbed(payload)}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildEmbed(payload *AlertPayload) discordEmbed {
	embed := discordEmbed{
		Description: fmt.Sprintf("Wallet `%s` scored **%.0f/100** (threshold %.0f)",
			payload.WalletAddress, payload.Score, payload.Threshold),
		Fields: []discordField{
			{Name: "Wallet", Value: fmt.Sprintf("`%s`", payload.WalletShort), Inline: true},
			{Name: "Analysis", Value: string(payload.Kind), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("**%.0f/100**", payload.Score), Inline: true},
		},
		Footer: discordFooter{
			Text: fmt.Sprintf("walletsignal • %s • %s", payload.Environment, payload.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")),
		},
		Timestamp: payload.Timestamp.UTC().Format(time.RFC3339),
	}

	switch payload.Severity {
	case SeverityAlert:
		embed.Title = fmt.Sprintf("🚨 %s (ALERT)", headline(payload.Kind))
		embed.Color = colorAlert
	case SeverityWarn:
		embed.Title = fmt.Sprintf("⚠️ %s (WARN)", headline(payload.Kind))
		embed.Color = colorWarn
	default:
		embed.Title = fmt.Sprintf("ℹ️ %s", headline(payload.Kind))
		embed.Color = colorInfo
	}

	if payload.ContractAddress != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name:   "Contract",
			Value:  fmt.Sprintf("`%s`", ShortenAddress(payload.ContractAddress)),
			Inline: true,
		})
	}
	if len(payload.Breakdown) > 0 {
		embed.Fields = append(embed.Fields, discordField{
			Name:  "📊 Metrics",
			Value: formatBreakdown(payload.Breakdown),
		})
	}
	return embed
}

func headline(kind score.Kind) string {
	switch kind {
	case score.KindCluster:
		return "Wallet in funding cluster"
	case score.KindSybil:
		return "Coordinated contract activity"
	default:
		return "Wallet score"
	}
}

func formatBreakdown(lines []MetricLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s → **%d**", l.Name, l.Value, l.Score)
	}
	return truncate(b.String(), maxFieldValue)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
