package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamashdown/walletsignal/internal/score"
)

func testPayload() *AlertPayload {
	return &AlertPayload{
		Severity:        SeverityAlert,
		Kind:            score.KindSybil,
		WalletAddress:   "0x00000000000000000000000000000000000000aa",
		WalletShort:     ShortenAddress("0x00000000000000000000000000000000000000aa"),
		ContractAddress: "0x00000000000000000000000000000000000000cc",
		Score:           80,
		Threshold:       75,
		Breakdown: []MetricLine{
			{Name: "occurrences", Value: "4", Score: 75},
			{Name: "coordination", Value: "true", Score: 5},
		},
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Environment: "test",
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		value float64
		want  Severity
	}{
		{10, SeverityInfo},
		{49.9, SeverityInfo},
		{50, SeverityWarn},
		{99, SeverityWarn},
		{100, SeverityAlert},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.value, 50, 100), "value %v", tt.value)
	}
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "0x0000...00aa", ShortenAddress("0x00000000000000000000000000000000000000aa"))
	assert.Equal(t, "0xabc", ShortenAddress("0xabc"))
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got map[string][]map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), testPayload())
	require.NoError(t, err)

	require.Len(t, got["embeds"], 1)
	embed := got["embeds"][0]
	assert.Contains(t, embed["title"], "ALERT")
	assert.Contains(t, embed["description"], "80/100")
	assert.EqualValues(t, 0xFF0000, embed["color"])
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), testPayload())
	assert.Error(t, err)
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, *AlertPayload) error {
	s.calls++
	return s.err
}

func TestMultiSenderFansOut(t *testing.T) {
	failing := &stubSender{err: errors.New("boom")}
	ok := &stubSender{}

	err := NewMultiSender(failing, ok).Send(context.Background(), testPayload())

	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "a failing sender must not stop the others")
}

func TestLogSender(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	assert.NoError(t, NewLogSender(log).Send(context.Background(), testPayload()))
}

func TestSMTPBodyIncludesBreakdown(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "from@example.com", []string{"to@example.com"})
	body := s.buildEmailBody(testPayload())

	assert.Contains(t, body, "sybil analysis")
	assert.Contains(t, body, "0x00000000000000000000000000000000000000cc")
	assert.Contains(t, body, "occurrences:")
}
