package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
)

type recordedRequest struct {
	action string
	query  map[string]string
}

type fakeIndexer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(n int, r *http.Request) (int, string)
}

func (f *fakeIndexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	f.requests = append(f.requests, recordedRequest{action: q["action"], query: q})
	n := len(f.requests)
	f.mu.Unlock()

	status, body := f.handle(n, r)
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (f *fakeIndexer) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestClient(t *testing.T, handle func(n int, r *http.Request) (int, string)) (*Client, *fakeIndexer, *ratelimit.ManualClock) {
	t.Helper()

	indexer := &fakeIndexer{handle: handle}
	srv := httptest.NewServer(indexer)
	t.Cleanup(srv.Close)

	client, clock := newClientFor(srv.URL, 5*time.Second)
	return client, indexer, clock
}

func newClientFor(serverURL string, timeout time.Duration) (*Client, *ratelimit.ManualClock) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := ratelimit.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := &config.Config{
		LedgerAPIBaseURL:     serverURL + "/v2/api",
		LedgerAPIKey:         "test-key",
		LedgerChainID:        1,
		LedgerMinInterval:    250 * time.Millisecond,
		LedgerMaxAttempts:    3,
		LedgerRetryDelay:     time.Second,
		LedgerRequestTimeout: timeout,
	}
	return NewClient(cfg, clock, logger), clock
}

func retryDelays(clock *ratelimit.ManualClock) int {
	n := 0
	for _, d := range clock.Sleeps() {
		if d == time.Second {
			n++
		}
	}
	return n
}

const twoNativeTxs = `{"status":"1","message":"OK","result":[
	{"blockNumber":"100","timeStamp":"1704067200","hash":"0xAA","from":"0xABC","to":"0xDEF","value":"1000000000000000000","input":"0x","isError":"0"},
	{"blockNumber":"101","timeStamp":"1704153600","hash":"0xBB","from":"0xDEF","to":"","value":"0","input":"0x6080","isError":"1"}
]}`

func TestTransactionsDecodesRecords(t *testing.T) {
	client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, twoNativeTxs
	})

	txs, err := client.Transactions(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	first := txs[0]
	if first.From != "0xabc" || first.To != "0xdef" {
		t.Errorf("addresses not normalized: from=%s to=%s", first.From, first.To)
	}
	if first.Value.String() != "1000000000000000000" {
		t.Errorf("Value: got %s", first.Value)
	}
	if first.Timestamp != 1704067200 || first.Kind != KindNative {
		t.Errorf("unexpected record: %+v", first)
	}
	if txs[1].To != "" || txs[1].Input != "0x6080" || !txs[1].Failed {
		t.Errorf("creation record decoded wrong: %+v", txs[1])
	}

	calls := indexer.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d requests, want 1", len(calls))
	}
	q := calls[0].query
	if q["action"] != "txlist" || q["module"] != "account" || q["address"] != "0xabc" {
		t.Errorf("unexpected query: %v", q)
	}
	if q["chainid"] != "1" || q["apikey"] != "test-key" || q["sort"] != "asc" {
		t.Errorf("missing chain, key or sort params: %v", q)
	}
}

func TestTokenTransfersCarryAssetPayload(t *testing.T) {
	client, _, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, `{"status":"1","message":"OK","result":[
			{"blockNumber":"5","timeStamp":"1704067200","hash":"0x1","from":"0xa","to":"0xb","value":"42","contractAddress":"0xTOKEN","tokenSymbol":"TKN","tokenDecimal":"18"}
		]}`
	})

	txs, err := client.TokenTransfers(context.Background(), "0xa")
	if err != nil {
		t.Fatalf("TokenTransfers: %v", err)
	}
	if len(txs) != 1 || txs[0].Kind != KindToken {
		t.Fatalf("unexpected result: %+v", txs)
	}
	if txs[0].AssetContract() != "0xtoken" || txs[0].Asset.Decimals != 18 {
		t.Errorf("asset payload: %+v", txs[0].Asset)
	}
}

func TestNoRecordsIsEmptySuccess(t *testing.T) {
	for _, msg := range []string{"No transactions found", "No records found"} {
		t.Run(msg, func(t *testing.T) {
			client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
				return http.StatusOK, `{"status":"0","message":"` + msg + `","result":[]}`
			})

			txs, err := client.NFTTransfers(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("NFTTransfers: %v", err)
			}
			if txs == nil || len(txs) != 0 {
				t.Errorf("want empty non-nil slice, got %v", txs)
			}
			if n := len(indexer.calls()); n != 1 {
				t.Errorf("empty result must not be retried, got %d requests", n)
			}
		})
	}
}

func TestFirstTransactionNotFound(t *testing.T) {
	client, _, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, `{"status":"0","message":"No transactions found","result":[]}`
	})

	_, err := client.FirstTransaction(context.Background(), "0xabc")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFirstTransactionQueriesOneRecord(t *testing.T) {
	client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, twoNativeTxs
	})

	tx, err := client.FirstTransaction(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("FirstTransaction: %v", err)
	}
	if tx.Hash != "0xaa" {
		t.Errorf("Hash: got %s, want 0xaa", tx.Hash)
	}

	q := indexer.calls()[0].query
	if q["page"] != "1" || q["offset"] != "1" || q["sort"] != "asc" {
		t.Errorf("unexpected paging params: %v", q)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limit reply", http.StatusOK, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`},
		{"too many requests", http.StatusTooManyRequests, "slow down"},
		{"server error", http.StatusBadGateway, "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, indexer, clock := newTestClient(t, func(n int, _ *http.Request) (int, string) {
				if n < 3 {
					return tt.status, tt.body
				}
				return http.StatusOK, twoNativeTxs
			})

			txs, err := client.Transactions(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("Transactions: %v", err)
			}
			if len(txs) != 2 {
				t.Errorf("got %d transactions, want 2", len(txs))
			}
			if n := len(indexer.calls()); n != 3 {
				t.Errorf("got %d requests, want 3", n)
			}

			if n := retryDelays(clock); n != 2 {
				t.Errorf("got %d retry delays, want 2 (sleeps=%v)", n, clock.Sleeps())
			}
		})
	}
}

func TestRetryOnNetworkFailure(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		fail    func(w http.ResponseWriter, r *http.Request)
	}{
		{
			name:    "request timeout",
			timeout: 100 * time.Millisecond,
			fail: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
		{
			name:    "connection dropped",
			timeout: 5 * time.Second,
			fail: func(w http.ResponseWriter, r *http.Request) {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err != nil {
					t.Errorf("hijack: %v", err)
					return
				}
				conn.Close()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if requests.Add(1) < 3 {
					tt.fail(w, r)
					return
				}
				fmt.Fprint(w, twoNativeTxs)
			}))
			t.Cleanup(srv.Close)

			client, clock := newClientFor(srv.URL, tt.timeout)
			txs, err := client.Transactions(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("Transactions: %v", err)
			}
			if len(txs) != 2 {
				t.Errorf("got %d transactions, want 2", len(txs))
			}
			if n := requests.Load(); n != 3 {
				t.Errorf("got %d requests, want 3", n)
			}
			if n := retryDelays(clock); n != 2 {
				t.Errorf("got %d retry delays, want 2 (sleeps=%v)", n, clock.Sleeps())
			}
		})
	}
}

func TestConnectionRefusedExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	serverURL := srv.URL
	srv.Close()

	client, clock := newClientFor(serverURL, time.Second)
	_, err := client.Transactions(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected error from a closed listener")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure surfaced as %+v", apiErr)
	}
	if n := retryDelays(clock); n != 2 {
		t.Errorf("got %d retry delays, want 2 (sleeps=%v)", n, clock.Sleeps())
	}
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		cancel()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client, clock := newClientFor(srv.URL, 5*time.Second)
	_, err := client.Transactions(ctx, "0xabc")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}
	if n := retryDelays(clock); n != 0 {
		t.Errorf("got %d retry delays, want 0", n)
	}
}

func TestRetryExhaustionSurfacesUpstreamMessage(t *testing.T) {
	client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`
	})

	_, err := client.InternalTransactions(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not wrap *APIError", err)
	}
	if !apiErr.IsRateLimited() || apiErr.Result != "Max rate limit reached" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
	if n := len(indexer.calls()); n != 3 {
		t.Errorf("got %d requests, want exactly 3 attempts", n)
	}
}

func TestGenuineErrorIsNotRetried(t *testing.T) {
	client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`
	})

	_, err := client.Transactions(context.Background(), "0xabc")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *APIError", err)
	}
	if apiErr.IsRateLimited() {
		t.Error("invalid key must not be classified as rate limited")
	}
	if n := len(indexer.calls()); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}
}

func TestBlockAtOrBeforeTime(t *testing.T) {
	client, indexer, _ := newTestClient(t, func(int, *http.Request) (int, string) {
		return http.StatusOK, `{"status":"1","message":"OK","result":"19000000"}`
	})

	block, err := client.BlockAtOrBeforeTime(context.Background(), 1704067200)
	if err != nil {
		t.Fatalf("BlockAtOrBeforeTime: %v", err)
	}
	if block != 19000000 {
		t.Errorf("got %d, want 19000000", block)
	}

	q := indexer.calls()[0].query
	if q["module"] != "block" || q["closest"] != "before" || q["timestamp"] != "1704067200" {
		t.Errorf("unexpected query: %v", q)
	}
}

func TestRangeQueryResolvesBlocksSequentially(t *testing.T) {
	client, indexer, clock := newTestClient(t, func(_ int, r *http.Request) (int, string) {
		q := r.URL.Query()
		if q.Get("action") == "getblocknobytime" {
			if q.Get("timestamp") == "1704067200" {
				return http.StatusOK, `{"status":"1","message":"OK","result":"100"}`
			}
			return http.StatusOK, `{"status":"1","message":"OK","result":"200"}`
		}
		return http.StatusOK, twoNativeTxs
	})

	start := time.Unix(1704067200, 0)
	end := start.Add(30 * time.Minute)

	if _, err := client.TransactionsInRange(context.Background(), "0xabc", start, end); err != nil {
		t.Fatalf("TransactionsInRange: %v", err)
	}

	calls := indexer.calls()
	if len(calls) != 3 {
		t.Fatalf("got %d requests, want 3", len(calls))
	}
	if calls[0].action != "getblocknobytime" || calls[1].action != "getblocknobytime" || calls[2].action != "txlist" {
		t.Errorf("unexpected request order: %v", calls)
	}
	if calls[2].query["startblock"] != "100" || calls[2].query["endblock"] != "200" {
		t.Errorf("range not applied: %v", calls[2].query)
	}

	// Manual time does not move during HTTP calls, so each request after the first waits a full interval
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 250*time.Millisecond || sleeps[1] != 250*time.Millisecond {
		t.Errorf("pacing sleeps: got %v, want [250ms 250ms]", sleeps)
	}
}

func TestTimeWindowIsSymmetric(t *testing.T) {
	center := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewTimeWindow(center, 15*time.Minute)

	if center.Sub(w.Start) != w.End.Sub(center) {
		t.Errorf("window not symmetric: %v .. %v", w.Start, w.End)
	}
	if !w.Contains(w.Start) || !w.Contains(w.End) || w.Contains(w.End.Add(time.Second)) {
		t.Error("window bounds must be inclusive")
	}
}
