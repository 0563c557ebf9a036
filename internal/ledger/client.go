package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
)

const (
	firstBlock = 0
	lastBlock  = 99999999
)

// Client is the paced, retrying gateway to an Etherscan-compatible indexer.
// One Client owns the pacing gate; every analyzer shares the same instance.
type Client struct {
	baseURL     string
	apiKey      string
	chainID     int
	httpClient  *http.Client
	pacer       *ratelimit.Pacer
	clock       ratelimit.Clock
	maxAttempts int
	retryDelay  time.Duration
	logger      *logrus.Logger
}

// NewClient creates a ledger client. A nil clock uses the system clock.
func NewClient(cfg *config.Config, clock ratelimit.Clock, logger *logrus.Logger) *Client {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	maxAttempts := cfg.LedgerMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	pacer := ratelimit.New(cfg.LedgerMinInterval, clock)
	logger.WithFields(logrus.Fields{
		"base_url":     cfg.LedgerAPIBaseURL,
		"chain_id":     cfg.LedgerChainID,
		"min_interval": pacer.Interval(),
		"max_attempts": maxAttempts,
	}).Debug("Ledger client initialized")

	return &Client{
		baseURL:     cfg.LedgerAPIBaseURL,
		apiKey:      cfg.LedgerAPIKey,
		chainID:     cfg.LedgerChainID,
		httpClient:  &http.Client{Timeout: cfg.LedgerRequestTimeout},
		pacer:       pacer,
		clock:       clock,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.LedgerRetryDelay,
		logger:      logger,
	}
}

// Transactions returns the address's native transactions, oldest first
func (c *Client) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	return c.list(ctx, "txlist", KindNative, address, firstBlock, lastBlock)
}

// InternalTransactions returns the address's internal transactions, oldest first
func (c *Client) InternalTransactions(ctx context.Context, address string) ([]Transaction, error) {
	return c.list(ctx, "txlistinternal", KindInternal, address, firstBlock, lastBlock)
}

// TokenTransfers returns the address's fungible token transfers, oldest first
func (c *Client) TokenTransfers(ctx context.Context, address string) ([]Transaction, error) {
	return c.list(ctx, "tokentx", KindToken, address, firstBlock, lastBlock)
}

// NFTTransfers returns the address's NFT transfers, oldest first
func (c *Client) NFTTransfers(ctx context.Context, address string) ([]Transaction, error) {
	return c.list(ctx, "tokennfttx", KindNFT, address, firstBlock, lastBlock)
}

// FirstTransaction returns the earliest native transaction of address.
// It returns ErrNotFound when the address has never transacted.
func (c *Client) FirstTransaction(ctx context.Context, address string) (*Transaction, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", NormalizeAddress(address))
	params.Set("startblock", strconv.Itoa(firstBlock))
	params.Set("endblock", strconv.Itoa(lastBlock))
	params.Set("sort", "asc")
	params.Set("page", "1")
	params.Set("offset", "1")

	env, err := c.do(ctx, "txlist", params)
	if err != nil {
		return nil, fmt.Errorf("fetch first transaction: %w", err)
	}
	if env.noRecords() {
		return nil, ErrNotFound
	}

	txs, err := decodeTransactions(env.Result, KindNative)
	if err != nil {
		return nil, fmt.Errorf("fetch first transaction: %w", err)
	}
	if len(txs) == 0 {
		return nil, ErrNotFound
	}
	return &txs[0], nil
}

// BlockAtOrBeforeTime resolves a unix timestamp to the closest block at or before it
func (c *Client) BlockAtOrBeforeTime(ctx context.Context, ts int64) (int64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("closest", "before")

	env, err := c.do(ctx, "getblocknobytime", params)
	if err != nil {
		return 0, fmt.Errorf("fetch block number: %w", err)
	}
	if env.noRecords() {
		return 0, &APIError{Action: "getblocknobytime", Message: env.Message, Result: env.resultText()}
	}

	var text string
	if err := json.Unmarshal(env.Result, &text); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	block, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", text, err)
	}
	return block, nil
}

// TransactionsInRange returns native transactions between start and end
func (c *Client) TransactionsInRange(ctx context.Context, address string, start, end time.Time) ([]Transaction, error) {
	return c.listInRange(ctx, "txlist", KindNative, address, start, end)
}

// InternalTransactionsInRange returns internal transactions between start and end
func (c *Client) InternalTransactionsInRange(ctx context.Context, address string, start, end time.Time) ([]Transaction, error) {
	return c.listInRange(ctx, "txlistinternal", KindInternal, address, start, end)
}

// TokenTransfersInRange returns token transfers between start and end
func (c *Client) TokenTransfersInRange(ctx context.Context, address string, start, end time.Time) ([]Transaction, error) {
	return c.listInRange(ctx, "tokentx", KindToken, address, start, end)
}

// NFTTransfersInRange returns NFT transfers between start and end
func (c *Client) NFTTransfersInRange(ctx context.Context, address string, start, end time.Time) ([]Transaction, error) {
	return c.listInRange(ctx, "tokennfttx", KindNFT, address, start, end)
}

// listInRange resolves both bounds sequentially; they share one rate budget.
func (c *Client) listInRange(ctx context.Context, action string, kind Kind, address string, start, end time.Time) ([]Transaction, error) {
	startBlock, err := c.BlockAtOrBeforeTime(ctx, start.Unix())
	if err != nil {
		return nil, fmt.Errorf("resolve range start: %w", err)
	}
	endBlock, err := c.BlockAtOrBeforeTime(ctx, end.Unix())
	if err != nil {
		return nil, fmt.Errorf("resolve range end: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"action":      action,
		"address":     address,
		"start_block": startBlock,
		"end_block":   endBlock,
	}).Debug("Resolved block range")

	return c.list(ctx, action, kind, address, startBlock, endBlock)
}

func (c *Client) list(ctx context.Context, action string, kind Kind, address string, startBlock, endBlock int64) ([]Transaction, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", NormalizeAddress(address))
	params.Set("startblock", strconv.FormatInt(startBlock, 10))
	params.Set("endblock", strconv.FormatInt(endBlock, 10))
	params.Set("sort", "asc")

	env, err := c.do(ctx, action, params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s transactions: %w", kind, err)
	}
	if env.noRecords() {
		return []Transaction{}, nil
	}

	txs, err := decodeTransactions(env.Result, kind)
	if err != nil {
		return nil, fmt.Errorf("fetch %s transactions: %w", kind, err)
	}

	c.logger.WithFields(logrus.Fields{
		"action":  action,
		"address": address,
		"count":   len(txs),
	}).Debug("Fetched transactions")

	return txs, nil
}

// do runs one logical query: every attempt passes the pacing gate,
// transient failures are retried after a fixed delay.
func (c *Client) do(ctx context.Context, action string, params url.Values) (*envelope, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		env, err := c.send(ctx, action, params)
		if err == nil {
			return env, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !isTransient(err) || attempt == c.maxAttempts {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"action":  action,
			"attempt": attempt,
			"delay":   c.retryDelay,
		}).WithError(err).Warn("Ledger request failed, retrying")
		metrics.RecordLedgerRetry(action)

		if err := c.clock.Sleep(ctx, c.retryDelay); err != nil {
			return nil, fmt.Errorf("retry wait: %w", err)
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, action string, params url.Values) (*envelope, error) {
	waited, err := c.pacer.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.RecordPacingWait(waited)

	start := time.Now()
	env, err := c.get(ctx, action, params)
	metrics.RecordLedgerRequest(action, time.Since(start), err)
	return env, err
}

func (c *Client) get(ctx context.Context, action string, params url.Values) (*envelope, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	if c.chainID > 0 {
		q.Set("chainid", strconv.Itoa(c.chainID))
	}
	u.RawQuery = q.Encode()

	c.logger.WithFields(logrus.Fields{
		"action": action,
		"url":    u.String(),
	}).Debug("Ledger request")

	// Key is added after logging so it never reaches the logs
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{
			Action:     action,
			Message:    strings.TrimSpace(string(body)),
			HTTPStatus: resp.StatusCode,
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.ok() || env.noRecords() {
		return &env, nil
	}

	return nil, &APIError{Action: action, Message: env.Message, Result: env.resultText()}
}

// IsNotFound reports whether err means the address has no history
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
