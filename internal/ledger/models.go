package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the four transaction record shapes
type Kind int

const (
	KindNative Kind = iota
	KindInternal
	KindToken
	KindNFT
)

// String returns the label used in logs and metrics
func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindInternal:
		return "internal"
	case KindToken:
		return "token"
	case KindNFT:
		return "nft"
	default:
		return "unknown"
	}
}

// AssetTransfer is the payload carried only by token and NFT transfers
type AssetTransfer struct {
	Contract string // Asset contract, lowercased
	TokenID  string // NFT only
	Symbol   string
	Name     string
	Decimals int
}

// Transaction is an immutable, normalized ledger record.
// Addresses are lowercased at decode time; an empty To marks contract creation.
type Transaction struct {
	Hash        string
	BlockNumber int64
	From        string
	To          string
	Value       decimal.Decimal // Wei for native/internal, raw token amount for token transfers
	Timestamp   int64           // Unix timestamp in seconds
	Kind        Kind
	Input       string // Call payload, native transactions only
	Failed      bool
	Asset       *AssetTransfer // Set for KindToken and KindNFT
}

// Time returns the record timestamp as UTC time
func (t Transaction) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// Involves reports whether addr is the sender or recipient
func (t Transaction) Involves(addr string) bool {
	addr = NormalizeAddress(addr)
	return t.From == addr || t.To == addr
}

// AssetContract returns the asset contract for token/NFT transfers, or ""
func (t Transaction) AssetContract() string {
	if t.Asset == nil {
		return ""
	}
	return t.Asset.Contract
}

// TokenID returns the NFT token id, or ""
func (t Transaction) TokenID() string {
	if t.Asset == nil {
		return ""
	}
	return t.Asset.TokenID
}

// NormalizeAddress lowercases and trims an address for comparisons
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// TimeWindow is a closed interval built symmetrically around a center instant
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow returns center ± radius
func NewTimeWindow(center time.Time, radius time.Duration) TimeWindow {
	return TimeWindow{
		Start: center.Add(-radius),
		End:   center.Add(radius),
	}
}

// Contains reports whether ts falls inside the window, bounds included
func (w TimeWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// envelope is the status/message/result wrapper of every indexer response
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (e *envelope) ok() bool {
	return e.Status == "1"
}

// resultText returns the result field when the indexer sent a plain string
func (e *envelope) resultText() string {
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	return ""
}

func (e *envelope) noRecords() bool {
	if e.ok() {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "no transactions found") || strings.Contains(msg, "no records found")
}

// rawTransaction mirrors the indexer's account-module record fields.
// Every field is a string on the wire.
type rawTransaction struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress"`
	IsError         string `json:"isError"`
	TokenID         string `json:"tokenID"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

func (r rawTransaction) normalize(kind Kind) (Transaction, error) {
	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse timeStamp %q of %s: %w", r.TimeStamp, r.Hash, err)
	}

	var block int64
	if r.BlockNumber != "" {
		block, err = strconv.ParseInt(r.BlockNumber, 10, 64)
		if err != nil {
			return Transaction{}, fmt.Errorf("parse blockNumber %q of %s: %w", r.BlockNumber, r.Hash, err)
		}
	}

	value := decimal.Zero
	if r.Value != "" {
		value, err = decimal.NewFromString(r.Value)
		if err != nil {
			return Transaction{}, fmt.Errorf("parse value %q of %s: %w", r.Value, r.Hash, err)
		}
	}

	tx := Transaction{
		Hash:        strings.ToLower(r.Hash),
		BlockNumber: block,
		From:        NormalizeAddress(r.From),
		To:          NormalizeAddress(r.To),
		Value:       value,
		Timestamp:   ts,
		Kind:        kind,
		Failed:      r.IsError == "1",
	}

	switch kind {
	case KindNative:
		tx.Input = r.Input
	case KindToken, KindNFT:
		decimals, _ := strconv.Atoi(r.TokenDecimal)
		tx.Asset = &AssetTransfer{
			Contract: NormalizeAddress(r.ContractAddress),
			TokenID:  r.TokenID,
			Symbol:   r.TokenSymbol,
			Name:     r.TokenName,
			Decimals: decimals,
		}
	}

	return tx, nil
}

func decodeTransactions(raw json.RawMessage, kind Kind) ([]Transaction, error) {
	var records []rawTransaction
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", kind, err)
	}

	txs := make([]Transaction, 0, len(records))
	for _, r := range records {
		tx, err := r.normalize(kind)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
