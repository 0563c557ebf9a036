package sybil

import (
	"fmt"
	"sort"
	"time"

	"github.com/liamashdown/walletsignal/internal/ledger"
)

// Direction of an interaction relative to the target contract
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// Pattern is one interaction with the target contract together with the
// other wallets that made a matching interaction in the same window.
type Pattern struct {
	Timestamp   time.Time
	Kind        ledger.Kind
	Value       string // Amount, or token id for NFTs
	Direction   string
	PeerWallets []string // Sorted, distinct, never the analyzed wallet
}

// interactsWith keeps records where contract is a party, or for token and
// NFT transfers, the asset contract itself.
func interactsWith(tx ledger.Transaction, contract string) bool {
	if tx.From == contract || tx.To == contract {
		return true
	}
	if tx.Kind == ledger.KindToken || tx.Kind == ledger.KindNFT {
		return tx.AssetContract() == contract
	}
	return false
}

func filterInteractions(contract string, lists ...[]ledger.Transaction) []ledger.Transaction {
	var out []ledger.Transaction
	for _, txs := range lists {
		for _, tx := range txs {
			if interactsWith(tx, contract) {
				out = append(out, tx)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// patternKey identifies the underlying event. Native and internal records
// of the same timestamp and value share a key.
func patternKey(tx ledger.Transaction) string {
	switch tx.Kind {
	case ledger.KindNFT:
		return fmt.Sprintf("nft_%d_%s", tx.Timestamp, tx.TokenID())
	case ledger.KindToken:
		return fmt.Sprintf("token_%d_%s_%s", tx.Timestamp, tx.Value.String(), tx.AssetContract())
	default:
		return fmt.Sprintf("eth_%d_%s", tx.Timestamp, tx.Value.String())
	}
}

// patternValue is the amount or token id reported for a pattern
func patternValue(tx ledger.Transaction) string {
	if tx.Kind == ledger.KindNFT {
		return tx.TokenID()
	}
	return tx.Value.String()
}

// isSimilar reports whether candidate is a peer's matching interaction
func isSimilar(original, candidate ledger.Transaction, wallet string) bool {
	if candidate.Hash == original.Hash {
		return false
	}
	if candidate.Involves(wallet) {
		return false
	}

	switch original.Kind {
	case ledger.KindNFT:
		return candidate.Kind == ledger.KindNFT && candidate.TokenID() == original.TokenID()
	case ledger.KindToken:
		return candidate.Kind == ledger.KindToken &&
			candidate.AssetContract() == original.AssetContract() &&
			candidate.Value.Equal(original.Value)
	default:
		return candidate.Kind == ledger.KindNative && candidate.Value.Equal(original.Value)
	}
}

// counterparty is the side of tx that is not the contract
func counterparty(tx ledger.Transaction, contract string) string {
	if tx.To == contract {
		return tx.From
	}
	return tx.To
}

// buildPattern returns the pattern for original, or false when no peer matched
func buildPattern(original ledger.Transaction, window []ledger.Transaction, wallet, contract string) (Pattern, bool) {
	peers := make(map[string]struct{})
	for _, candidate := range window {
		if !isSimilar(original, candidate, wallet) {
			continue
		}
		if peer := counterparty(candidate, contract); peer != "" && peer != wallet {
			peers[peer] = struct{}{}
		}
	}
	if len(peers) == 0 {
		return Pattern{}, false
	}

	wallets := make([]string, 0, len(peers))
	for p := range peers {
		wallets = append(wallets, p)
	}
	sort.Strings(wallets)

	direction := DirectionReceive
	if original.To == contract {
		direction = DirectionSend
	}

	return Pattern{
		Timestamp:   original.Time(),
		Kind:        original.Kind,
		Value:       patternValue(original),
		Direction:   direction,
		PeerWallets: wallets,
	}, true
}

// OccurrenceScore maps a pattern count onto its ladder
func OccurrenceScore(patterns int) int {
	switch {
	case patterns <= 1:
		return 0
	case patterns <= 3:
		return 50
	case patterns <= 6:
		return 75
	default:
		return 100
	}
}

// CoordinationScore counts patterns whose peer set reappears in a later
// pattern, each pattern at most once, at 10 points per repeat.
func CoordinationScore(patterns []Pattern) int {
	repeated := 0
	for i := range patterns {
		for j := i + 1; j < len(patterns); j++ {
			if sameWallets(patterns[i].PeerWallets, patterns[j].PeerWallets) {
				repeated++
				break
			}
		}
	}
	return min(repeated*10, 100)
}

// sameWallets compares two sorted, distinct wallet lists
func sameWallets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
