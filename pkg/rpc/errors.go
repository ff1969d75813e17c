// Package rpc talks to the ledger chain: CometBFT JSON-RPC for block and
// status queries, the Cosmos REST API for bank, staking and auth state.
package rpc

import "errors"

// Error taxonomy shared by the chain adapters. The settlement-chain adapter
// wraps its failures with the same sentinels so callers can classify errors
// without knowing which chain produced them.
var (
	// ErrUnavailable means no endpoint produced a usable response.
	ErrUnavailable = errors.New("rpc unavailable")

	// ErrInvalidHeight means the requested height is outside the chain's
	// valid range (zero, negative, or beyond the current head).
	ErrInvalidHeight = errors.New("invalid height")

	// ErrBlockNotFound means the height is plausible but the node does not
	// have the block, typically because it was pruned.
	ErrBlockNotFound = errors.New("block not found")
)
