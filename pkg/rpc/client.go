package rpc

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Client bundles the two faces of a ledger chain node: the CometBFT JSON-RPC
// endpoint (blocks, status) and the Cosmos REST API (bank, staking, auth).
type Client struct {
	RPC    *HTTPClient
	API    *HTTPClient
	Logger *zap.Logger

	denom    string
	decimals int
}

// ClientOpts configures a ledger Client.
type ClientOpts struct {
	RPCEndpoints []string
	APIEndpoints []string

	// Denom is the micro denomination tracked by the engine (e.g. "loya").
	Denom string
	// Decimals converts the micro denomination to whole tokens.
	Decimals int

	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration

	Logger *zap.Logger
}

// NewClient creates a ledger Client with one rate-limited HTTP client per face.
func NewClient(o ClientOpts) *Client {
	if o.Denom == "" {
		o.Denom = "loya"
	}
	if o.Decimals <= 0 {
		o.Decimals = 6
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Client{
		RPC: NewHTTPWithOpts(Opts{
			Endpoints:       o.RPCEndpoints,
			Timeout:         o.Timeout,
			RPS:             o.RPS,
			Burst:           o.Burst,
			BreakerFailures: o.BreakerFailures,
			BreakerCooldown: o.BreakerCooldown,
		}),
		API: NewHTTPWithOpts(Opts{
			Endpoints:       o.APIEndpoints,
			Timeout:         o.Timeout,
			RPS:             o.RPS,
			Burst:           o.Burst,
			BreakerFailures: o.BreakerFailures,
			BreakerCooldown: o.BreakerCooldown,
		}),
		Logger:   o.Logger,
		denom:    o.Denom,
		decimals: o.Decimals,
	}
}

// Denom returns the micro denomination the client queries.
func (c *Client) Denom() string {
	return c.denom
}

// ToDecimal converts a raw micro-denomination amount to whole tokens.
func (c *Client) ToDecimal(raw uint64) float64 {
	return float64(raw) / math.Pow10(c.decimals)
}
