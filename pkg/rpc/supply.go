package rpc

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Supply is the ledger's total token supply at one height, in the micro
// denomination plus its decimal conversion.
type Supply struct {
	Denom   string
	Raw     uint64
	Decimal float64
}

// TotalSupply queries the bank module's supply of the tracked denom as of the
// given height (0 = head).
func (c *Client) TotalSupply(ctx context.Context, height uint64) (*Supply, error) {
	q := url.Values{}
	q.Set("denom", c.denom)

	var body struct {
		Amount struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"amount"`
	}
	if err := c.API.getJSON(ctx, supplyByDenomPath, q, height, &body); err != nil {
		return nil, fmt.Errorf("fetch supply at height %d: %w", height, err)
	}

	raw, err := strconv.ParseUint(body.Amount.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse supply amount %q: %w", body.Amount.Amount, err)
	}

	return &Supply{
		Denom:   c.denom,
		Raw:     raw,
		Decimal: c.ToDecimal(raw),
	}, nil
}
