package rpc

import (
	"context"
	"fmt"
	"strconv"
)

// StakingPool is the bonded/not-bonded split of the staking module at one height.
type StakingPool struct {
	BondedRaw    uint64
	NotBondedRaw uint64
	Bonded       float64
	NotBonded    float64
}

// StakingPool queries the staking module pool as of the given height (0 = head).
func (c *Client) StakingPool(ctx context.Context, height uint64) (*StakingPool, error) {
	var body struct {
		Pool struct {
			BondedTokens    string `json:"bonded_tokens"`
			NotBondedTokens string `json:"not_bonded_tokens"`
		} `json:"pool"`
	}
	if err := c.API.getJSON(ctx, stakingPoolPath, nil, height, &body); err != nil {
		return nil, fmt.Errorf("fetch staking pool at height %d: %w", height, err)
	}

	bonded, err := strconv.ParseUint(body.Pool.BondedTokens, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bonded tokens %q: %w", body.Pool.BondedTokens, err)
	}
	notBonded, err := strconv.ParseUint(body.Pool.NotBondedTokens, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse not bonded tokens %q: %w", body.Pool.NotBondedTokens, err)
	}

	return &StakingPool{
		BondedRaw:    bonded,
		NotBondedRaw: notBonded,
		Bonded:       c.ToDecimal(bonded),
		NotBonded:    c.ToDecimal(notBonded),
	}, nil
}

// Reporter is one oracle reporter with its delegated power.
type Reporter struct {
	Address  string `json:"address"`
	Metadata struct {
		Power string `json:"power"`
	} `json:"metadata"`
}

// TotalReporterPower sums the power of all registered reporters at the given
// height. Chains without the reporter module simply fail here; the caller
// already treats the field as optional.
func (c *Client) TotalReporterPower(ctx context.Context, height uint64) (float64, error) {
	reporters, err := ListPaged[*Reporter](ctx, c.API, reportersPath, "reporters", height)
	if err != nil {
		return 0, fmt.Errorf("fetch reporters at height %d: %w", height, err)
	}

	var total uint64
	for _, r := range reporters {
		if r == nil {
			continue
		}
		power, err := strconv.ParseUint(r.Metadata.Power, 10, 64)
		if err != nil {
			continue
		}
		total += power
	}
	return float64(total), nil
}
