package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
)

const (
	baseAccountTypeURL   = "/cosmos.auth.v1beta1.BaseAccount"
	moduleAccountTypeURL = "/cosmos.auth.v1beta1.ModuleAccount"
)

// Account is one ledger account from the auth module. Module accounts carry
// their address nested under base_account plus a module name.
type Account struct {
	Address string
	Type    string // models.AccountType* label
	Name    string // module name, empty for base accounts
}

// rawAccount matches the polymorphic auth account encoding.
type rawAccount struct {
	TypeURL     string `json:"@type"`
	Address     string `json:"address"`
	Name        string `json:"name"`
	BaseAccount *struct {
		Address string `json:"address"`
	} `json:"base_account"`
}

func (a *Account) UnmarshalJSON(b []byte) error {
	var raw rawAccount
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	a.Address = raw.Address
	if a.Address == "" && raw.BaseAccount != nil {
		a.Address = raw.BaseAccount.Address
	}
	a.Name = raw.Name

	switch raw.TypeURL {
	case baseAccountTypeURL:
		a.Type = models.AccountTypeBase
	case moduleAccountTypeURL:
		a.Type = models.AccountTypeModule
	default:
		// Vesting and other exotic account types still hold balances.
		if strings.Contains(raw.TypeURL, "ModuleAccount") {
			a.Type = models.AccountTypeModule
		} else {
			a.Type = models.AccountTypeOther
		}
	}
	return nil
}

// Accounts fetches every auth account at the given height (0 = head),
// following pagination. Accounts without an address are dropped.
func (c *Client) Accounts(ctx context.Context, height uint64) ([]*Account, error) {
	accounts, err := ListPaged[*Account](ctx, c.API, accountsPath, "accounts", height)
	if err != nil {
		return nil, fmt.Errorf("fetch accounts at height %d: %w", height, err)
	}

	out := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		if a != nil && a.Address != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

// BalanceOf returns the address's balance of the tracked denom at the given
// height, in micro units. Addresses with no balance row return 0.
func (c *Client) BalanceOf(ctx context.Context, address string, height uint64) (uint64, error) {
	q := url.Values{}
	q.Set("denom", c.denom)

	var body struct {
		Balance struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	path := fmt.Sprintf(balanceByDenomPath, address)
	if err := c.API.getJSON(ctx, path, q, height, &body); err != nil {
		return 0, fmt.Errorf("fetch balance of %s at height %d: %w", address, height, err)
	}

	if body.Balance.Amount == "" {
		return 0, nil
	}
	raw, err := strconv.ParseUint(body.Balance.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q for %s: %w", body.Balance.Amount, address, err)
	}
	return raw, nil
}
