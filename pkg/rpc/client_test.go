package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"go.uber.org/zap/zaptest"
)

// fakeChain simulates a CometBFT node with 5 second blocks.
type fakeChain struct {
	oldest  uint64
	head    uint64
	genesis time.Time
}

func (f *fakeChain) timeAt(height uint64) time.Time {
	return f.genesis.Add(time.Duration(height) * 5 * time.Second)
}

func (f *fakeChain) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeComet(w, map[string]any{
			"sync_info": map[string]any{
				"latest_block_height":   strconv.FormatUint(f.head, 10),
				"latest_block_time":     f.timeAt(f.head).Format(time.RFC3339Nano),
				"earliest_block_height": strconv.FormatUint(f.oldest, 10),
				"earliest_block_time":   f.timeAt(f.oldest).Format(time.RFC3339Nano),
			},
		})
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		height, _ := strconv.ParseUint(r.URL.Query().Get("height"), 10, 64)
		if height > f.head {
			writeCometError(w, fmt.Sprintf("height %d must be less than or equal to the current blockchain height %d", height, f.head))
			return
		}
		if height < f.oldest {
			writeCometError(w, fmt.Sprintf("height %d is not available, lowest height is %d", height, f.oldest))
			return
		}
		writeComet(w, map[string]any{
			"block": map[string]any{
				"header": map[string]any{
					"height": strconv.FormatUint(height, 10),
					"time":   f.timeAt(height).Format(time.RFC3339Nano),
				},
			},
		})
	})
	return mux
}

func writeComet(w http.ResponseWriter, result map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func writeCometError(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "data": msg},
	})
}

func newTestClient(t *testing.T, rpcHandler, apiHandler http.Handler) *Client {
	t.Helper()
	opts := ClientOpts{
		RPS:    1000,
		Burst:  1000,
		Logger: zaptest.NewLogger(t),
	}
	if rpcHandler != nil {
		srv := httptest.NewServer(rpcHandler)
		t.Cleanup(srv.Close)
		opts.RPCEndpoints = []string{srv.URL}
	}
	if apiHandler != nil {
		srv := httptest.NewServer(apiHandler)
		t.Cleanup(srv.Close)
		opts.APIEndpoints = []string{srv.URL}
	}
	return NewClient(opts)
}

func TestStatus(t *testing.T) {
	chain := &fakeChain{oldest: 100, head: 1000, genesis: time.Unix(1700000000, 0).UTC()}
	c := newTestClient(t, chain.handler(), nil)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), status.CurrentHeight)
	assert.Equal(t, uint64(100), status.OldestHeight)
	assert.InDelta(t, 5.0, status.AvgBlockTime(), 0.001)
}

func TestBlockByHeight(t *testing.T) {
	chain := &fakeChain{oldest: 100, head: 1000, genesis: time.Unix(1700000000, 0).UTC()}
	c := newTestClient(t, chain.handler(), nil)
	ctx := context.Background()

	t.Run("valid height", func(t *testing.T) {
		block, err := c.BlockByHeight(ctx, 500)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), block.Height)
		assert.Equal(t, chain.timeAt(500), block.Time.UTC())
	})

	t.Run("zero height", func(t *testing.T) {
		_, err := c.BlockByHeight(ctx, 0)
		assert.ErrorIs(t, err, ErrInvalidHeight)
	})

	t.Run("beyond head", func(t *testing.T) {
		_, err := c.BlockByHeight(ctx, 2000)
		assert.ErrorIs(t, err, ErrInvalidHeight)
	})

	t.Run("pruned height", func(t *testing.T) {
		_, err := c.BlockByHeight(ctx, 50)
		assert.ErrorIs(t, err, ErrBlockNotFound)
	})
}

func TestNearestBlock(t *testing.T) {
	chain := &fakeChain{oldest: 100, head: 10000, genesis: time.Unix(1700000000, 0).UTC()}
	c := newTestClient(t, chain.handler(), nil)
	ctx := context.Background()

	t.Run("finds aligned block", func(t *testing.T) {
		target := chain.timeAt(4321).Add(2 * time.Second)
		block, err := c.NearestBlock(ctx, target)
		require.NoError(t, err)

		diff := block.Time.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, AlignmentTolerance)
	})

	t.Run("future target clamps to head", func(t *testing.T) {
		target := chain.timeAt(chain.head).Add(time.Minute)
		block, err := c.NearestBlock(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, chain.head, block.Height)
	})

	t.Run("far future target is not aligned", func(t *testing.T) {
		target := chain.timeAt(chain.head).Add(time.Hour)
		_, err := c.NearestBlock(ctx, target)
		assert.ErrorIs(t, err, ErrNotAligned)
	})

	t.Run("target before retention is not aligned", func(t *testing.T) {
		target := chain.timeAt(chain.oldest).Add(-time.Hour)
		_, err := c.NearestBlock(ctx, target)
		assert.ErrorIs(t, err, ErrNotAligned)
	})
}

func TestTotalSupply(t *testing.T) {
	mux := http.NewServeMux()
	var gotHeight string
	mux.HandleFunc(supplyByDenomPath, func(w http.ResponseWriter, r *http.Request) {
		gotHeight = r.Header.Get(BlockHeightHeader)
		assert.Equal(t, "loya", r.URL.Query().Get("denom"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amount": map[string]string{"denom": "loya", "amount": "2500000000000"},
		})
	})
	c := newTestClient(t, nil, mux)

	supply, err := c.TotalSupply(context.Background(), 777)
	require.NoError(t, err)
	assert.Equal(t, "777", gotHeight)
	assert.Equal(t, uint64(2500000000000), supply.Raw)
	assert.Equal(t, 2500000.0, supply.Decimal)
}

func TestStakingPool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(stakingPoolPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pool": map[string]string{
				"bonded_tokens":     "1500000000000",
				"not_bonded_tokens": "250000000000",
			},
		})
	})
	c := newTestClient(t, nil, mux)

	pool, err := c.StakingPool(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1500000.0, pool.Bonded)
	assert.Equal(t, 250000.0, pool.NotBonded)
}

func TestBalanceOf(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cosmos/bank/v1beta1/balances/tellor1aaa/by_denom", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]string{"denom": "loya", "amount": "123456"},
		})
	})
	mux.HandleFunc("/cosmos/bank/v1beta1/balances/tellor1empty/by_denom", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	c := newTestClient(t, nil, mux)
	ctx := context.Background()

	raw, err := c.BalanceOf(ctx, "tellor1aaa", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), raw)

	raw, err = c.BalanceOf(ctx, "tellor1empty", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), raw)
}

func TestAccountUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected Account
	}{
		{
			name:     "base account",
			body:     `{"@type": "/cosmos.auth.v1beta1.BaseAccount", "address": "tellor1aaa"}`,
			expected: Account{Address: "tellor1aaa", Type: models.AccountTypeBase},
		},
		{
			name:     "module account",
			body:     `{"@type": "/cosmos.auth.v1beta1.ModuleAccount", "name": "bonded_tokens_pool", "base_account": {"address": "tellor1mod"}}`,
			expected: Account{Address: "tellor1mod", Type: models.AccountTypeModule, Name: "bonded_tokens_pool"},
		},
		{
			name:     "vesting account",
			body:     `{"@type": "/cosmos.vesting.v1beta1.ContinuousVestingAccount", "address": "tellor1vst"}`,
			expected: Account{Address: "tellor1vst", Type: models.AccountTypeOther},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Account
			require.NoError(t, json.Unmarshal([]byte(tt.body), &a))
			assert.Equal(t, tt.expected, a)
		})
	}
}

func TestListPaged(t *testing.T) {
	// 3 pages: 500 + 500 + 100 accounts
	const total = 1100
	mux := http.NewServeMux()
	mux.HandleFunc(accountsPath, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("pagination.offset"))
		count := listPageSize
		if offset+count > total {
			count = total - offset
		}
		accounts := make([]map[string]string, 0, count)
		for i := 0; i < count; i++ {
			accounts = append(accounts, map[string]string{
				"@type":   "/cosmos.auth.v1beta1.BaseAccount",
				"address": fmt.Sprintf("tellor1%06d", offset+i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accounts":   accounts,
			"pagination": map[string]string{"total": strconv.Itoa(total)},
		})
	})
	c := newTestClient(t, nil, mux)

	accounts, err := c.Accounts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, accounts, total)
	// parallel pages must come back in offset order
	assert.Equal(t, "tellor1000000", accounts[0].Address)
	assert.Equal(t, "tellor1000500", accounts[500].Address)
	assert.Equal(t, "tellor1001099", accounts[total-1].Address)
}

func TestClassifyErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected error
	}{
		{
			name:     "beyond head",
			body:     `{"error": {"message": "Internal error", "data": "height 99 must be less than or equal to the current blockchain height 50"}}`,
			expected: ErrInvalidHeight,
		},
		{
			name:     "pruned",
			body:     `{"error": {"message": "Internal error", "data": "height 3 is not available, lowest height is 100"}}`,
			expected: ErrBlockNotFound,
		},
		{
			name:     "lcd invalid height",
			body:     `{"message": "invalid height", "code": 3}`,
			expected: ErrInvalidHeight,
		},
		{
			name:     "unrelated error",
			body:     `{"message": "rate limited"}`,
			expected: nil,
		},
		{
			name:     "not json object",
			body:     `"oops"`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyErrorBody(json.RawMessage(tt.body))
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

func TestGetJSONFailover(t *testing.T) {
	// first endpoint always 500s with no decodable terminal error
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom"})
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "1"})
	}))
	defer good.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{bad.URL, good.URL}, RPS: 1000, Burst: 1000})

	var out map[string]string
	err := c.getJSON(context.Background(), "/x", nil, 0, &out)
	require.NoError(t, err)
	assert.Equal(t, "1", out["ok"])
}

func TestGetJSONAllDown(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{bad.URL}, RPS: 1000, Burst: 1000})

	err := c.getJSON(context.Background(), "/x", nil, 0, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
