package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tellor-io/supplyx/pkg/utils"
)

// HTTPClient is a wrapper around an http.Client that implements a circuit-breaker and token-bucket.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire acquires a token from the token-bucket, blocking if necessary.
func (c *HTTPClient) acquire() {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return
		}
		time.Sleep(c.refillEvery / 2)
	}
}

// isOpen returns true if the endpoint is in the OPEN state.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

// getJSON issues a GET against a configured endpoint and decodes the JSON
// response into out. It fails over across endpoints on transport and
// server-side errors, but returns immediately on terminal errors (invalid or
// pruned heights) since every endpoint would answer the same.
//
// atHeight > 0 sets the historical state header understood by the REST API.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, atHeight uint64, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	fullPath := path
	if len(query) > 0 {
		fullPath += "?" + query.Encode()
	}

	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		ep := c.endpoints[i%len(c.endpoints)]
		// Skip endpoints whose breaker is OPEN.
		if c.isOpen(ep) {
			continue
		}

		c.acquire()

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, ep+fullPath, nil)
		if reqErr != nil {
			// Request creation failed: not an endpoint failure, just return.
			return reqErr
		}
		req.Header.Set("Accept", "application/json")
		if atHeight > 0 {
			req.Header.Set(BlockHeightHeader, strconv.FormatUint(atHeight, 10))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 300 {
			// Both CometBFT and the REST API report out-of-range heights
			// with error statuses; those are terminal, everything else is
			// an endpoint problem worth failing over.
			var raw json.RawMessage
			decErr := json.NewDecoder(resp.Body).Decode(&raw)
			_ = utils.DrainAndClose(resp.Body)
			if decErr == nil {
				if terminal := classifyErrorBody(raw); terminal != nil {
					return terminal
				}
			}
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			if resp.StatusCode >= 500 {
				c.noteFailure(ep)
			}
			continue
		}

		if out != nil {
			var raw json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				lastErr = err
				continue
			}
			if err := json.Unmarshal(raw, out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				lastErr = err
				continue
			}
		}

		if cerr := utils.DrainAndClose(resp.Body); cerr != nil {
			return cerr
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints open")
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// classifyErrorBody maps node error payloads onto the shared taxonomy.
// Returns nil when the body does not indicate a terminal height problem.
func classifyErrorBody(raw json.RawMessage) error {
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
			Data    string `json:"data"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}

	msg := envelope.Message
	if envelope.Error != nil {
		msg = envelope.Error.Message + " " + envelope.Error.Data
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "must be less than or equal to"),
		strings.Contains(lower, "height must be greater than"),
		strings.Contains(lower, "invalid height"):
		return fmt.Errorf("%w: %s", ErrInvalidHeight, strings.TrimSpace(msg))
	case strings.Contains(lower, "is not available"),
		strings.Contains(lower, "lowest height is"),
		strings.Contains(lower, "pruned"):
		return fmt.Errorf("%w: %s", ErrBlockNotFound, strings.TrimSpace(msg))
	}
	return nil
}

// Generic pagination: free function to avoid method type params

// pageResp is a Cosmos REST paged response. Concrete result keys differ per
// endpoint ("accounts", "reporters"), so the caller names the key.
type pageResp[T any] struct {
	Items      []T
	Total      uint64
	NextKey    string
	resultsKey string
}

func (p *pageResp[T]) UnmarshalJSON(b []byte) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(b, &body); err != nil {
		return err
	}
	if raw, ok := body[p.resultsKey]; ok {
		if err := json.Unmarshal(raw, &p.Items); err != nil {
			return err
		}
	}
	if raw, ok := body["pagination"]; ok {
		var pg struct {
			NextKey string `json:"next_key"`
			Total   string `json:"total"`
		}
		if err := json.Unmarshal(raw, &pg); err != nil {
			return err
		}
		p.NextKey = pg.NextKey
		if pg.Total != "" {
			if n, err := strconv.ParseUint(pg.Total, 10, 64); err == nil {
				p.Total = n
			}
		}
	}
	return nil
}

const listPageSize = 500

// ListPaged lists every item behind a paged REST endpoint. The first page
// asks for a total count, remaining pages are fetched in parallel by offset.
func ListPaged[T any](ctx context.Context, c *HTTPClient, path, resultsKey string, atHeight uint64) ([]T, error) {
	first := pageResp[T]{resultsKey: resultsKey}
	q := url.Values{}
	q.Set("pagination.limit", strconv.Itoa(listPageSize))
	q.Set("pagination.count_total", "true")
	if err := c.getJSON(ctx, path, q, atHeight, &first); err != nil {
		return nil, err
	}

	all := make([]T, 0, first.Total)
	all = append(all, first.Items...)
	if uint64(len(all)) >= first.Total || len(first.Items) == 0 {
		return all, nil
	}

	pages := int((first.Total + listPageSize - 1) / listPageSize)
	type res struct {
		offset int
		items  []T
		err    error
	}
	ch := make(chan res, pages-1)
	for p := 1; p < pages; p++ {
		go func(page int) {
			pr := pageResp[T]{resultsKey: resultsKey}
			q := url.Values{}
			q.Set("pagination.limit", strconv.Itoa(listPageSize))
			q.Set("pagination.offset", strconv.Itoa(page*listPageSize))
			if err := c.getJSON(ctx, path, q, atHeight, &pr); err != nil {
				ch <- res{page, nil, err}
				return
			}
			ch <- res{page, pr.Items, nil}
		}(p)
	}

	byOffset := make(map[int][]T, pages-1)
	for i := 0; i < pages-1; i++ {
		r := <-ch
		if r.err != nil {
			return nil, r.err
		}
		byOffset[r.offset] = r.items
	}
	for p := 1; p < pages; p++ {
		all = append(all, byOffset[p]...)
	}
	return all, nil
}
