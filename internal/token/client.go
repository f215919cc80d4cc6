// Package token talks to the external token module. The core only ever
// needs one read path from it: the balance query that doubles as the
// viewing-key check gating transaction history.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
)

// Client queries a token contract. BalanceQuery returns nil when the
// viewing key is valid for the address and an error otherwise.
type Client interface {
	BalanceQuery(ctx context.Context, token domain.TokenContract, address domain.Addr, key string) error
}

type HTTPClient struct {
	base string
	hc   *http.Client
}

func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base: base,
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type balanceQuery struct {
	Balance struct {
		Address domain.Addr `json:"address"`
		Key     string      `json:"key"`
	} `json:"balance"`
}

func (c *HTTPClient) BalanceQuery(ctx context.Context, token domain.TokenContract, address domain.Addr, key string) error {
	var q balanceQuery
	q.Balance.Address = address
	q.Balance.Key = key
	body, err := json.Marshal(q)
	if err != nil {
		return errors.Wrap(err, "Marshal")
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/%s/query", c.base, token.Address),
		bytes.NewReader(body),
	)
	if err != nil {
		return errors.Wrap(err, "NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "Do")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return faults.Unauthorized()
	}

	return errors.Errorf("balance query: unexpected status %d", resp.StatusCode)
}

// BalanceCall records one viewing-key check a MemoryClient received.
type BalanceCall struct {
	Token   domain.Addr
	Address domain.Addr
	Key     string
}

// MemoryClient is an in-process Client for tests: a viewing key set per
// address and a record of every query made.
type MemoryClient struct {
	keys  map[domain.Addr]string
	calls []BalanceCall
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{keys: make(map[domain.Addr]string)}
}

func (c *MemoryClient) SetKey(address domain.Addr, key string) {
	c.keys[address] = key
}

func (c *MemoryClient) Calls() []BalanceCall {
	return c.calls
}

func (c *MemoryClient) BalanceQuery(_ context.Context, token domain.TokenContract, address domain.Addr, key string) error {
	c.calls = append(c.calls, BalanceCall{Token: token.Address, Address: address, Key: key})
	if want, ok := c.keys[address]; !ok || want != key {
		return faults.Unauthorized()
	}

	return nil
}
