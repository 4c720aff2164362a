package ratelimit

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/freightflow/chain-event-logger/internal/adapter"
)

// Config bounds outbound RPC throughput. Node providers meter requests,
// a polling loop with many subscriptions must not burn the budget.
type Config struct {
	// RequestsPerSecond is the sustained request rate
	RequestsPerSecond float64
	// Burst is the bucket size, defaults to the rounded-up rate
	Burst int
}

// Throttle is a token bucket shared by every RPC call
type Throttle struct {
	limiter *rate.Limiter
}

// New creates a throttle with the given bounds
func New(cfg Config) *Throttle {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Wait blocks until a token is available or the context ends
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// ethClient wraps an RPC client so every call first takes a token
type ethClient struct {
	inner    adapter.EthClient
	throttle *Throttle
}

// WrapEthClient returns a rate-limited view of an RPC client. A nil
// throttle returns the client unwrapped.
func WrapEthClient(inner adapter.EthClient, t *Throttle) adapter.EthClient {
	if t == nil {
		return inner
	}
	return &ethClient{inner: inner, throttle: t}
}

func (c *ethClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.FilterLogs(ctx, query)
}

func (c *ethClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.HeaderByNumber(ctx, number)
}

func (c *ethClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.BlockNumber(ctx)
}

func (c *ethClient) Close() {
	c.inner.Close()
}
