package block

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/freightflow/chain-event-logger/internal/adapter"
	"github.com/freightflow/chain-event-logger/internal/chain"
	"github.com/freightflow/chain-event-logger/internal/logger"
)

// BlockProvider provides cached access to the chain head and block
// timestamps. Every active subscription polls the head on each tick, so
// caching keeps the RPC call count independent of subscription count.
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockProvider=MockBlockProvider
type BlockProvider interface {
	// GetLatestBlock returns the latest block number, potentially from cache
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetBlockTimestamp returns the timestamp for a block number, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// BlockFetcher is the interface for fetching block information from the blockchain
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=BlockFetcher=MockBlockFetcher
type BlockFetcher interface {
	// FetchLatestBlock fetches the latest block from the blockchain
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp for a given block number
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the BlockProvider
type Config struct {
	// TTL is how long to cache the head block number
	TTL time.Duration

	// StaleWindow is how long stale cache entries may still serve reads
	// when a fresh fetch fails
	StaleWindow time.Duration

	// BlockTimestampTTL is how long to cache block timestamps.
	// Confirmed block timestamps are immutable, 0 caches forever.
	BlockTimestampTTL time.Duration

	// MaxCachedTimestamps bounds the timestamp cache. A long-running
	// daemon touches a new block set every tick, so without a cap the
	// map grows for the life of the process.
	MaxCachedTimestamps int
}

type cachedHead struct {
	number   uint64
	cachedAt time.Time
}

type cachedTimestamp struct {
	timestamp time.Time
	cachedAt  time.Time
}

type blockProvider struct {
	fetcher BlockFetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	head       *cachedHead
	timestamps map[uint64]*cachedTimestamp
}

// NewBlockProvider creates a new BlockProvider with caching
func NewBlockProvider(fetcher BlockFetcher, config Config, clock adapter.Clock) BlockProvider {
	if config.MaxCachedTimestamps <= 0 {
		config.MaxCachedTimestamps = 4096
	}
	return &blockProvider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]*cachedTimestamp),
	}
}

// GetLatestBlock returns the latest block number, using cache if valid
func (p *blockProvider) GetLatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.cachedAt) < p.config.TTL {
		return cached.number, nil
	}

	number, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		// Fall back to a stale head rather than failing the tick
		if cached != nil && now.Sub(cached.cachedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "using stale head block", zap.Uint64("block_number", cached.number))
			return cached.number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	p.head = &cachedHead{number: number, cachedAt: now}
	p.mu.Unlock()

	return number, nil
}

// GetBlockTimestamp returns the timestamp for a block, using cache if valid
func (p *blockProvider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	cached := p.timestamps[blockNumber]
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && (p.config.BlockTimestampTTL == 0 || now.Sub(cached.cachedAt) < p.config.BlockTimestampTTL) {
		return cached.timestamp, nil
	}

	timestamp, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		if cached != nil && now.Sub(cached.cachedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "using stale block timestamp",
				zap.Uint64("block_number", blockNumber))
			return cached.timestamp, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch block timestamp for block %d and no valid cache available: %w", blockNumber, err)
	}

	p.mu.Lock()
	p.timestamps[blockNumber] = &cachedTimestamp{timestamp: timestamp, cachedAt: now}
	if len(p.timestamps) > p.config.MaxCachedTimestamps {
		p.evictTimestampsLocked()
	}
	p.mu.Unlock()

	return timestamp, nil
}

// evictTimestampsLocked drops the lower half of the cached block range.
// Polling only moves forward, so low block numbers are the least likely
// to be asked for again.
func (p *blockProvider) evictTimestampsLocked() {
	blocks := make([]uint64, 0, len(p.timestamps))
	for n := range p.timestamps {
		blocks = append(blocks, n)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	for _, n := range blocks[:len(blocks)/2] {
		delete(p.timestamps, n)
	}
}

// chainFetcher adapts a chain.Client to the BlockFetcher interface
type chainFetcher struct {
	client chain.Client
}

// NewChainFetcher creates a BlockFetcher backed by a chain client
func NewChainFetcher(client chain.Client) BlockFetcher {
	return &chainFetcher{client: client}
}

func (f *chainFetcher) FetchLatestBlock(ctx context.Context) (uint64, error) {
	return f.client.LatestBlock(ctx)
}

func (f *chainFetcher) FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	return f.client.BlockTimestamp(ctx, blockNumber)
}
