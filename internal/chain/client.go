package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/freightflow/chain-event-logger/internal/adapter"
	"github.com/freightflow/chain-event-logger/internal/domain"
	"github.com/freightflow/chain-event-logger/internal/logger"
)

// Client reads FreightFlow contract logs from an RPC node.
//
//go:generate mockgen -source=client.go -destination=../mocks/chain_client.go -package=mocks -mock_names=Client=MockChainClient
type Client interface {
	// LatestBlock returns the current chain head number
	LatestBlock(ctx context.Context) (uint64, error)

	// FetchEvents retrieves raw logs for a contract over [fromBlock, toBlock],
	// chunked so an RPC range cap never fails the whole window
	FetchEvents(ctx context.Context, contractAddress string, fromBlock, toBlock uint64, eventTypes []domain.EventType) ([]domain.RawEvent, error)

	// BlockTimestamp returns the timestamp of a block
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// Close closes the underlying connection
	Close()
}

type chainClient struct {
	client    adapter.EthClient
	clock     adapter.Clock
	chunkSize uint64
}

// NewClient creates a chain client fetching in windows of chunkSize blocks
func NewClient(client adapter.EthClient, clock adapter.Clock, chunkSize uint64) Client {
	if chunkSize == 0 {
		chunkSize = 100
	}
	return &chainClient{client: client, clock: clock, chunkSize: chunkSize}
}

// LatestBlock returns the current chain head number
func (c *chainClient) LatestBlock(ctx context.Context) (uint64, error) {
	number, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrChainUnavailable, err)
	}
	return number, nil
}

// FetchEvents retrieves raw logs over [fromBlock, toBlock] in chunks
func (c *chainClient) FetchEvents(ctx context.Context, contractAddress string, fromBlock, toBlock uint64, eventTypes []domain.EventType) ([]domain.RawEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	topics := topicsForEventTypes(eventTypes)

	var all []domain.RawEvent
	for from := fromBlock; from <= toBlock; from += c.chunkSize {
		to := from + c.chunkSize - 1
		if to > toBlock {
			to = toBlock
		}

		logs, err := c.filterLogsWithRetry(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{common.HexToAddress(contractAddress)},
			Topics:    topics,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: filter logs %d-%d: %s", domain.ErrChainUnavailable, from, to, err)
		}

		for _, vLog := range logs {
			all = append(all, rawEventFromLog(vLog))
		}
	}

	// Callers rely on (block, logIndex) order across chunk boundaries
	sort.Slice(all, func(i, j int) bool {
		if all[i].BlockNumber != all[j].BlockNumber {
			return all[i].BlockNumber < all[j].BlockNumber
		}
		return all[i].LogIndex < all[j].LogIndex
	})

	return all, nil
}

// BlockTimestamp returns the timestamp of a block
func (c *chainClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: header %d: %s", domain.ErrChainUnavailable, blockNumber, err)
	}
	return c.clock.Unix(int64(header.Time), 0).UTC(), nil
}

// Close closes the underlying connection
func (c *chainClient) Close() {
	c.client.Close()
}

// filterLogsWithRetry wraps FilterLogs in a bounded exponential backoff,
// transient node hiccups should not error a whole poll cycle
func (c *chainClient) filterLogsWithRetry(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	var logs []types.Log
	operation := func() error {
		var err error
		logs, err = c.client.FilterLogs(ctx, query)
		if err != nil {
			logger.WarnCtx(ctx, "filter logs failed, retrying",
				zap.Uint64("fromBlock", query.FromBlock.Uint64()),
				zap.Uint64("toBlock", query.ToBlock.Uint64()),
				zap.Error(err))
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// rawEventFromLog converts a node log into the transport-neutral form the
// decoder and store work with
func rawEventFromLog(vLog types.Log) domain.RawEvent {
	keys := make([]string, 0, len(vLog.Topics))
	for _, topic := range vLog.Topics {
		keys = append(keys, topic.Hex())
	}

	// Split the data payload into 32-byte words, hex encoded
	var data []string
	for i := 0; i+32 <= len(vLog.Data); i += 32 {
		data = append(data, "0x"+common.Bytes2Hex(vLog.Data[i:i+32]))
	}

	return domain.RawEvent{
		TxHash:          vLog.TxHash.Hex(),
		ContractAddress: vLog.Address.Hex(),
		BlockNumber:     vLog.BlockNumber,
		BlockHash:       vLog.BlockHash.Hex(),
		LogIndex:        vLog.Index,
		Keys:            keys,
		Data:            data,
	}
}

// topicsForEventTypes builds the topic filter for a subscription's event
// types. An empty list means all known types, which needs no filter at
// all since unknown selectors are kept anyway.
func topicsForEventTypes(eventTypes []domain.EventType) [][]common.Hash {
	if len(eventTypes) == 0 {
		return nil
	}

	var selectors []common.Hash
	for _, t := range eventTypes {
		if sel, ok := SelectorForEventType(t); ok {
			selectors = append(selectors, sel)
		}
	}
	if len(selectors) == 0 {
		return nil
	}
	return [][]common.Hash{selectors}
}
