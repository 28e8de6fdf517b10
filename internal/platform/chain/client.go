// Package chain provides a thin Ethereum RPC client used by protocol adapters
// to read Chainlink-style price feeds on-chain.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// 4-byte selectors for the aggregator calls we issue by hand; the ABI surface
// is small enough that generated bindings would be overkill.
var (
	selLatestRoundData = crypto.Keccak256([]byte("latestRoundData()"))[:4]
	selDecimals        = crypto.Keccak256([]byte("decimals()"))[:4]
)

// Client wraps an ethclient connection.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the given RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %v: %w", rpcURL, err, domain.ErrDataSourceUnavailable)
	}
	return &Client{eth: eth}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w: %w", to.Hex(), err, domain.ErrDataSourceUnavailable)
	}
	return out, nil
}

// PriceUSD reads latestRoundData from a Chainlink aggregator and scales the
// answer by the feed's decimals.
func (c *Client) PriceUSD(ctx context.Context, feed common.Address) (decimal.Decimal, error) {
	raw, err := c.call(ctx, feed, selLatestRoundData)
	if err != nil {
		return decimal.Zero, err
	}
	// latestRoundData returns (roundId, answer, startedAt, updatedAt,
	// answeredInRound); answer is the second 32-byte word.
	if len(raw) < 64 {
		return decimal.Zero, fmt.Errorf("chain: feed %s: short answer (%d bytes): %w", feed.Hex(), len(raw), domain.ErrDataIntegrity)
	}
	answer := new(big.Int).SetBytes(raw[32:64])
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("chain: feed %s: non-positive answer: %w", feed.Hex(), domain.ErrDataIntegrity)
	}

	decRaw, err := c.call(ctx, feed, selDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	if len(decRaw) < 32 {
		return decimal.Zero, fmt.Errorf("chain: feed %s: short decimals: %w", feed.Hex(), domain.ErrDataIntegrity)
	}
	decimals := int32(decRaw[31])

	return decimal.NewFromBigInt(answer, -decimals), nil
}

// PriceFeeds resolves asset symbols to aggregator addresses and caches
// nothing: each lookup is one RPC round trip, which polling cadence can
// afford.
type PriceFeeds struct {
	client *Client
	feeds  map[string]common.Address
}

// NewPriceFeeds builds a symbol → aggregator address map from configuration.
// Invalid addresses are rejected up front.
func NewPriceFeeds(client *Client, feeds map[string]string) (*PriceFeeds, error) {
	m := make(map[string]common.Address, len(feeds))
	for symbol, addr := range feeds {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain: price feed for %s: %q: %w", symbol, addr, domain.ErrInvalidAddress)
		}
		m[symbol] = common.HexToAddress(addr)
	}
	return &PriceFeeds{client: client, feeds: m}, nil
}

// PriceUSD returns the on-chain USD price for the symbol, or ok=false when no
// feed is configured for it.
func (p *PriceFeeds) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	feed, ok := p.feeds[symbol]
	if !ok {
		return decimal.Zero, false, nil
	}
	price, err := p.client.PriceUSD(ctx, feed)
	if err != nil {
		return decimal.Zero, true, err
	}
	return price, true, nil
}
