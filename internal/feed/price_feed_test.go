package feed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(movePct float64, onMove MoveHandler) *PriceFeed {
	return NewPriceFeed("wss://example.invalid/ws", []string{"ETH-USD"}, movePct, onMove, slog.New(slog.DiscardHandler))
}

func TestHandleMessageFiresOnSignificantMove(t *testing.T) {
	var moves []float64
	f := newTestFeed(1, func(ctx context.Context, symbol string, changePct float64) {
		assert.Equal(t, "ETH", symbol)
		moves = append(moves, changePct)
	})
	ctx := context.Background()

	// First tick only establishes the reference price.
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"3000"}`))
	assert.Empty(t, moves)

	// 0.5% move stays under the 1% threshold.
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"3015"}`))
	assert.Empty(t, moves)

	// -3% from the reference fires.
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"2910"}`))
	require.Len(t, moves, 1)
	assert.InDelta(t, -3.0, moves[0], 1e-9)

	// The reference advanced; another small wiggle does not re-fire.
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"2915"}`))
	assert.Len(t, moves, 1)
}

func TestHandleMessageDropsJunk(t *testing.T) {
	fired := false
	f := newTestFeed(1, func(ctx context.Context, symbol string, changePct float64) { fired = true })
	ctx := context.Background()

	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"3000"}`))
	f.handleMessage(ctx, []byte(`not json`))
	f.handleMessage(ctx, []byte(`{"type":"heartbeat"}`))
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"-5"}`))
	f.handleMessage(ctx, []byte(`{"type":"ticker","product_id":"ETH-USD","price":"nope"}`))

	assert.False(t, fired)
}

func TestBaseSymbol(t *testing.T) {
	assert.Equal(t, "ETH", baseSymbol("ETH-USD"))
	assert.Equal(t, "WBTC", baseSymbol("WBTC-USDC"))
	assert.Equal(t, "SOL", baseSymbol("SOL"))
}
