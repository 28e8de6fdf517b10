// Package feed streams live market prices over WebSocket and turns large
// moves into monitoring nudges, so a crash is noticed before the next poll
// tick.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// MoveHandler is called when an asset's price has moved beyond the configured
// percentage since the last handled move.
type MoveHandler func(ctx context.Context, symbol string, changePct float64)

// PriceFeed subscribes to the exchange ticker channel for the given products
// and invokes the handler on significant moves. It reconnects with
// exponential backoff on disconnect.
type PriceFeed struct {
	wsURL    string
	products []string // exchange product ids, e.g. "ETH-USD"
	movePct  float64
	onMove   MoveHandler
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]decimal.Decimal // price at the last handled move

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed. movePct is the absolute percentage move that
// triggers the handler; non-positive values default to 1%.
func NewPriceFeed(wsURL string, products []string, movePct float64, onMove MoveHandler, logger *slog.Logger) *PriceFeed {
	if movePct <= 0 {
		movePct = 1
	}
	return &PriceFeed{
		wsURL:    wsURL,
		products: products,
		movePct:  movePct,
		onMove:   onMove,
		logger:   logger.With(slog.String("component", "price_feed")),
		lastSeen: make(map[string]decimal.Decimal),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes, and processes ticker messages until ctx is
// cancelled or Close is called. Disconnects trigger reconnection with
// exponential backoff.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.products) == 0 {
		f.logger.Info("no products to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection performs one connect-subscribe-read cycle; it returns when
// the connection drops or ctx ends.
func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := map[string]any{
		"type":        "subscribe",
		"product_ids": f.products,
		"channels":    []string{"ticker"},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price feed subscribed", slog.Int("products", len(f.products)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *PriceFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

// handleMessage parses one ticker frame and fires the move handler when the
// price moved beyond the threshold since the last handled move. Unparseable
// frames are dropped silently.
func (f *PriceFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" || msg.Price == "" {
		return
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		return
	}

	symbol := baseSymbol(msg.ProductID)
	changePct, significant := f.track(symbol, price)
	if !significant {
		return
	}

	f.logger.Info("significant price move",
		slog.String("symbol", symbol),
		slog.String("price", price.String()),
		slog.Float64("change_pct", changePct),
	)
	if f.onMove != nil {
		f.onMove(ctx, symbol, changePct)
	}
}

// track updates the per-symbol reference price and reports whether the move
// since the last handled one exceeds the threshold. The reference only
// advances on significant moves, so a slow drift still eventually triggers.
func (f *PriceFeed) track(symbol string, price decimal.Decimal) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref, ok := f.lastSeen[symbol]
	if !ok || ref.IsZero() {
		f.lastSeen[symbol] = price
		return 0, false
	}

	changePct := price.Sub(ref).Div(ref).Mul(decimal.NewFromInt(100))
	if changePct.Abs().InexactFloat64() < f.movePct {
		return 0, false
	}
	f.lastSeen[symbol] = price
	return changePct.InexactFloat64(), true
}

// baseSymbol extracts "ETH" from "ETH-USD".
func baseSymbol(productID string) string {
	if i := strings.IndexByte(productID, '-'); i > 0 {
		return productID[:i]
	}
	return productID
}
