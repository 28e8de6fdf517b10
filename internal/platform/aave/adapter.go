// Package aave implements the ProtocolAdapter contract for Aave V3 style
// lending pools. Position data comes from a protocol subgraph; prices can be
// cross-checked against on-chain Chainlink feeds when configured.
package aave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/platform/chain"
)

// ProtocolName is the stable identifier stamped on produced positions.
const ProtocolName = "aave-v3"

var (
	bpsDivisor    = decimal.NewFromInt(10000)
	hundred       = decimal.NewFromInt(100)
	defaultLiqThr = decimal.RequireFromString("0.80")
)

// Adapter fetches and simulates Aave positions. It remembers the liquidation
// threshold per reserve symbol from the last fetch so simulations on stored
// snapshots use real reserve parameters, falling back to a conservative
// default for symbols it has never seen.
type Adapter struct {
	subgraph *SubgraphClient
	feeds    *chain.PriceFeeds // optional
	chainID  int

	mu          sync.RWMutex
	liqThrBySym map[string]decimal.Decimal
}

// New creates an Adapter. feeds may be nil when no on-chain price
// verification is configured.
func New(subgraph *SubgraphClient, feeds *chain.PriceFeeds, chainID int) *Adapter {
	return &Adapter{
		subgraph:    subgraph,
		feeds:       feeds,
		chainID:     chainID,
		liqThrBySym: make(map[string]decimal.Decimal),
	}
}

// Name returns the protocol identifier.
func (a *Adapter) Name() string { return ProtocolName }

// GetPosition fetches the wallet's current reserves and assembles a fresh
// snapshot. A wallet with no supplied collateral and no debt returns
// (nil, nil).
func (a *Adapter) GetPosition(ctx context.Context, walletAddress string) (*domain.Position, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("aave: get position: %q: %w", walletAddress, domain.ErrInvalidAddress)
	}

	reserves, err := a.subgraph.FetchUserReserves(ctx, walletAddress)
	if err != nil {
		return nil, err
	}

	var (
		collateral []domain.Asset
		debt       []domain.Asset
		now        = time.Now().UTC()
	)
	for _, r := range reserves {
		liqThr, err := parseBps(r.LiquidationThreshold)
		if err != nil {
			return nil, fmt.Errorf("aave: reserve %s: %w", r.Symbol, err)
		}
		a.rememberThreshold(r.Symbol, liqThr)

		price, err := a.resolvePrice(ctx, r)
		if err != nil {
			return nil, err
		}

		supplied, err := decimal.NewFromString(r.ATokenBalance)
		if err != nil {
			return nil, fmt.Errorf("aave: reserve %s: parse balance %q: %w", r.Symbol, r.ATokenBalance, domain.ErrDataIntegrity)
		}
		borrowed, err := decimal.NewFromString(r.TotalDebt)
		if err != nil {
			return nil, fmt.Errorf("aave: reserve %s: parse debt %q: %w", r.Symbol, r.TotalDebt, domain.ErrDataIntegrity)
		}

		scale := decimal.New(1, -int32(r.Decimals))
		suppliedTokens := supplied.Mul(scale)
		borrowedTokens := borrowed.Mul(scale)

		if r.UsageAsCollateral && suppliedTokens.IsPositive() {
			collateral = append(collateral, domain.Asset{
				Symbol:   r.Symbol,
				Amount:   suppliedTokens.String(),
				ValueUSD: suppliedTokens.Mul(price).String(),
				Address:  r.UnderlyingAsset,
			})
		}
		if borrowedTokens.IsPositive() {
			debt = append(debt, domain.Asset{
				Symbol:   r.Symbol,
				Amount:   borrowedTokens.String(),
				ValueUSD: borrowedTokens.Mul(price).String(),
				Address:  r.UnderlyingAsset,
			})
		}
	}

	if len(collateral) == 0 && len(debt) == 0 {
		return nil, nil
	}

	pos := &domain.Position{
		ID:            uuid.New().String(),
		Protocol:      ProtocolName,
		WalletAddress: walletAddress,
		ChainID:       a.chainID,
		Collateral:    collateral,
		Debt:          debt,
		SnapshotAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	hf, defined, err := a.healthFactor(pos)
	if err != nil {
		return nil, err
	}
	if defined {
		pos.HealthFactor = &hf
	}

	if err := a.attachMetadata(pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// resolvePrice prefers an on-chain feed when one is configured for the
// symbol, otherwise trusts the subgraph price.
func (a *Adapter) resolvePrice(ctx context.Context, r UserReserve) (decimal.Decimal, error) {
	if a.feeds != nil {
		price, ok, err := a.feeds.PriceUSD(ctx, r.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return price, nil
		}
	}
	price, err := decimal.NewFromString(r.PriceUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf("aave: reserve %s: parse price %q: %w", r.Symbol, r.PriceUSD, domain.ErrDataIntegrity)
	}
	return price, nil
}

func (a *Adapter) attachMetadata(pos *domain.Position) error {
	totalColl, err := pos.TotalCollateralUSD()
	if err != nil {
		return err
	}
	totalDebt, err := pos.TotalDebtUSD()
	if err != nil {
		return err
	}

	md := &domain.PositionMetadata{
		TotalCollateralUSD: totalColl.String(),
		TotalDebtUSD:       totalDebt.String(),
	}
	if !totalColl.IsZero() {
		weighted, err := a.weightedCollateral(pos.Collateral, nil)
		if err != nil {
			return err
		}
		// Average liquidation threshold across the collateral basket.
		md.LiquidationThreshold = weighted.Div(totalColl).Round(6).String()
		md.AvailableBorrowsUSD = decimal.Max(weighted.Sub(totalDebt), decimal.Zero).String()
	}
	if ltv, err := pos.LTV(); err != nil {
		return err
	} else if ltv != nil {
		md.LTV = ltv.Round(6).String()
	}
	pos.Metadata = md
	return nil
}

func parseBps(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse basis points %q: %w", s, domain.ErrDataIntegrity)
	}
	return d.Div(bpsDivisor), nil
}

func (a *Adapter) rememberThreshold(symbol string, thr decimal.Decimal) {
	if !thr.IsPositive() {
		return
	}
	a.mu.Lock()
	a.liqThrBySym[symbol] = thr
	a.mu.Unlock()
}

func (a *Adapter) thresholdFor(symbol string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if thr, ok := a.liqThrBySym[symbol]; ok {
		return thr
	}
	return defaultLiqThr
}

var _ domain.ProtocolAdapter = (*Adapter)(nil)
