package aave

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// The simulate methods are pure projections over a snapshot: they rebuild the
// liquidation-threshold-weighted collateral and total debt, apply the single
// hypothetical action, and return the resulting health factor. The input
// position is never touched.
//
// A projection that ends with zero debt has an undefined health factor; by
// convention these return +Inf, which callers should render as "no
// liquidation risk". The live (nil) convention is only for stored snapshots.

// healthFactor computes HF = Σ(collateral_i × liqThreshold_i) / Σ(debt).
// defined is false when the position carries no debt.
func (a *Adapter) healthFactor(pos *domain.Position) (hf float64, defined bool, err error) {
	weighted, err := a.weightedCollateral(pos.Collateral, nil)
	if err != nil {
		return 0, false, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, false, err
	}
	if debt.IsZero() {
		return 0, false, nil
	}
	return weighted.Div(debt).InexactFloat64(), true, nil
}

// weightedCollateral sums collateral USD values scaled by each symbol's
// liquidation threshold. adjust, when non-nil, rescales one symbol's value
// before weighting (used by price-change projections).
func (a *Adapter) weightedCollateral(collateral []domain.Asset, adjust func(symbol string, v decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, asset := range collateral {
		v, err := asset.ValueUSDDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		if adjust != nil {
			v = adjust(asset.Symbol, v)
		}
		total = total.Add(v.Mul(a.thresholdFor(asset.Symbol)))
	}
	return total, nil
}

func (a *Adapter) debtTotal(pos *domain.Position, adjust func(symbol string, v decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, asset := range pos.Debt {
		v, err := asset.ValueUSDDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		if adjust != nil {
			v = adjust(asset.Symbol, v)
		}
		total = total.Add(v)
	}
	return total, nil
}

func ratio(weighted, debt decimal.Decimal) float64 {
	if debt.IsZero() {
		return math.Inf(1)
	}
	return weighted.Div(debt).InexactFloat64()
}

func amountFrom(amountUSD float64) (decimal.Decimal, error) {
	if amountUSD < 0 || math.IsNaN(amountUSD) || math.IsInf(amountUSD, 0) {
		return decimal.Zero, fmt.Errorf("aave: simulate: amount %v: %w", amountUSD, domain.ErrDataIntegrity)
	}
	return decimal.NewFromFloat(amountUSD), nil
}

// SimulatePriceChange projects the health factor after the given asset's
// price moves by percentChange percent, applied to every collateral and debt
// entry holding that asset.
func (a *Adapter) SimulatePriceChange(ctx context.Context, pos *domain.Position, assetSymbol string, percentChange float64) (float64, error) {
	if percentChange <= -100 || math.IsNaN(percentChange) || math.IsInf(percentChange, 0) {
		return 0, fmt.Errorf("aave: simulate price change %v%%: %w", percentChange, domain.ErrDataIntegrity)
	}
	factor := decimal.NewFromFloat(percentChange).Div(hundred).Add(decimal.NewFromInt(1))
	adjust := func(symbol string, v decimal.Decimal) decimal.Decimal {
		if symbol == assetSymbol {
			return v.Mul(factor)
		}
		return v
	}

	weighted, err := a.weightedCollateral(pos.Collateral, adjust)
	if err != nil {
		return 0, err
	}
	debt, err := a.debtTotal(pos, adjust)
	if err != nil {
		return 0, err
	}
	return ratio(weighted, debt), nil
}

// SimulateDeposit projects the health factor after supplying amountUSD of the
// asset as additional collateral.
func (a *Adapter) SimulateDeposit(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := amountFrom(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, nil)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	weighted = weighted.Add(amount.Mul(a.thresholdFor(assetSymbol)))
	return ratio(weighted, debt), nil
}

// SimulateWithdraw projects the health factor after withdrawing amountUSD of
// collateral. Withdrawing more than the basket holds empties it.
func (a *Adapter) SimulateWithdraw(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := amountFrom(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, nil)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	weighted = decimal.Max(weighted.Sub(amount.Mul(a.thresholdFor(assetSymbol))), decimal.Zero)
	return ratio(weighted, debt), nil
}

// SimulateBorrow projects the health factor after borrowing amountUSD more.
// Borrowing against a debt-free position leaves the undefined state and
// returns a finite health factor.
func (a *Adapter) SimulateBorrow(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := amountFrom(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, nil)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	return ratio(weighted, debt.Add(amount)), nil
}

// SimulateRepay projects the health factor after repaying amountUSD of debt.
// Repaying the full debt returns +Inf.
func (a *Adapter) SimulateRepay(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := amountFrom(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, nil)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	return ratio(weighted, decimal.Max(debt.Sub(amount), decimal.Zero)), nil
}
