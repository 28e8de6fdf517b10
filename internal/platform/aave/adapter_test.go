package aave

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
)

func testAdapter() *Adapter {
	a := New(nil, nil, 1)
	a.rememberThreshold("ETH", decimal.RequireFromString("0.825"))
	a.rememberThreshold("USDC", decimal.RequireFromString("0.78"))
	return a
}

func testPosition() *domain.Position {
	now := time.Now().UTC()
	return &domain.Position{
		ID:            "pos-1",
		UserID:        "user-1",
		Protocol:      ProtocolName,
		WalletAddress: "0x1111111111111111111111111111111111111111",
		ChainID:       1,
		Collateral:    []domain.Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}},
		Debt:          []domain.Asset{{Symbol: "USDC", Amount: "1000", ValueUSD: "1000"}},
		SnapshotAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func baseHealthFactor(t *testing.T, a *Adapter, pos *domain.Position) float64 {
	t.Helper()
	hf, defined, err := a.healthFactor(pos)
	require.NoError(t, err)
	require.True(t, defined)
	return hf
}

func TestHealthFactorFormula(t *testing.T) {
	a := testAdapter()
	pos := testPosition()

	// 6000 * 0.825 / 1000
	assert.InDelta(t, 4.95, baseHealthFactor(t, a, pos), 1e-9)
}

func TestHealthFactorUndefinedWithoutDebt(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	pos.Debt = nil

	_, defined, err := a.healthFactor(pos)
	require.NoError(t, err)
	assert.False(t, defined)
}

func TestSimulateDepositMonotonicity(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	base := baseHealthFactor(t, a, pos)

	ctx := context.Background()
	prev := base
	for _, amount := range []float64{1, 100, 2500, 1e6} {
		hf, err := a.SimulateDeposit(ctx, pos, "ETH", amount)
		require.NoError(t, err)
		assert.Greater(t, hf, base, "deposit of %v must raise the health factor", amount)
		assert.GreaterOrEqual(t, hf, prev)
		prev = hf
	}

	// Input position untouched.
	assert.Equal(t, "6000", pos.Collateral[0].ValueUSD)
}

func TestSimulateBorrowMonotonicity(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	base := baseHealthFactor(t, a, pos)

	ctx := context.Background()
	prev := base
	for _, amount := range []float64{1, 100, 2500, 1e6} {
		hf, err := a.SimulateBorrow(ctx, pos, "USDC", amount)
		require.NoError(t, err)
		assert.Less(t, hf, base, "borrow of %v must lower the health factor", amount)
		assert.LessOrEqual(t, hf, prev)
		prev = hf
	}
}

func TestSimulateWithdrawLowersHealthFactor(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	base := baseHealthFactor(t, a, pos)

	hf, err := a.SimulateWithdraw(context.Background(), pos, "ETH", 2000)
	require.NoError(t, err)
	assert.Less(t, hf, base)

	// Withdrawing the whole basket floors weighted collateral at zero.
	hf, err = a.SimulateWithdraw(context.Background(), pos, "ETH", 1e9)
	require.NoError(t, err)
	assert.Zero(t, hf)
}

func TestSimulateRepayRaisesHealthFactor(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	base := baseHealthFactor(t, a, pos)

	hf, err := a.SimulateRepay(context.Background(), pos, "USDC", 500)
	require.NoError(t, err)
	assert.Greater(t, hf, base)

	// Full repayment leaves the ratio undefined; the projection signals it
	// with +Inf rather than dividing by zero.
	hf, err = a.SimulateRepay(context.Background(), pos, "USDC", 1000)
	require.NoError(t, err)
	assert.True(t, math.IsInf(hf, 1))
}

func TestSimulateBorrowAgainstDebtFreePosition(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	pos.Debt = nil

	hf, err := a.SimulateBorrow(context.Background(), pos, "USDC", 1000)
	require.NoError(t, err)
	assert.False(t, math.IsInf(hf, 0), "borrow must transition out of the undefined state")
	assert.InDelta(t, 4.95, hf, 1e-9)
}

func TestSimulatePriceChange(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	base := baseHealthFactor(t, a, pos)

	ctx := context.Background()

	down, err := a.SimulatePriceChange(ctx, pos, "ETH", -30)
	require.NoError(t, err)
	assert.InDelta(t, base*0.7, down, 1e-9)

	up, err := a.SimulatePriceChange(ctx, pos, "ETH", 20)
	require.NoError(t, err)
	assert.Greater(t, up, base)

	// A move on an asset the position does not hold changes nothing.
	same, err := a.SimulatePriceChange(ctx, pos, "DOGE", -50)
	require.NoError(t, err)
	assert.InDelta(t, base, same, 1e-9)

	_, err = a.SimulatePriceChange(ctx, pos, "ETH", -100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
}

func TestSimulateRejectsInvalidAmounts(t *testing.T) {
	a := testAdapter()
	pos := testPosition()

	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := a.SimulateDeposit(context.Background(), pos, "ETH", amount)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
	}
}

func TestGetPositionRejectsMalformedAddress(t *testing.T) {
	a := testAdapter()

	_, err := a.GetPosition(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidAddress))
}

func TestMalformedAssetValueSurfacesIntegrityError(t *testing.T) {
	a := testAdapter()
	pos := testPosition()
	pos.Collateral[0].ValueUSD = "6_000"

	_, _, err := a.healthFactor(pos)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
}
