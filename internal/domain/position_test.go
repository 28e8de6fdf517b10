package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func snapshot(hf *float64, collateral, debt []Asset) Position {
	now := time.Now().UTC()
	return Position{
		ID:            "pos-1",
		UserID:        "user-1",
		Protocol:      "aave-v3",
		WalletAddress: "0xabc",
		ChainID:       1,
		HealthFactor:  hf,
		Collateral:    collateral,
		Debt:          debt,
		SnapshotAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestTotalsSumAssetValues(t *testing.T) {
	p := snapshot(floatPtr(1.8),
		[]Asset{
			{Symbol: "ETH", Amount: "2", ValueUSD: "6000"},
			{Symbol: "WBTC", Amount: "0.1", ValueUSD: "4300.55"},
		},
		[]Asset{
			{Symbol: "USDC", Amount: "1000", ValueUSD: "1000"},
		},
	)

	coll, err := p.TotalCollateralUSD()
	require.NoError(t, err)
	assert.True(t, coll.Equal(decimal.RequireFromString("10300.55")), "got %s", coll)

	debt, err := p.TotalDebtUSD()
	require.NoError(t, err)
	assert.True(t, debt.Equal(decimal.NewFromInt(1000)))
}

func TestTotalsEmptySlicesAreZero(t *testing.T) {
	p := snapshot(nil, nil, nil)

	coll, err := p.TotalCollateralUSD()
	require.NoError(t, err)
	assert.True(t, coll.IsZero())

	debt, err := p.TotalDebtUSD()
	require.NoError(t, err)
	assert.True(t, debt.IsZero())
}

func TestMalformedDecimalSurfacesIntegrityError(t *testing.T) {
	p := snapshot(nil, []Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6,000"}}, nil)

	_, err := p.TotalCollateralUSD()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataIntegrity))
}

func TestLTV(t *testing.T) {
	tests := []struct {
		name       string
		collateral []Asset
		debt       []Asset
		want       string // "" means nil
	}{
		{
			name:       "zero collateral yields nil",
			collateral: nil,
			debt:       []Asset{{Symbol: "USDC", Amount: "100", ValueUSD: "100"}},
			want:       "",
		},
		{
			name:       "2 ETH collateral vs 1000 USDC debt",
			collateral: []Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}},
			debt:       []Asset{{Symbol: "USDC", Amount: "1000", ValueUSD: "1000"}},
			want:       "16.666666666666666667",
		},
		{
			name:       "no debt yields zero percent",
			collateral: []Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}},
			debt:       nil,
			want:       "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := snapshot(nil, tt.collateral, tt.debt)
			got, err := p.LTV()
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			want := decimal.RequireFromString(tt.want)
			assert.True(t, got.Sub(want).Abs().LessThan(decimal.New(1, -9)),
				"ltv = %s, want %s", got, want)
		})
	}
}

func TestRiskPredicatesNilHealthFactor(t *testing.T) {
	p := snapshot(nil, []Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}}, nil)

	for _, threshold := range []float64{0.5, 1.1, 1.5, 100} {
		assert.False(t, p.IsAtRisk(threshold))
		assert.False(t, p.IsNearLiquidation(threshold))
	}
}

func TestRiskPredicatesThresholds(t *testing.T) {
	p := snapshot(floatPtr(1.2),
		[]Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}},
		[]Asset{{Symbol: "USDC", Amount: "1000", ValueUSD: "1000"}},
	)

	assert.True(t, p.IsAtRisk(DefaultRiskThreshold))
	assert.False(t, p.IsNearLiquidation(DefaultLiquidationThreshold))

	// Strict inequality at the boundary.
	boundary := snapshot(floatPtr(1.5), nil, nil)
	assert.False(t, boundary.IsAtRisk(1.5))
}

func TestPositionMetadataRoundTripsUnknownFields(t *testing.T) {
	in := []byte(`{"ltv":"52.1","liquidationThreshold":"0.825","eMode":"1","reserveFlags":{"frozen":false}}`)

	var md PositionMetadata
	require.NoError(t, json.Unmarshal(in, &md))
	assert.Equal(t, "52.1", md.LTV)
	assert.Equal(t, "0.825", md.LiquidationThreshold)
	assert.Contains(t, md.AdditionalData, "eMode")

	out, err := json.Marshal(md)
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "1", roundTripped["eMode"])
	assert.Equal(t, map[string]any{"frozen": false}, roundTripped["reserveFlags"])
	assert.Equal(t, "52.1", roundTripped["ltv"])
}

func TestEstimateLiquidationPrice(t *testing.T) {
	base := snapshot(floatPtr(1.6),
		[]Asset{{Symbol: "ETH", Amount: "2", ValueUSD: "6000"}},
		[]Asset{{Symbol: "USDC", Amount: "1000", ValueUSD: "1000"}},
	)
	base.Metadata = &PositionMetadata{LiquidationThreshold: "0.8"}

	// 1000 / (2 * 0.8) = 625.
	price, err := base.EstimateLiquidationPrice()
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.True(t, price.Equal(decimal.NewFromInt(625)), "got %s", price)

	// Multi-collateral positions have no single liquidation price.
	multi := base
	multi.Collateral = append([]Asset{{Symbol: "WBTC", Amount: "1", ValueUSD: "60000"}}, base.Collateral...)
	price, err = multi.EstimateLiquidationPrice()
	require.NoError(t, err)
	assert.Nil(t, price)

	// No debt, no liquidation.
	debtFree := base
	debtFree.Debt = nil
	price, err = debtFree.EstimateLiquidationPrice()
	require.NoError(t, err)
	assert.Nil(t, price)

	// Missing threshold metadata.
	bare := base
	bare.Metadata = nil
	price, err = bare.EstimateLiquidationPrice()
	require.NoError(t, err)
	assert.Nil(t, price)

	// Garbage threshold surfaces an integrity error.
	broken := base
	broken.Metadata = &PositionMetadata{LiquidationThreshold: "lots"}
	_, err = broken.EstimateLiquidationPrice()
	assert.ErrorIs(t, err, ErrDataIntegrity)
}
