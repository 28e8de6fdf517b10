package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
)

func snapshot(id string, hf *float64, collateralUSD, debtUSD string) *domain.Position {
	now := time.Now().UTC()
	pos := &domain.Position{
		ID:            id,
		UserID:        "user-1",
		Protocol:      "aave-v3",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		ChainID:       1,
		HealthFactor:  hf,
		Collateral:    []domain.Asset{{Symbol: "ETH", Amount: "1", ValueUSD: collateralUSD}},
		SnapshotAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if debtUSD != "" {
		pos.Debt = []domain.Asset{{Symbol: "USDC", Amount: "1", ValueUSD: debtUSD}}
	}
	return pos
}

func hfp(v float64) *float64 { return &v }

func TestMaterialFirstObservation(t *testing.T) {
	d := NewChangeDetector(0)

	material, err := d.Material(nil, snapshot("a", hfp(1.6), "6000", "1000"))
	require.NoError(t, err)
	assert.True(t, material)
}

func TestMaterialHealthFactorMove(t *testing.T) {
	d := NewChangeDetector(0)
	prev := snapshot("a", hfp(1.6), "6000", "1000")

	tests := []struct {
		name     string
		next     *domain.Position
		material bool
	}{
		{"big drop", snapshot("b", hfp(1.2), "6000", "1000"), true},
		{"sub-epsilon jitter", snapshot("b", hfp(1.6+1e-9), "6000", "1000"), false},
		{"identical", snapshot("b", hfp(1.6), "6000", "1000"), false},
		{"debt fully repaid", snapshot("b", nil, "6000", ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			material, err := d.Material(prev, tt.next)
			require.NoError(t, err)
			assert.Equal(t, tt.material, material)
		})
	}
}

func TestMaterialTotalsMove(t *testing.T) {
	d := NewChangeDetector(0)
	prev := snapshot("a", hfp(1.6), "6000", "1000")

	// Same health factor, more collateral and proportionally more debt.
	next := snapshot("b", hfp(1.6), "7000", "1000")
	material, err := d.Material(prev, next)
	require.NoError(t, err)
	assert.True(t, material)

	next = snapshot("b", hfp(1.6), "6000", "1500")
	material, err = d.Material(prev, next)
	require.NoError(t, err)
	assert.True(t, material)
}

func TestMaterialSurfacesIntegrityError(t *testing.T) {
	d := NewChangeDetector(0)
	prev := snapshot("a", hfp(1.6), "6000", "1000")
	next := snapshot("b", hfp(1.6), "not-a-number", "1000")

	_, err := d.Material(prev, next)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestCrossedBelow(t *testing.T) {
	tests := []struct {
		name      string
		prev      *domain.Position
		next      *domain.Position
		threshold float64
		crossed   bool
	}{
		{"downward crossing", snapshot("a", hfp(1.6), "6000", "1000"), snapshot("b", hfp(1.2), "6000", "1000"), 1.5, true},
		{"already below", snapshot("a", hfp(1.2), "6000", "1000"), snapshot("b", hfp(1.1), "6000", "1000"), 1.5, false},
		{"recovering", snapshot("a", hfp(1.2), "6000", "1000"), snapshot("b", hfp(1.7), "6000", "1000"), 1.5, false},
		{"first observation below", nil, snapshot("b", hfp(1.2), "6000", "1000"), 1.5, true},
		{"first observation healthy", nil, snapshot("b", hfp(1.6), "6000", "1000"), 1.5, false},
		{"undefined to below", snapshot("a", nil, "6000", ""), snapshot("b", hfp(1.2), "6000", "1000"), 1.5, true},
		{"next undefined", snapshot("a", hfp(1.2), "6000", "1000"), snapshot("b", nil, "6000", ""), 1.5, false},
		{"exactly at threshold", snapshot("a", hfp(1.6), "6000", "1000"), snapshot("b", hfp(1.5), "6000", "1000"), 1.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.crossed, CrossedBelow(tt.prev, tt.next, tt.threshold))
		})
	}
}
