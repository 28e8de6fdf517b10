package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Default health-factor thresholds. A user-specific threshold from
// UserPreferences takes precedence over these.
const (
	DefaultRiskThreshold        = 1.5
	DefaultLiquidationThreshold = 1.1
)

// Asset is a single collateral or debt entry in a position. Amounts and USD
// values are decimal strings so that no precision is lost crossing service
// boundaries; they are only parsed at the point of arithmetic.
type Asset struct {
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	ValueUSD string `json:"valueUSD"`
	Address  string `json:"address,omitempty"`
}

// ValueUSDDecimal parses the asset's USD value. A malformed value surfaces as
// ErrDataIntegrity rather than being swallowed as zero.
func (a Asset) ValueUSDDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(a.ValueUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset %s: parse valueUSD %q: %w", a.Symbol, a.ValueUSD, ErrDataIntegrity)
	}
	return d, nil
}

// AmountDecimal parses the asset's token amount.
func (a Asset) AmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset %s: parse amount %q: %w", a.Symbol, a.Amount, ErrDataIntegrity)
	}
	return d, nil
}

// PositionMetadata carries protocol-specific figures alongside the normalized
// position fields. AdditionalData preserves fields this service does not model
// so snapshots round-trip through persistence without loss.
type PositionMetadata struct {
	LTV                  string         `json:"ltv,omitempty"`
	LiquidationThreshold string         `json:"liquidationThreshold,omitempty"`
	AvailableBorrowsUSD  string         `json:"availableBorrowsUSD,omitempty"`
	TotalCollateralUSD   string         `json:"totalCollateralUSD,omitempty"`
	TotalDebtUSD         string         `json:"totalDebtUSD,omitempty"`
	AdditionalData       map[string]any `json:"-"`
}

// MarshalJSON flattens AdditionalData into the top-level object, with the
// known fields taking precedence over same-named extras.
func (m PositionMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.AdditionalData)+5)
	for k, v := range m.AdditionalData {
		out[k] = v
	}
	if m.LTV != "" {
		out["ltv"] = m.LTV
	}
	if m.LiquidationThreshold != "" {
		out["liquidationThreshold"] = m.LiquidationThreshold
	}
	if m.AvailableBorrowsUSD != "" {
		out["availableBorrowsUSD"] = m.AvailableBorrowsUSD
	}
	if m.TotalCollateralUSD != "" {
		out["totalCollateralUSD"] = m.TotalCollateralUSD
	}
	if m.TotalDebtUSD != "" {
		out["totalDebtUSD"] = m.TotalDebtUSD
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys out of the object and keeps the full object
// in AdditionalData, mirroring how the metadata was produced upstream.
func (m *PositionMetadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pick := func(key string) string {
		if s, ok := raw[key].(string); ok {
			return s
		}
		return ""
	}
	m.LTV = pick("ltv")
	m.LiquidationThreshold = pick("liquidationThreshold")
	m.AvailableBorrowsUSD = pick("availableBorrowsUSD")
	m.TotalCollateralUSD = pick("totalCollateralUSD")
	m.TotalDebtUSD = pick("totalDebtUSD")
	for _, known := range []string{"ltv", "liquidationThreshold", "availableBorrowsUSD", "totalCollateralUSD", "totalDebtUSD"} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		m.AdditionalData = raw
	} else {
		m.AdditionalData = nil
	}
	return nil
}

// Position is one point-in-time observation of a wallet's standing on a
// lending protocol. Snapshots are never mutated; each adapter fetch produces a
// new Position row and monitoring diffs consecutive snapshots.
//
// HealthFactor is nil when the position carries no debt: the ratio is
// undefined there, and by convention the nil state means "not applicable",
// not zero and not infinity.
type Position struct {
	ID            string
	UserID        string
	Protocol      string
	WalletAddress string
	ChainID       int
	HealthFactor  *float64
	Collateral    []Asset
	Debt          []Asset
	Metadata      *PositionMetadata
	SnapshotAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func sumValuesUSD(assets []Asset) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range assets {
		v, err := a.ValueUSDDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// TotalCollateralUSD sums the USD values across collateral assets. Empty
// collateral yields zero.
func (p *Position) TotalCollateralUSD() (decimal.Decimal, error) {
	return sumValuesUSD(p.Collateral)
}

// TotalDebtUSD sums the USD values across debt assets.
func (p *Position) TotalDebtUSD() (decimal.Decimal, error) {
	return sumValuesUSD(p.Debt)
}

// LTV returns the loan-to-value ratio as a percentage, or nil when total
// collateral is exactly zero (the ratio is undefined, not infinite).
func (p *Position) LTV() (*decimal.Decimal, error) {
	collateral, err := p.TotalCollateralUSD()
	if err != nil {
		return nil, err
	}
	if collateral.IsZero() {
		return nil, nil
	}
	debt, err := p.TotalDebtUSD()
	if err != nil {
		return nil, err
	}
	ltv := debt.Div(collateral).Mul(decimal.NewFromInt(100))
	return &ltv, nil
}

// IsAtRisk reports whether the health factor is known and strictly below the
// given threshold. A nil health factor (no debt) is never at risk.
func (p *Position) IsAtRisk(threshold float64) bool {
	return p.HealthFactor != nil && *p.HealthFactor < threshold
}

// IsNearLiquidation is IsAtRisk against the tighter liquidation threshold.
// Both predicates share shape so callers can apply per-user thresholds to
// either.
func (p *Position) IsNearLiquidation(threshold float64) bool {
	return p.HealthFactor != nil && *p.HealthFactor < threshold
}

// HealthFactorValue returns the health factor and whether it is defined.
func (p *Position) HealthFactorValue() (float64, bool) {
	if p.HealthFactor == nil {
		return 0, false
	}
	return *p.HealthFactor, true
}

// EstimateLiquidationPrice returns the collateral price at which the health
// factor reaches 1.0, solving debt = amount * price * liqThreshold. It is
// only defined for single-collateral positions with debt and a known
// liquidation threshold; everywhere else it returns nil.
func (p *Position) EstimateLiquidationPrice() (*decimal.Decimal, error) {
	if len(p.Collateral) != 1 || len(p.Debt) == 0 {
		return nil, nil
	}
	if p.Metadata == nil || p.Metadata.LiquidationThreshold == "" {
		return nil, nil
	}

	liqThr, err := decimal.NewFromString(p.Metadata.LiquidationThreshold)
	if err != nil {
		return nil, fmt.Errorf("position %s: parse liquidation threshold %q: %w", p.ID, p.Metadata.LiquidationThreshold, ErrDataIntegrity)
	}
	amount, err := p.Collateral[0].AmountDecimal()
	if err != nil {
		return nil, err
	}
	debt, err := p.TotalDebtUSD()
	if err != nil {
		return nil, err
	}
	if liqThr.Sign() <= 0 || amount.Sign() <= 0 || debt.Sign() <= 0 {
		return nil, nil
	}

	price := debt.Div(amount.Mul(liqThr))
	return &price, nil
}
