// Package monitor polls protocol adapters for fresh position snapshots,
// detects material changes against the previous snapshot, and publishes the
// resulting domain events.
package monitor

import (
	"github.com/shopspring/decimal"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// DefaultEpsilon is the change threshold below which two snapshots are
// considered equivalent. Subgraph balances jitter in the last decimal places
// on every block; without a dead band each poll would publish an update.
const DefaultEpsilon = 1e-6

// ChangeDetector decides whether a fresh snapshot differs materially from the
// previous one.
type ChangeDetector struct {
	epsilon decimal.Decimal
}

// NewChangeDetector creates a detector with the given dead band. A
// non-positive epsilon falls back to DefaultEpsilon.
func NewChangeDetector(epsilon float64) ChangeDetector {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return ChangeDetector{epsilon: decimal.NewFromFloat(epsilon)}
}

// Material reports whether next differs materially from prev. A nil prev
// (first observation of the pair) is always material. Otherwise the snapshots
// differ materially when the health factor changed state (defined vs not) or
// moved by more than epsilon, or when total collateral or total debt moved by
// more than epsilon.
func (d ChangeDetector) Material(prev, next *domain.Position) (bool, error) {
	if prev == nil {
		return true, nil
	}

	prevHF, prevOK := prev.HealthFactorValue()
	nextHF, nextOK := next.HealthFactorValue()
	if prevOK != nextOK {
		return true, nil
	}
	if prevOK {
		delta := decimal.NewFromFloat(nextHF).Sub(decimal.NewFromFloat(prevHF)).Abs()
		if delta.GreaterThan(d.epsilon) {
			return true, nil
		}
	}

	moved, err := d.totalMoved(prev.TotalCollateralUSD, next.TotalCollateralUSD)
	if err != nil || moved {
		return moved, err
	}
	return d.totalMoved(prev.TotalDebtUSD, next.TotalDebtUSD)
}

func (d ChangeDetector) totalMoved(prevFn, nextFn func() (decimal.Decimal, error)) (bool, error) {
	prev, err := prevFn()
	if err != nil {
		return false, err
	}
	next, err := nextFn()
	if err != nil {
		return false, err
	}
	return next.Sub(prev).Abs().GreaterThan(d.epsilon), nil
}

// CrossedBelow reports whether the health factor crossed the threshold
// downward between prev and next: next is strictly below while prev was at or
// above it, undefined, or absent. A position already below the threshold on
// the previous snapshot does not re-trigger.
func CrossedBelow(prev, next *domain.Position, threshold float64) bool {
	nextHF, ok := next.HealthFactorValue()
	if !ok || nextHF >= threshold {
		return false
	}
	if prev == nil {
		return true
	}
	prevHF, ok := prev.HealthFactorValue()
	return !ok || prevHF >= threshold
}
