// Package compound implements the ProtocolAdapter contract for Compound
// style money markets. Account state comes from the comet REST API; risk is
// weighted by per-market collateral factors instead of liquidation
// thresholds.
package compound

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// ProtocolName is the stable identifier stamped on produced positions.
const ProtocolName = "compound-v3"

var defaultCollateralFactor = decimal.RequireFromString("0.75")

// Adapter fetches and simulates Compound positions.
type Adapter struct {
	baseURL    string
	chainID    int
	httpClient *http.Client

	mu          sync.RWMutex
	factorBySym map[string]decimal.Decimal
}

// New creates an Adapter for the given comet API endpoint.
func New(baseURL string, chainID int) *Adapter {
	return &Adapter{
		baseURL:     baseURL,
		chainID:     chainID,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		factorBySym: make(map[string]decimal.Decimal),
	}
}

// Name returns the protocol identifier.
func (a *Adapter) Name() string { return ProtocolName }

type accountResponse struct {
	Collateral []struct {
		Symbol           string `json:"symbol"`
		Address          string `json:"address"`
		Balance          string `json:"balance"`
		BalanceUSD       string `json:"balanceUsd"`
		CollateralFactor string `json:"collateralFactor"`
	} `json:"collateral"`
	Borrows []struct {
		Symbol     string `json:"symbol"`
		Address    string `json:"address"`
		Balance    string `json:"balance"`
		BalanceUSD string `json:"balanceUsd"`
	} `json:"borrows"`
}

// GetPosition fetches the wallet's account state and assembles a fresh
// snapshot. A wallet unknown to the market returns (nil, nil).
func (a *Adapter) GetPosition(ctx context.Context, walletAddress string) (*domain.Position, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("compound: get position: %q: %w", walletAddress, domain.ErrInvalidAddress)
	}

	acct, err := a.fetchAccount(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if acct == nil || (len(acct.Collateral) == 0 && len(acct.Borrows) == 0) {
		return nil, nil
	}

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:            uuid.New().String(),
		Protocol:      ProtocolName,
		WalletAddress: walletAddress,
		ChainID:       a.chainID,
		SnapshotAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, c := range acct.Collateral {
		factor, err := decimal.NewFromString(c.CollateralFactor)
		if err != nil {
			return nil, fmt.Errorf("compound: market %s: parse collateral factor %q: %w", c.Symbol, c.CollateralFactor, domain.ErrDataIntegrity)
		}
		a.rememberFactor(c.Symbol, factor)
		pos.Collateral = append(pos.Collateral, domain.Asset{
			Symbol:   c.Symbol,
			Amount:   c.Balance,
			ValueUSD: c.BalanceUSD,
			Address:  c.Address,
		})
	}
	for _, b := range acct.Borrows {
		pos.Debt = append(pos.Debt, domain.Asset{
			Symbol:   b.Symbol,
			Amount:   b.Balance,
			ValueUSD: b.BalanceUSD,
			Address:  b.Address,
		})
	}

	hf, defined, err := a.healthFactor(pos)
	if err != nil {
		return nil, err
	}
	if defined {
		pos.HealthFactor = &hf
	}
	return pos, nil
}

func (a *Adapter) fetchAccount(ctx context.Context, wallet string) (*accountResponse, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s", a.baseURL, url.PathEscape(wallet))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("compound: create request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compound: fetch account: %v: %w", err, domain.ErrDataSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("compound: fetch account: status %d: %s: %w", resp.StatusCode, string(body), domain.ErrDataSourceUnavailable)
	}

	var acct accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return nil, fmt.Errorf("compound: decode account: %w: %w", err, domain.ErrDataIntegrity)
	}
	return &acct, nil
}

func (a *Adapter) rememberFactor(symbol string, factor decimal.Decimal) {
	if !factor.IsPositive() {
		return
	}
	a.mu.Lock()
	a.factorBySym[symbol] = factor
	a.mu.Unlock()
}

func (a *Adapter) factorFor(symbol string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if f, ok := a.factorBySym[symbol]; ok {
		return f
	}
	return defaultCollateralFactor
}

// healthFactor computes HF = Σ(collateral_i × collateralFactor_i) / Σ(debt).
func (a *Adapter) healthFactor(pos *domain.Position) (hf float64, defined bool, err error) {
	weighted, err := a.weightedCollateral(pos.Collateral, "", 1)
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

// weightedCollateral sums factor-weighted collateral, rescaling scaleSymbol's
// entries by scale on the way.
func (a *Adapter) weightedCollateral(collateral []domain.Asset, scaleSymbol string, scale float64) (decimal.Decimal, error) {
	factor := decimal.NewFromFloat(scale)
	total := decimal.Zero
	for _, asset := range collateral {
		v, err := asset.ValueUSDDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		if asset.Symbol == scaleSymbol {
			v = v.Mul(factor)
		}
		total = total.Add(v.Mul(a.factorFor(asset.Symbol)))
	}
	return total, nil
}

func (a *Adapter) scaledDebt(pos *domain.Position, scaleSymbol string, scale float64) (decimal.Decimal, error) {
	factor := decimal.NewFromFloat(scale)
	total := decimal.Zero
	for _, asset := range pos.Debt {
		v, err := asset.ValueUSDDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		if asset.Symbol == scaleSymbol {
			v = v.Mul(factor)
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

func checkAmount(amountUSD float64) (decimal.Decimal, error) {
	if amountUSD < 0 || math.IsNaN(amountUSD) || math.IsInf(amountUSD, 0) {
		return decimal.Zero, fmt.Errorf("compound: simulate: amount %v: %w", amountUSD, domain.ErrDataIntegrity)
	}
	return decimal.NewFromFloat(amountUSD), nil
}

// SimulatePriceChange projects the health factor after the asset moves by
// percentChange percent.
func (a *Adapter) SimulatePriceChange(ctx context.Context, pos *domain.Position, assetSymbol string, percentChange float64) (float64, error) {
	if percentChange <= -100 || math.IsNaN(percentChange) || math.IsInf(percentChange, 0) {
		return 0, fmt.Errorf("compound: simulate price change %v%%: %w", percentChange, domain.ErrDataIntegrity)
	}
	scale := 1 + percentChange/100

	weighted, err := a.weightedCollateral(pos.Collateral, assetSymbol, scale)
	if err != nil {
		return 0, err
	}
	debt, err := a.scaledDebt(pos, assetSymbol, scale)
	if err != nil {
		return 0, err
	}
	return ratio(weighted, debt), nil
}

// SimulateDeposit projects the health factor after supplying amountUSD more
// collateral.
func (a *Adapter) SimulateDeposit(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := checkAmount(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, "", 1)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	return ratio(weighted.Add(amount.Mul(a.factorFor(assetSymbol))), debt), nil
}

// SimulateWithdraw projects the health factor after withdrawing amountUSD of
// collateral.
func (a *Adapter) SimulateWithdraw(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := checkAmount(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, "", 1)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	weighted = decimal.Max(weighted.Sub(amount.Mul(a.factorFor(assetSymbol))), decimal.Zero)
	return ratio(weighted, debt), nil
}

// SimulateBorrow projects the health factor after borrowing amountUSD more.
func (a *Adapter) SimulateBorrow(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := checkAmount(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, "", 1)
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
func (a *Adapter) SimulateRepay(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	amount, err := checkAmount(amountUSD)
	if err != nil {
		return 0, err
	}
	weighted, err := a.weightedCollateral(pos.Collateral, "", 1)
	if err != nil {
		return 0, err
	}
	debt, err := pos.TotalDebtUSD()
	if err != nil {
		return 0, err
	}
	return ratio(weighted, decimal.Max(debt.Sub(amount), decimal.Zero)), nil
}

var _ domain.ProtocolAdapter = (*Adapter)(nil)
