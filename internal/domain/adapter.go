package domain

import "context"

// ProtocolAdapter abstracts one DeFi lending protocol behind a uniform
// contract so the monitoring pipeline stays protocol-agnostic. One
// implementation exists per supported protocol; each owns its upstream fetch
// strategy (on-chain RPC, subgraph, or both).
//
// The simulate methods are pure what-if projections: they take an existing
// snapshot plus a hypothetical action and return the health factor as if that
// single action had been applied. They never mutate the input position and
// never touch persistent state. Implementations must preserve monotonicity:
// all else equal, the health factor strictly rises with more collateral or
// less debt and strictly falls with the reverse. Borrowing against a position
// with no debt transitions it out of the undefined (nil) state and must
// return a finite health factor.
type ProtocolAdapter interface {
	// Name is the stable protocol identifier, used as Position.Protocol.
	Name() string

	// GetPosition fetches the wallet's current standing on the protocol.
	// A wallet with no open position returns (nil, nil), not an error.
	// Upstream failures wrap ErrDataSourceUnavailable; malformed upstream
	// numerics wrap ErrDataIntegrity.
	GetPosition(ctx context.Context, walletAddress string) (*Position, error)

	// SimulatePriceChange projects the health factor after the given asset
	// moves by percentChange percent (signed).
	SimulatePriceChange(ctx context.Context, pos *Position, assetSymbol string, percentChange float64) (float64, error)

	// SimulateDeposit projects the health factor after depositing amountUSD
	// of the given asset as collateral.
	SimulateDeposit(ctx context.Context, pos *Position, assetSymbol string, amountUSD float64) (float64, error)

	// SimulateWithdraw projects the health factor after withdrawing
	// amountUSD of collateral.
	SimulateWithdraw(ctx context.Context, pos *Position, assetSymbol string, amountUSD float64) (float64, error)

	// SimulateBorrow projects the health factor after borrowing amountUSD.
	SimulateBorrow(ctx context.Context, pos *Position, assetSymbol string, amountUSD float64) (float64, error)

	// SimulateRepay projects the health factor after repaying amountUSD of
	// debt.
	SimulateRepay(ctx context.Context, pos *Position, assetSymbol string, amountUSD float64) (float64, error)
}
