package event

import (
	"encoding/json"
	"fmt"
)

// WalletConnectedData is emitted when a user registers a wallet for
// monitoring.
type WalletConnectedData struct {
	WalletAddress string `json:"walletAddress"`
	UserID        string `json:"userId"`
}

// PositionUpdatedData is emitted when a freshly fetched snapshot materially
// differs from the previously stored one.
type PositionUpdatedData struct {
	PositionID       string   `json:"positionId"`
	UserID           string   `json:"userId"`
	Protocol         string   `json:"protocol"`
	HealthFactor     float64  `json:"healthFactor"`
	CollateralUSD    float64  `json:"collateralUsd"`
	BorrowedUSD      float64  `json:"borrowedUsd"`
	LiquidationPrice *float64 `json:"liquidationPrice,omitempty"`
}

// HealthFactorCriticalData is emitted when a position's health factor crosses
// below the user's effective threshold.
type HealthFactorCriticalData struct {
	PositionID   string  `json:"positionId"`
	UserID       string  `json:"userId"`
	HealthFactor float64 `json:"healthFactor"`
	Threshold    float64 `json:"threshold"`
}

// NewWalletConnected builds a WalletConnected event keyed by the user
// aggregate.
func NewWalletConnected(userID, walletAddress string) Event {
	return newEvent(TypeWalletConnected, userID, AggregateUser, WalletConnectedData{
		WalletAddress: walletAddress,
		UserID:        userID,
	})
}

// NewPositionUpdated builds a PositionUpdated event keyed by the position
// aggregate.
func NewPositionUpdated(data PositionUpdatedData) Event {
	return newEvent(TypePositionUpdated, data.PositionID, AggregatePosition, data)
}

// NewHealthFactorCritical builds a HealthFactorCritical event keyed by the
// position aggregate.
func NewHealthFactorCritical(data HealthFactorCriticalData) Event {
	return newEvent(TypeHealthFactorCritical, data.PositionID, AggregatePosition, data)
}

// DecodeData rehydrates a JSON payload into the concrete struct for the given
// type. Used when replaying events out of the store, where the persisted form
// is untyped JSON.
func DecodeData(typ Type, raw []byte) (any, error) {
	switch typ {
	case TypeWalletConnected:
		var d WalletConnectedData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", typ, err)
		}
		return d, nil
	case TypePositionUpdated:
		var d PositionUpdatedData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", typ, err)
		}
		return d, nil
	case TypeHealthFactorCritical:
		var d HealthFactorCriticalData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", typ, err)
		}
		return d, nil
	default:
		// Unknown types survive replay as raw JSON rather than failing it.
		var d map[string]any
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", typ, err)
		}
		return d, nil
	}
}

// EncodeData marshals an event payload to its persisted JSON form.
func EncodeData(data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("event: encode payload: %w", err)
	}
	return b, nil
}
