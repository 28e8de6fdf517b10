// Package event defines the domain events of the monitoring pipeline, the
// in-process bus that fans them out to subscribers, and the append-only store
// contract that makes them durable.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads. The payload shape is fully determined by
// the type; see payloads.go.
type Type string

const (
	TypeWalletConnected      Type = "WalletConnected"
	TypePositionUpdated      Type = "PositionUpdated"
	TypeHealthFactorCritical Type = "HealthFactorCritical"
)

// AggregateType names the entity whose history an event belongs to.
type AggregateType string

const (
	AggregateUser     AggregateType = "user"
	AggregatePosition AggregateType = "position"
	AggregateSignal   AggregateType = "signal"
	AggregateIntent   AggregateType = "intent"
)

// Metadata carries causal-chain fields for tracing an event back through the
// pipeline that produced it.
type Metadata struct {
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

// Event is a single immutable domain event. The producer assigns ID and
// OccurredAt; the store assigns Version on append (zero until then). Data
// holds the typed payload for Type — one of the structs in payloads.go.
type Event struct {
	ID            string
	Type          Type
	AggregateID   string
	AggregateType AggregateType
	Version       int64
	OccurredAt    time.Time
	Data          any
	Metadata      *Metadata
}

func newEvent(typ Type, aggregateID string, aggregateType AggregateType, data any) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          typ,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    time.Now().UTC(),
		Data:          data,
	}
}

// WithMetadata returns a copy of the event carrying the given causal-chain
// metadata.
func (e Event) WithMetadata(md Metadata) Event {
	e.Metadata = &md
	return e
}
