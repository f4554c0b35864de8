// Package store persists the risk engine's records. Every engine operation
// runs inside one Update transaction: reads, computation and writes commit
// together or not at all.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpRisk/internal/state"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrReadOnly = errors.New("store: write in read-only transaction")
)

// Tx is the record view of one transaction. Returned records are copies:
// callers mutate them freely and Put them back to persist.
type Tx interface {
	GetConfig() (*state.Config, error)
	PutConfig(c *state.Config) error

	GetMarket(symbol string) (*state.Market, error)
	PutMarket(m *state.Market) error
	ListMarkets() ([]*state.Market, error)

	GetPosition(owner uuid.UUID, symbol string) (*state.UserPosition, error)
	// GetOrCreatePosition returns an empty position when none is stored.
	// It is persisted only by PutPosition.
	GetOrCreatePosition(owner uuid.UUID, symbol string) (*state.UserPosition, error)
	PutPosition(p *state.UserPosition) error
	// ListPositions returns the open positions of a market sorted by owner.
	ListPositions(symbol string) ([]*state.UserPosition, error)
	CountOpenPositions(owner uuid.UUID) (int64, error)

	GetStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error)
	GetOrCreateStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error)
	PutStopLoss(o *state.StopLossOrder) error
	// ListActiveStopLosses returns the active orders of a market sorted by owner.
	ListActiveStopLosses(symbol string) ([]*state.StopLossOrder, error)

	GetInsuranceFund() (*state.InsuranceFund, error)
	PutInsuranceFund(f *state.InsuranceFund) error

	GetOraclePrice(feed string) (*state.OraclePrice, error)
	PutOraclePrice(o *state.OraclePrice) error
}

// Store runs transactions against a backend.
type Store interface {
	// Update runs fn in a read-write transaction, committing iff fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
