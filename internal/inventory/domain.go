package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReserve decrements stock when an order is placed.
	MovementReserve MovementType = "RESERVE"
	// MovementRelease returns stock when items are returned or undelivered.
	MovementRelease MovementType = "RELEASE"
	// MovementAdjust indicates manual corrections.
	MovementAdjust MovementType = "ADJUST"
)

// Movement models a single stock change.
type Movement struct {
	ID        int64
	ProductID int64
	Type      MovementType
	Qty       float64
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
	PostedAt  time.Time
}

// Balance summarises on-hand stock per product.
type Balance struct {
	ProductID int64
	Qty       float64
	UpdatedAt time.Time
}

// MovementRef identifies the business document behind a movement.
type MovementRef struct {
	ActorID   int64
	RefModule string
	RefID     string
	Note      string
}

// MovementFilter filters movement history.
type MovementFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// AdjustmentInput describes an admin stock correction.
type AdjustmentInput struct {
	ProductID int64
	Qty       float64
	Note      string
	ActorID   int64
}

var (
	// ErrInsufficientStock triggered when a reserve exceeds on-hand quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrBalanceNotFound indicates no balance row exists yet.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
)
