// Package inventory tracks per-product on-hand stock. The ledger has no
// notion of orders; it mutates balances only inside the caller's transaction
// so a failed order operation rolls back its stock effects too.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// qtyEpsilon absorbs float accumulation noise around zero.
const qtyEpsilon = 1e-4

// TxRepository exposes the stock operations available inside a transaction.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// Ledger applies reserve/release semantics over a TxRepository. It is
// stateless; every call operates on the transaction handed in.
type Ledger struct{}

// NewLedger constructs a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve decrements stock only if enough is on hand, otherwise fails with
// ErrInsufficientStock and performs no mutation.
func (l *Ledger) Reserve(ctx context.Context, tx TxRepository, productID int64, qty float64, ref MovementRef) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	balance, err := l.balance(ctx, tx, productID)
	if err != nil {
		return err
	}
	if balance.Qty+qtyEpsilon < qty {
		return fmt.Errorf("%w: product %d has %.2f, need %.2f", ErrInsufficientStock, productID, balance.Qty, qty)
	}
	return l.post(ctx, tx, balance, -qty, MovementReserve, ref)
}

// Release increments stock, used when returns or undelivered remainders come
// back to the warehouse.
func (l *Ledger) Release(ctx context.Context, tx TxRepository, productID int64, qty float64, ref MovementRef) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	balance, err := l.balance(ctx, tx, productID)
	if err != nil {
		return err
	}
	return l.post(ctx, tx, balance, qty, MovementRelease, ref)
}

// Adjust applies a signed manual correction, still guarded against negative
// stock.
func (l *Ledger) Adjust(ctx context.Context, tx TxRepository, productID int64, delta float64, ref MovementRef) error {
	if math.Abs(delta) < qtyEpsilon {
		return ErrInvalidQuantity
	}
	balance, err := l.balance(ctx, tx, productID)
	if err != nil {
		return err
	}
	if balance.Qty+delta < -qtyEpsilon {
		return fmt.Errorf("%w: product %d has %.2f, adjust %.2f", ErrInsufficientStock, productID, balance.Qty, delta)
	}
	return l.post(ctx, tx, balance, delta, MovementAdjust, ref)
}

func (l *Ledger) balance(ctx context.Context, tx TxRepository, productID int64) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{ProductID: productID}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}

func (l *Ledger) post(ctx context.Context, tx TxRepository, balance Balance, delta float64, typ MovementType, ref MovementRef) error {
	newQty := balance.Qty + delta
	if math.Abs(newQty) < qtyEpsilon {
		newQty = 0
	}
	if newQty < 0 {
		return fmt.Errorf("%w: product %d would go negative", ErrInsufficientStock, balance.ProductID)
	}
	if err := tx.InsertMovement(ctx, Movement{
		ProductID: balance.ProductID,
		Type:      typ,
		Qty:       delta,
		RefModule: ref.RefModule,
		RefID:     ref.RefID,
		Note:      ref.Note,
		ActorID:   ref.ActorID,
	}); err != nil {
		return err
	}
	balance.Qty = newQty
	return tx.UpsertBalance(ctx, balance)
}
