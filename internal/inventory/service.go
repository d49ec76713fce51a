package inventory

import (
	"context"
	"fmt"

	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, productID int64) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates standalone inventory operations: admin corrections and
// stock views. Order-driven reserve/release goes through the Ledger inside
// the order's own transaction.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// PostAdjustment applies an admin stock correction.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Balance, error) {
	if input.ProductID == 0 {
		return Balance{}, fmt.Errorf("inventory: product required")
	}
	var after Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref := MovementRef{ActorID: input.ActorID, RefModule: "inventory", Note: input.Note}
		if err := s.ledger.Adjust(ctx, tx, input.ProductID, input.Qty, ref); err != nil {
			return err
		}
		balance, err := tx.GetBalanceForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		after = balance
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:adjust",
			Entity:   "stock_balance",
			EntityID: fmt.Sprintf("%d", input.ProductID),
			Meta: map[string]any{
				"qty":  input.Qty,
				"note": input.Note,
			},
		})
	}
	return after, nil
}

// GetBalance returns the on-hand quantity for a product.
func (s *Service) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	return s.repo.GetBalance(ctx, productID)
}

// ListMovements returns movement history.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, filter)
}
