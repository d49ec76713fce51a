package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// repository implements RepositoryPort using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) RepositoryPort {
	return &repository{pool: pool}
}

// txRepository implements TxRepository over a live pgx transaction. It is
// exported through NewTxRepository so other modules can run stock effects
// inside their own transaction.
type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps a pgx transaction with the stock operations.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx wraps a callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance reads a balance without locking.
func (r *repository) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	var b Balance
	err := r.pool.QueryRow(ctx,
		`SELECT product_id, qty, updated_at FROM stock_balances WHERE product_id = $1`,
		productID,
	).Scan(&b.ProductID, &b.Qty, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// ListMovements returns movement history newest first.
func (r *repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.ProductID != 0 {
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", argPos))
		args = append(args, filter.ProductID)
		argPos++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("posted_at >= $%d", argPos))
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("posted_at <= $%d", argPos))
		args = append(args, filter.To)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, product_id, movement_type, qty, ref_module, ref_id, note, actor_id, posted_at
		FROM stock_movements
		%s
		ORDER BY posted_at DESC, id DESC
		LIMIT $%d
	`, whereClause, argPos)
	args = append(args, filter.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.ProductID, &typ, &m.Qty, &m.RefModule, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (t *txRepository) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	var b Balance
	err := t.tx.QueryRow(ctx,
		`SELECT product_id, qty, updated_at FROM stock_balances WHERE product_id = $1 FOR UPDATE`,
		productID,
	).Scan(&b.ProductID, &b.Qty, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (t *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_balances (product_id, qty, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()
	`, balance.ProductID, balance.Qty)
	return err
}

func (t *txRepository) InsertMovement(ctx context.Context, movement Movement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, qty, ref_module, ref_id, note, actor_id, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, movement.ProductID, string(movement.Type), movement.Qty, movement.RefModule, movement.RefID, movement.Note, movement.ActorID)
	return err
}
