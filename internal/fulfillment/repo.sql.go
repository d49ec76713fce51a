package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
	"github.com/sweetline-erp/sweetline-erp/internal/platform/db"
)

const orderColumns = `id, invoice_number, client_id, order_date, workflow_stage,
	assigned_driver, payment_method, financial_status,
	previous_invoice_balance, returns_deducted, notes,
	production_started_at, production_completed_at, picked_up_at,
	delivered_at, completed_at, created_by, created_at, updated_at`

// querier is the subset of pgx shared by pool and transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repository implements Repository over pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the pgx-backed order repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository over a live transaction.
type txRepository struct {
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := r.runTx(ctx, fn)
	if err != nil && db.IsTransient(err) {
		err = r.runTx(ctx, fn)
	}
	return err
}

func (r *repository) runTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
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

func (r *repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, r.pool,
		fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns), id)
}

func (r *repository) GetOrderByInvoice(ctx context.Context, invoiceNumber string) (*Order, error) {
	return getOrder(ctx, r.pool,
		fmt.Sprintf(`SELECT %s FROM orders WHERE invoice_number = $1`, orderColumns), invoiceNumber)
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, val)
		argPos++
	}

	if req.ClientID != nil {
		add("client_id = $%d", *req.ClientID)
	}
	if req.Stage != nil {
		add("workflow_stage = $%d", string(*req.Stage))
	}
	if req.Status != nil {
		add("financial_status = $%d", string(*req.Status))
	}
	if req.DateFrom != nil {
		add("order_date >= $%d", *req.DateFrom)
	}
	if req.DateTo != nil {
		add("order_date <= $%d", *req.DateTo)
	}
	if req.Search != nil && *req.Search != "" {
		add("invoice_number ILIKE $%d", "%"+*req.Search+"%")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM orders %s`, whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM orders
		%s
		ORDER BY order_date DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		if err := loadChildren(ctx, r.pool, &orders[i]); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

func (r *repository) History(ctx context.Context, orderID int64) ([]StageLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, from_stage, to_stage, actor_id, note, at
		FROM order_stage_log
		WHERE order_id = $1
		ORDER BY at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []StageLog
	for rows.Next() {
		var l StageLog
		var from, to string
		if err := rows.Scan(&l.ID, &l.OrderID, &from, &to, &l.ActorID, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.FromStage, l.ToStage = Stage(from), Stage(to)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *repository) ListByStage(ctx context.Context, stage Stage) ([]Order, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE workflow_stage = $1
		ORDER BY updated_at, id
	`, orderColumns), string(stage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.tx,
		fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1 FOR UPDATE`, orderColumns), id)
}

func (t *txRepository) NextInvoiceNumber(ctx context.Context) (string, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("INV%06d", n), nil
}

func (t *txRepository) InsertOrder(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders (
			invoice_number, client_id, order_date, workflow_stage,
			financial_status, previous_invoice_balance, returns_deducted,
			notes, created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`,
		o.InvoiceNumber, o.ClientID, o.OrderDate, string(o.Stage),
		string(o.Financial), o.PreviousInvoiceBalance, o.ReturnsDeducted,
		o.Notes, o.CreatedBy,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (t *txRepository) InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for i, item := range items {
		item.OrderID = orderID
		item.LineOrder = i
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, delivered_qty, unit_price, line_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, orderID, item.ProductID, item.Quantity, item.DeliveredQty, item.UnitPrice, item.LineOrder).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *txRepository) UpdateStage(ctx context.Context, o *Order, from Stage) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			workflow_stage = $1,
			production_started_at = $2,
			production_completed_at = $3,
			delivered_at = $4,
			completed_at = $5,
			updated_at = NOW()
		WHERE id = $6 AND workflow_stage = $7
	`,
		string(o.Stage), o.ProductionStartedAt, o.ProductionCompletedAt,
		o.DeliveredAt, o.CompletedAt, o.ID, string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStage
	}
	return nil
}

func (t *txRepository) ClaimForDriver(ctx context.Context, orderID, driverID int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			workflow_stage = $1,
			assigned_driver = $2,
			picked_up_at = $3,
			updated_at = NOW()
		WHERE id = $4
		  AND workflow_stage = $5
		  AND assigned_driver IS NULL
	`, string(StageOutForDelivery), driverID, at, orderID, string(StageReadyForDelivery))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) ResetDriver(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			workflow_stage = $1,
			assigned_driver = NULL,
			picked_up_at = NULL,
			updated_at = NOW()
		WHERE id = $2
	`, string(StageReadyForDelivery), orderID)
	return err
}

func (t *txRepository) SaveFinancial(ctx context.Context, o *Order) error {
	var method *string
	if o.PaymentMethod != nil {
		m := string(*o.PaymentMethod)
		method = &m
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			financial_status = $1,
			payment_method = $2,
			returns_deducted = $3,
			updated_at = NOW()
		WHERE id = $4
	`, string(o.Financial), method, o.ReturnsDeducted, o.ID)
	return err
}

func (t *txRepository) UpdateDeliveredQty(ctx context.Context, itemID int64, qty float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE order_items SET delivered_qty = $1 WHERE id = $2`, qty, itemID)
	return err
}

func (t *txRepository) InsertReturn(ctx context.Context, r *ReturnLine) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_returns (order_id, product_id, qty, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, r.OrderID, r.ProductID, r.Qty, r.Reason).Scan(&r.ID, &r.CreatedAt)
}

func (t *txRepository) InsertPayment(ctx context.Context, p *Payment) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_payments (order_id, paid_at, amount, method, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, p.OrderID, p.PaidAt, p.Amount, string(p.Method), p.Reference).Scan(&p.ID, &p.CreatedAt)
}

func (t *txRepository) UpsertProof(ctx context.Context, p *Proof) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_proofs (
			order_id, file_path, mime, size, note, auto_approve,
			approval_state, fingerprint, uploaded_by, uploaded_at,
			reviewed_by, reviewed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			mime = EXCLUDED.mime,
			size = EXCLUDED.size,
			note = EXCLUDED.note,
			auto_approve = EXCLUDED.auto_approve,
			approval_state = EXCLUDED.approval_state,
			fingerprint = EXCLUDED.fingerprint,
			uploaded_by = EXCLUDED.uploaded_by,
			uploaded_at = EXCLUDED.uploaded_at,
			reviewed_by = EXCLUDED.reviewed_by,
			reviewed_at = EXCLUDED.reviewed_at
	`,
		p.OrderID, p.FilePath, p.Mime, p.Size, p.Note, p.AutoApprove,
		string(p.State), p.Fingerprint, p.UploadedBy, p.UploadedAt,
		p.ReviewedBy, p.ReviewedAt,
	)
	return err
}

func (t *txRepository) InsertStageLog(ctx context.Context, log *StageLog) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_stage_log (order_id, from_stage, to_stage, actor_id, note, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, log.OrderID, string(log.FromStage), string(log.ToStage), log.ActorID, log.Note, log.At).Scan(&log.ID)
}

func (t *txRepository) GetClientBalanceForUpdate(ctx context.Context, clientID int64) (float64, error) {
	var balance float64
	err := t.tx.QueryRow(ctx,
		`SELECT balance FROM clients WHERE id = $1 FOR UPDATE`, clientID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("client %d: %w", clientID, ErrOrderNotFound)
		}
		return 0, err
	}
	return balance, nil
}

func (t *txRepository) AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE clients SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		delta, clientID)
	return err
}

func (t *txRepository) RecordAdjustment(ctx context.Context, adjustmentID uuid.UUID, orderID, actorID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO order_delivery_adjustments (id, order_id, actor_id, applied_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`, adjustmentID, orderID, actorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) Stock() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}

func getOrder(ctx context.Context, q querier, query string, args ...any) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if err := loadChildren(ctx, q, o); err != nil {
		return nil, err
	}
	return o, nil
}

// row is satisfied by both pgx.Row and pgx.Rows.
type row interface {
	Scan(dest ...any) error
}

func scanOrder(r row) (*Order, error) {
	var o Order
	var stage, financial string
	var method *string
	err := r.Scan(
		&o.ID, &o.InvoiceNumber, &o.ClientID, &o.OrderDate, &stage,
		&o.AssignedDriver, &method, &financial,
		&o.PreviousInvoiceBalance, &o.ReturnsDeducted, &o.Notes,
		&o.ProductionStartedAt, &o.ProductionCompletedAt, &o.PickedUpAt,
		&o.DeliveredAt, &o.CompletedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Stage = Stage(stage)
	o.Financial = FinancialStatus(financial)
	if method != nil {
		m := PaymentMethod(*method)
		o.PaymentMethod = &m
	}
	return &o, nil
}

func loadChildren(ctx context.Context, q querier, o *Order) error {
	if err := loadItems(ctx, q, o); err != nil {
		return err
	}
	if err := loadReturns(ctx, q, o); err != nil {
		return err
	}
	if err := loadPayments(ctx, q, o); err != nil {
		return err
	}
	return loadProof(ctx, q, o)
}

func loadItems(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, delivered_qty, unit_price, line_order
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_order
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.DeliveredQty, &it.UnitPrice, &it.LineOrder); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func loadReturns(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, qty, reason, created_at
		FROM order_returns
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Returns = nil
	for rows.Next() {
		var ret ReturnLine
		if err := rows.Scan(&ret.ID, &ret.OrderID, &ret.ProductID, &ret.Qty, &ret.Reason, &ret.CreatedAt); err != nil {
			return err
		}
		o.Returns = append(o.Returns, ret)
	}
	return rows.Err()
}

func loadPayments(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, paid_at, amount, method, reference, created_at
		FROM order_payments
		WHERE order_id = $1
		ORDER BY paid_at, id
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Payments = nil
	for rows.Next() {
		var p Payment
		var method string
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaidAt, &p.Amount, &method, &p.Reference, &p.CreatedAt); err != nil {
			return err
		}
		p.Method = PaymentMethod(method)
		o.Payments = append(o.Payments, p)
	}
	return rows.Err()
}

func loadProof(ctx context.Context, q querier, o *Order) error {
	var p Proof
	var state string
	err := q.QueryRow(ctx, `
		SELECT order_id, file_path, mime, size, note, auto_approve,
		       approval_state, fingerprint, uploaded_by, uploaded_at,
		       reviewed_by, reviewed_at
		FROM order_proofs
		WHERE order_id = $1
	`, o.ID).Scan(
		&p.OrderID, &p.FilePath, &p.Mime, &p.Size, &p.Note, &p.AutoApprove,
		&state, &p.Fingerprint, &p.UploadedBy, &p.UploadedAt,
		&p.ReviewedBy, &p.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			o.Proof = nil
			return nil
		}
		return err
	}
	p.State = ApprovalState(state)
	o.Proof = &p
	return nil
}
