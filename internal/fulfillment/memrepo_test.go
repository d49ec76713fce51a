package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
)

// memRepo is an in-memory Repository with transaction-like semantics: WithTx
// serializes callers and rolls the whole store back when the callback fails.
type memRepo struct {
	mu          sync.Mutex
	orders      map[int64]*Order
	history     []StageLog
	stock       map[int64]float64
	movements   []inventory.Movement
	clients     map[int64]float64
	adjustments map[uuid.UUID]bool

	orderSeq   int64
	itemSeq    int64
	logSeq     int64
	invoiceSeq int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:      make(map[int64]*Order),
		stock:       make(map[int64]float64),
		clients:     make(map[int64]float64),
		adjustments: make(map[uuid.UUID]bool),
	}
}

type memState struct {
	orders      map[int64]*Order
	history     []StageLog
	stock       map[int64]float64
	movements   []inventory.Movement
	clients     map[int64]float64
	adjustments map[uuid.UUID]bool

	orderSeq   int64
	itemSeq    int64
	logSeq     int64
	invoiceSeq int64
}

func (r *memRepo) snapshot() memState {
	s := memState{
		orders:      make(map[int64]*Order, len(r.orders)),
		history:     append([]StageLog(nil), r.history...),
		stock:       make(map[int64]float64, len(r.stock)),
		movements:   append([]inventory.Movement(nil), r.movements...),
		clients:     make(map[int64]float64, len(r.clients)),
		adjustments: make(map[uuid.UUID]bool, len(r.adjustments)),
		orderSeq:    r.orderSeq,
		itemSeq:     r.itemSeq,
		logSeq:      r.logSeq,
		invoiceSeq:  r.invoiceSeq,
	}
	for id, o := range r.orders {
		s.orders[id] = cloneOrder(o)
	}
	for id, qty := range r.stock {
		s.stock[id] = qty
	}
	for id, b := range r.clients {
		s.clients[id] = b
	}
	for id, v := range r.adjustments {
		s.adjustments[id] = v
	}
	return s
}

func (r *memRepo) restore(s memState) {
	r.orders = s.orders
	r.history = s.history
	r.stock = s.stock
	r.movements = s.movements
	r.clients = s.clients
	r.adjustments = s.adjustments
	r.orderSeq = s.orderSeq
	r.itemSeq = s.itemSeq
	r.logSeq = s.logSeq
	r.invoiceSeq = s.invoiceSeq
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.Returns = append([]ReturnLine(nil), o.Returns...)
	c.Payments = append([]Payment(nil), o.Payments...)
	if o.AssignedDriver != nil {
		v := *o.AssignedDriver
		c.AssignedDriver = &v
	}
	if o.PaymentMethod != nil {
		v := *o.PaymentMethod
		c.PaymentMethod = &v
	}
	if o.Notes != nil {
		v := *o.Notes
		c.Notes = &v
	}
	c.ProductionStartedAt = cloneTime(o.ProductionStartedAt)
	c.ProductionCompletedAt = cloneTime(o.ProductionCompletedAt)
	c.PickedUpAt = cloneTime(o.PickedUpAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	if o.Proof != nil {
		p := *o.Proof
		if p.Note != nil {
			v := *p.Note
			p.Note = &v
		}
		if p.ReviewedBy != nil {
			v := *p.ReviewedBy
			p.ReviewedBy = &v
		}
		p.ReviewedAt = cloneTime(p.ReviewedAt)
		c.Proof = &p
	}
	return &c
}

// Seed helpers.

func (r *memRepo) seedStock(productID int64, qty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[productID] = qty
}

func (r *memRepo) seedClient(clientID int64, balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = balance
}

func (r *memRepo) seedOrder(o *Order) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == 0 {
		r.orderSeq++
		o.ID = r.orderSeq
	}
	if o.InvoiceNumber == "" {
		r.invoiceSeq++
		o.InvoiceNumber = fmt.Sprintf("INV%06d", r.invoiceSeq)
	}
	for i := range o.Items {
		if o.Items[i].ID == 0 {
			r.itemSeq++
			o.Items[i].ID = r.itemSeq
		}
		o.Items[i].OrderID = o.ID
	}
	r.orders[o.ID] = cloneOrder(o)
	return cloneOrder(o)
}

func (r *memRepo) stockQty(productID int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID]
}

func (r *memRepo) clientBalance(clientID int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID]
}

func (r *memRepo) storedOrder(id int64) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return cloneOrder(o)
	}
	return nil
}

// Repository implementation.

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *memRepo) GetOrderByInvoice(ctx context.Context, invoiceNumber string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.InvoiceNumber == invoiceNumber {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *memRepo) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if req.ClientID != nil && o.ClientID != *req.ClientID {
			continue
		}
		if req.Stage != nil && o.Stage != *req.Stage {
			continue
		}
		if req.Status != nil && o.Financial != *req.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	return out, len(out), nil
}

func (r *memRepo) History(ctx context.Context, orderID int64) ([]StageLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StageLog
	for _, l := range r.history {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memRepo) ListByStage(ctx context.Context, stage Stage) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.Stage == stage {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

// memTx implements TxRepository against the locked store.

type memTx struct {
	repo *memRepo
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) NextInvoiceNumber(ctx context.Context) (string, error) {
	t.repo.invoiceSeq++
	return fmt.Sprintf("INV%06d", t.repo.invoiceSeq), nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *Order) error {
	t.repo.orderSeq++
	o.ID = t.repo.orderSeq
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	t.repo.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	stored, ok := t.repo.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := make([]Item, 0, len(items))
	for i, item := range items {
		t.repo.itemSeq++
		item.ID = t.repo.itemSeq
		item.OrderID = orderID
		item.LineOrder = i
		out = append(out, item)
	}
	stored.Items = append([]Item(nil), out...)
	return out, nil
}

func (t *memTx) UpdateStage(ctx context.Context, o *Order, from Stage) error {
	stored, ok := t.repo.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Stage != from {
		return ErrStaleStage
	}
	t.repo.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) ClaimForDriver(ctx context.Context, orderID, driverID int64, at time.Time) (bool, error) {
	stored, ok := t.repo.orders[orderID]
	if !ok {
		return false, nil
	}
	if stored.Stage != StageReadyForDelivery || stored.AssignedDriver != nil {
		return false, nil
	}
	stored.Stage = StageOutForDelivery
	stored.AssignedDriver = &driverID
	pickedUp := at
	stored.PickedUpAt = &pickedUp
	return true, nil
}

func (t *memTx) ResetDriver(ctx context.Context, orderID int64) error {
	stored, ok := t.repo.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	stored.Stage = StageReadyForDelivery
	stored.AssignedDriver = nil
	stored.PickedUpAt = nil
	return nil
}

func (t *memTx) SaveFinancial(ctx context.Context, o *Order) error {
	stored, ok := t.repo.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	stored.Financial = o.Financial
	stored.ReturnsDeducted = o.ReturnsDeducted
	if o.PaymentMethod != nil {
		v := *o.PaymentMethod
		stored.PaymentMethod = &v
	} else {
		stored.PaymentMethod = nil
	}
	return nil
}

func (t *memTx) UpdateDeliveredQty(ctx context.Context, itemID int64, qty float64) error {
	for _, o := range t.repo.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].DeliveredQty = qty
				return nil
			}
		}
	}
	return ErrOrderNotFound
}

func (t *memTx) InsertReturn(ctx context.Context, ret *ReturnLine) error {
	stored, ok := t.repo.orders[ret.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	t.repo.logSeq++
	ret.ID = t.repo.logSeq
	ret.CreatedAt = time.Now()
	stored.Returns = append(stored.Returns, *ret)
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *Payment) error {
	stored, ok := t.repo.orders[p.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	t.repo.logSeq++
	p.ID = t.repo.logSeq
	p.CreatedAt = time.Now()
	stored.Payments = append(stored.Payments, *p)
	return nil
}

func (t *memTx) UpsertProof(ctx context.Context, p *Proof) error {
	stored, ok := t.repo.orders[p.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	copied := *p
	stored.Proof = &copied
	return nil
}

func (t *memTx) InsertStageLog(ctx context.Context, log *StageLog) error {
	t.repo.logSeq++
	log.ID = t.repo.logSeq
	t.repo.history = append(t.repo.history, *log)
	return nil
}

func (t *memTx) GetClientBalanceForUpdate(ctx context.Context, clientID int64) (float64, error) {
	return t.repo.clients[clientID], nil
}

func (t *memTx) AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error {
	t.repo.clients[clientID] += delta
	return nil
}

func (t *memTx) RecordAdjustment(ctx context.Context, adjustmentID uuid.UUID, orderID, actorID int64) (bool, error) {
	if t.repo.adjustments[adjustmentID] {
		return false, nil
	}
	t.repo.adjustments[adjustmentID] = true
	return true, nil
}

func (t *memTx) Stock() inventory.TxRepository {
	return &memTxStock{repo: t.repo}
}

// memTxStock adapts the shared store to the inventory transaction interface.
type memTxStock struct {
	repo *memRepo
}

func (m *memTxStock) GetBalanceForUpdate(ctx context.Context, productID int64) (inventory.Balance, error) {
	qty, ok := m.repo.stock[productID]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return inventory.Balance{ProductID: productID, Qty: qty}, nil
}

func (m *memTxStock) UpsertBalance(ctx context.Context, balance inventory.Balance) error {
	m.repo.stock[balance.ProductID] = balance.Qty
	return nil
}

func (m *memTxStock) InsertMovement(ctx context.Context, movement inventory.Movement) error {
	movement.PostedAt = time.Now()
	m.repo.movements = append(m.repo.movements, movement)
	return nil
}
