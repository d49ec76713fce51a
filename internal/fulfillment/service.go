package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sweetline-erp/sweetline-erp/internal/catalog"
	"github.com/sweetline-erp/sweetline-erp/internal/fulfillment/readypool"
	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
	"github.com/sweetline-erp/sweetline-erp/internal/observability"
	"github.com/sweetline-erp/sweetline-erp/internal/rbac"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

// CatalogPort resolves products during order validation and decorates
// snapshots with display names.
type CatalogPort interface {
	GetByID(ctx context.Context, id int64) (*catalog.Product, error)
	NamesByID(ctx context.Context, ids []int64) (map[int64]string, error)
}

// AuditPort records audit trail entries. Failures are logged, never fatal.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReadyPool mirrors the set of orders awaiting pickup for fast courier
// listings. It is a cache; the orders table stays authoritative.
type ReadyPool interface {
	Add(ctx context.Context, orderID int64, readyAt time.Time) error
	Remove(ctx context.Context, orderID int64) error
	List(ctx context.Context) ([]int64, error)
	Rebuild(ctx context.Context, entries []readypool.Entry) error
}

// Service is the fulfillment engine. All state changes run inside one
// repository transaction; notifications, cache updates and metrics happen
// strictly after commit.
type Service struct {
	repo    Repository
	ledger  *inventory.Ledger
	catalog CatalogPort
	audit   AuditPort
	events  EventPublisher
	pool    ReadyPool
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService wires the engine. audit, events, pool and metrics may be nil in
// tests.
func NewService(
	repo Repository,
	ledger *inventory.Ledger,
	cat CatalogPort,
	audit AuditPort,
	events EventPublisher,
	pool ReadyPool,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		catalog: cat,
		audit:   audit,
		events:  events,
		pool:    pool,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateOrder validates the request, reserves stock and inserts the order.
// The order passes through order_placed and lands in production_queue within
// the same transaction, so observers never see the transient stage.
func (s *Service) CreateOrder(ctx context.Context, actor shared.Actor, req CreateOrderRequest) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermOrderCreate); err != nil {
		return nil, err
	}
	names, err := s.validateItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	var order *Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetClientBalanceForUpdate(ctx, req.ClientID)
		if err != nil {
			return err
		}
		invoice, err := tx.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}

		o := &Order{
			InvoiceNumber:          invoice,
			ClientID:               req.ClientID,
			OrderDate:              req.OrderDate,
			Stage:                  StageOrderPlaced,
			Financial:              FinancialPending,
			PreviousInvoiceBalance: balance,
			Notes:                  req.Notes,
			CreatedBy:              actor.ID,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		items := make([]Item, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, Item{
				ProductID:    it.ProductID,
				Quantity:     it.Quantity,
				DeliveredQty: it.Quantity,
				UnitPrice:    it.UnitPrice,
			})
		}
		if o.Items, err = tx.InsertItems(ctx, o.ID, items); err != nil {
			return err
		}

		ref := inventory.MovementRef{
			ActorID:   actor.ID,
			RefModule: "fulfillment",
			RefID:     o.InvoiceNumber,
			Note:      "order created",
		}
		for _, it := range o.Items {
			if err := s.ledger.Reserve(ctx, tx.Stock(), it.ProductID, it.Quantity, ref); err != nil {
				if name, ok := names[it.ProductID]; ok && errors.Is(err, inventory.ErrInsufficientStock) {
					return fmt.Errorf("%q: %w", name, err)
				}
				return err
			}
		}

		prev := o.Stage
		o.Stage = StageProductionQueue
		if err := tx.UpdateStage(ctx, o, prev); err != nil {
			return err
		}
		if err := tx.InsertStageLog(ctx, &StageLog{
			OrderID:   o.ID,
			FromStage: prev,
			ToStage:   o.Stage,
			ActorID:   actor.ID,
			At:        s.now(),
		}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.create", order.ID, map[string]any{
		"invoice_number": order.InvoiceNumber,
		"client_id":      order.ClientID,
		"items":          len(order.Items),
	})
	s.publishStage(ctx, order, StageOrderPlaced, StageProductionQueue, actor.ID, "")
	s.metrics.ObserveStageTransition(string(StageProductionQueue))

	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// GetOrder loads one order with a fresh settlement.
func (s *Service) GetOrder(ctx context.Context, actor shared.Actor, id int64) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermOrderView); err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, o)
	return &snap, nil
}

// GetOrderByInvoice loads one order by invoice number.
func (s *Service) GetOrderByInvoice(ctx context.Context, actor shared.Actor, invoiceNumber string) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermOrderView); err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrderByInvoice(ctx, invoiceNumber)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, o)
	return &snap, nil
}

// List returns a filtered order page.
func (s *Service) List(ctx context.Context, actor shared.Actor, req ListRequest) (*ListResponse, error) {
	if err := s.authorize(actor, shared.PermOrderView); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 1000 {
		req.Limit = 1000
	}
	orders, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &ListResponse{
		Orders: make([]Snapshot, 0, len(orders)),
		Total:  total,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	for i := range orders {
		resp.Orders = append(resp.Orders, NewSnapshot(&orders[i]))
	}
	return resp, nil
}

// History returns the committed stage log for one order.
func (s *Service) History(ctx context.Context, actor shared.Actor, orderID int64) ([]StageLog, error) {
	if err := s.authorize(actor, shared.PermOrderView); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, orderID)
}

// ListReady returns orders awaiting pickup, cache first with a database
// fallback so an empty or unavailable cache never hides orders.
func (s *Service) ListReady(ctx context.Context, actor shared.Actor) ([]Snapshot, error) {
	if err := s.authorize(actor, shared.PermOrderView); err != nil {
		return nil, err
	}

	if s.pool != nil {
		if ids, err := s.pool.List(ctx); err == nil && len(ids) > 0 {
			snaps := make([]Snapshot, 0, len(ids))
			for _, id := range ids {
				o, err := s.repo.GetOrder(ctx, id)
				if err != nil || o.Stage != StageReadyForDelivery {
					continue
				}
				snaps = append(snaps, NewSnapshot(o))
			}
			if len(snaps) > 0 {
				return snaps, nil
			}
		} else if err != nil {
			s.logger.WarnContext(ctx, "ready pool unavailable, falling back to database", "error", err)
		}
	}

	orders, err := s.repo.ListByStage(ctx, StageReadyForDelivery)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(orders))
	for i := range orders {
		snaps = append(snaps, NewSnapshot(&orders[i]))
	}
	return snaps, nil
}

// RebuildReadyPool repopulates the pickup cache from the orders table. Run
// at startup so a flushed or stale cache never hides ready orders.
func (s *Service) RebuildReadyPool(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	orders, err := s.repo.ListByStage(ctx, StageReadyForDelivery)
	if err != nil {
		return err
	}
	entries := make([]readypool.Entry, 0, len(orders))
	for i := range orders {
		readyAt := orders[i].CreatedAt
		if orders[i].ProductionCompletedAt != nil {
			readyAt = *orders[i].ProductionCompletedAt
		}
		entries = append(entries, readypool.Entry{OrderID: orders[i].ID, ReadyAt: readyAt})
	}
	return s.pool.Rebuild(ctx, entries)
}

// SetProductionStage advances the order to in_production or
// ready_for_delivery.
func (s *Service) SetProductionStage(ctx context.Context, actor shared.Actor, orderID int64, req ProductionStageRequest) (*Snapshot, error) {
	if !req.Stage.IsValid() || !IsProductionTarget(req.Stage) {
		return nil, fmt.Errorf("%w: %q is not a production stage", ErrIllegalTransition, req.Stage)
	}

	order, err := s.transition(ctx, actor, orderID, req.Stage, req.Note, func(o *Order) error {
		now := s.now()
		switch req.Stage {
		case StageInProduction:
			if o.AssignedDriver != nil {
				return ErrDriverAssigned
			}
			o.ProductionStartedAt = &now
		case StageReadyForDelivery:
			o.ProductionCompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Stage == StageReadyForDelivery {
		s.poolAdd(ctx, order)
	}
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// PickupOrder claims the order for a courier. The claim is one conditional
// update; under concurrent attempts exactly one caller wins and every loser
// gets ErrDriverConflict with nothing written.
func (s *Service) PickupOrder(ctx context.Context, actor shared.Actor, orderID, driverID int64) (*Snapshot, error) {
	if driverID != actor.ID {
		if err := s.authorize(actor, shared.PermAdminOverride); err != nil {
			return nil, ErrDriverMismatch
		}
	} else if err := s.authorize(actor, shared.PermStagePickup); err != nil {
		return nil, err
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		claimed, err := tx.ClaimForDriver(ctx, orderID, driverID, s.now())
		if err != nil {
			return err
		}
		if !claimed {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Stage == StageOutForDelivery || o.AssignedDriver != nil {
				return ErrDriverConflict
			}
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Stage, StageOutForDelivery)
		}
		if err := tx.InsertStageLog(ctx, &StageLog{
			OrderID:   orderID,
			FromStage: StageReadyForDelivery,
			ToStage:   StageOutForDelivery,
			ActorID:   actor.ID,
			At:        s.now(),
		}); err != nil {
			return err
		}
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDriverConflict) {
			s.metrics.ObservePickupConflict()
		}
		return nil, err
	}

	s.poolRemove(ctx, orderID)
	s.recordAudit(ctx, actor, "order.pickup", orderID, map[string]any{"driver_id": driverID})
	s.publishStage(ctx, order, StageReadyForDelivery, StageOutForDelivery, actor.ID, "")
	s.metrics.ObserveStageTransition(string(StageOutForDelivery))

	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// MarkDelivered records arrival at the client. Only the holding driver may
// do this.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, orderID int64, note *string) (*Snapshot, error) {
	order, err := s.transition(ctx, actor, orderID, StageDelivered, note, func(o *Order) error {
		if err := s.requireHolder(actor, o); err != nil {
			return err
		}
		now := s.now()
		o.DeliveredAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// BeginSettlement moves the delivered order into settlement where returns,
// payments and proofs are recorded.
func (s *Service) BeginSettlement(ctx context.Context, actor shared.Actor, orderID int64, note *string) (*Snapshot, error) {
	order, err := s.transition(ctx, actor, orderID, StageSettlement, note, func(o *Order) error {
		return s.requireHolder(actor, o)
	})
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// CompleteOrder closes the workflow. The financial status is recomputed and
// persisted so the stored value matches the calculator at close time.
func (s *Service) CompleteOrder(ctx context.Context, actor shared.Actor, orderID int64) (*Snapshot, error) {
	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from := o.Stage
		perm, legal := RequiredPermission(from, StageCompleted)
		if !legal {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, StageCompleted)
		}
		if !rbac.Can(actor.Role, perm) {
			return ErrRoleNotAllowed
		}
		if actor.Role == shared.RoleDelivery {
			if err := s.requireHolder(actor, o); err != nil {
				return err
			}
		}

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		now := s.now()
		o.CompletedAt = &now
		o.Stage = StageCompleted
		if err := tx.UpdateStage(ctx, o, from); err != nil {
			return err
		}
		if err := tx.InsertStageLog(ctx, &StageLog{
			OrderID:   o.ID,
			FromStage: from,
			ToStage:   StageCompleted,
			ActorID:   actor.ID,
			At:        now,
		}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.complete", orderID, map[string]any{
		"financial_status": string(order.Financial),
	})
	s.publishStage(ctx, order, StageSettlement, StageCompleted, actor.ID, "")
	s.metrics.ObserveStageTransition(string(StageCompleted))

	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// AdminResetDriver is the audited escape hatch: it sends an out_for_delivery
// order back to the ready pool and clears the driver, for when a courier is
// unreachable.
func (s *Service) AdminResetDriver(ctx context.Context, actor shared.Actor, orderID int64, reason string) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermAdminOverride); err != nil {
		return nil, err
	}

	var order *Order
	var previousDriver *int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Stage != StageOutForDelivery {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Stage, StageReadyForDelivery)
		}
		previousDriver = o.AssignedDriver
		if err := tx.ResetDriver(ctx, o.ID); err != nil {
			return err
		}
		if err := tx.InsertStageLog(ctx, &StageLog{
			OrderID:   o.ID,
			FromStage: StageOutForDelivery,
			ToStage:   StageReadyForDelivery,
			ActorID:   actor.ID,
			Note:      &reason,
			At:        s.now(),
		}); err != nil {
			return err
		}
		o.Stage = StageReadyForDelivery
		o.AssignedDriver = nil
		o.PickedUpAt = nil
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"reason": reason}
	if previousDriver != nil {
		meta["previous_driver"] = *previousDriver
	}
	s.recordAudit(ctx, actor, "order.reset_driver", orderID, meta)
	s.publishStage(ctx, order, StageOutForDelivery, StageReadyForDelivery, actor.ID, reason)
	s.metrics.ObserveStageTransition(string(StageReadyForDelivery))
	s.poolAdd(ctx, order)

	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// transition runs a generic guarded stage move: load for update, check the
// transition table and the actor's role, apply mutate, persist conditionally
// and log. Post-commit effects stay with the caller.
func (s *Service) transition(ctx context.Context, actor shared.Actor, orderID int64, to Stage, note *string, mutate func(*Order) error) (*Order, error) {
	var order *Order
	var from Stage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Stage
		perm, legal := RequiredPermission(from, to)
		if !legal {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
		if !rbac.Can(actor.Role, perm) {
			return ErrRoleNotAllowed
		}
		if mutate != nil {
			if err := mutate(o); err != nil {
				return err
			}
		}
		o.Stage = to
		if err := tx.UpdateStage(ctx, o, from); err != nil {
			return err
		}
		if err := tx.InsertStageLog(ctx, &StageLog{
			OrderID:   o.ID,
			FromStage: from,
			ToStage:   to,
			ActorID:   actor.ID,
			Note:      note,
			At:        s.now(),
		}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	var noteText string
	if note != nil {
		noteText = *note
	}
	s.recordAudit(ctx, actor, "order.stage."+string(to), orderID, map[string]any{"from": string(from)})
	s.publishStage(ctx, order, from, to, actor.ID, noteText)
	s.metrics.ObserveStageTransition(string(to))
	return order, nil
}

func (s *Service) requireHolder(actor shared.Actor, o *Order) error {
	if actor.Role == shared.RoleAdmin {
		return nil
	}
	if !o.HeldBy(actor.ID) {
		return ErrNotOrderHolder
	}
	return nil
}

func (s *Service) authorize(actor shared.Actor, perm string) error {
	if !actor.Known() {
		return ErrRoleNotAllowed
	}
	if !rbac.Can(actor.Role, perm) {
		return ErrRoleNotAllowed
	}
	return nil
}

// validateItems checks the order lines and returns product names for the
// lines it resolved, used to label stock errors.
func (s *Service) validateItems(ctx context.Context, items []CreateItemReq) (map[int64]string, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	names := make(map[int64]string, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, it.ProductID)
		}
		if it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidUnitPrice, it.ProductID)
		}
		if seen[it.ProductID] {
			return nil, fmt.Errorf("%w: product %d", ErrDuplicateItem, it.ProductID)
		}
		seen[it.ProductID] = true
		if s.catalog != nil {
			p, err := s.catalog.GetByID(ctx, it.ProductID)
			if err != nil {
				return nil, err
			}
			names[it.ProductID] = p.Name
		}
	}
	return names, nil
}

// snapshot builds the order card and, when a catalog is wired, resolves
// product names for the line items. Name lookup failures degrade to an
// undecorated snapshot.
func (s *Service) snapshot(ctx context.Context, o *Order) Snapshot {
	snap := NewSnapshot(o)
	if s.catalog == nil || len(o.Items) == 0 {
		return snap
	}
	ids := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	names, err := s.catalog.NamesByID(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "product name lookup failed", "order_id", o.ID, "error", err)
		return snap
	}
	snap.ProductNames = names
	return snap
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "action", action, "order_id", orderID, "error", err)
	}
}

func (s *Service) publishStage(ctx context.Context, o *Order, from, to Stage, actorID int64, note string) {
	if s.events == nil {
		return
	}
	s.events.PublishStageChanged(ctx, StageChangedEvent{
		EventID:       uuid.New(),
		OrderID:       o.ID,
		InvoiceNumber: o.InvoiceNumber,
		From:          from,
		To:            to,
		ActorID:       actorID,
		Note:          note,
		At:            s.now(),
	})
}

func (s *Service) poolAdd(ctx context.Context, o *Order) {
	if s.pool == nil {
		return
	}
	readyAt := s.now()
	if o.ProductionCompletedAt != nil {
		readyAt = *o.ProductionCompletedAt
	}
	if err := s.pool.Add(ctx, o.ID, readyAt); err != nil {
		s.logger.WarnContext(ctx, "ready pool add failed", "order_id", o.ID, "error", err)
	}
}

func (s *Service) poolRemove(ctx context.Context, orderID int64) {
	if s.pool == nil {
		return
	}
	if err := s.pool.Remove(ctx, orderID); err != nil {
		s.logger.WarnContext(ctx, "ready pool remove failed", "order_id", orderID, "error", err)
	}
}
