package fulfillment

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sweetline-erp/sweetline-erp/internal/catalog"
	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
	"github.com/sweetline-erp/sweetline-erp/internal/platform/httpx"
	"github.com/sweetline-erp/sweetline-erp/internal/rbac"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

// Handler exposes the fulfillment engine over HTTP.
type Handler struct {
	svc      *Service
	rbac     rbac.Middleware
	idem     *shared.IdempotencyStore
	validate *validator.Validate
}

// NewHandler builds the HTTP handler. idem may be nil; order creation then
// runs without Idempotency-Key support.
func NewHandler(svc *Service, mw rbac.Middleware, idem *shared.IdempotencyStore) *Handler {
	return &Handler{svc: svc, rbac: mw, idem: idem, validate: validator.New()}
}

// MountRoutes registers the order routes. Route-level permission groups are
// the first gate; the service re-checks against the transition table.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		view := h.rbac.RequireAny(shared.PermOrderView)

		r.With(view).Get("/", h.list)
		r.With(h.rbac.RequireAny(shared.PermOrderCreate)).Post("/", h.create)
		r.With(view).Get("/ready", h.listReady)
		r.With(view).Get("/invoice/{invoiceNumber}", h.getByInvoice)

		r.Route("/{orderID}", func(r chi.Router) {
			r.With(view).Get("/", h.get)
			r.With(view).Get("/history", h.history)

			r.With(h.rbac.RequireAny(shared.PermStageProduction)).Post("/production", h.setProductionStage)
			r.With(h.rbac.RequireAny(shared.PermStagePickup, shared.PermAdminOverride)).Post("/pickup", h.pickup)
			r.With(h.rbac.RequireAny(shared.PermStageDeliver)).Post("/delivered", h.markDelivered)
			r.With(h.rbac.RequireAny(shared.PermStageDeliver)).Post("/settlement", h.beginSettlement)
			r.With(h.rbac.RequireAny(shared.PermStageComplete)).Post("/complete", h.complete)
			r.With(h.rbac.RequireAny(shared.PermAdminOverride)).Post("/reset-driver", h.resetDriver)

			r.With(h.rbac.RequireAny(shared.PermDeliveryAdjust)).Put("/delivered-items", h.adjustDelivered)
			r.With(h.rbac.RequireAny(shared.PermReturnsApply)).Post("/returns", h.applyReturns)
			r.With(h.rbac.RequireAny(shared.PermPaymentMethod)).Put("/payment-method", h.paymentMethod)
			r.With(h.rbac.RequireAny(shared.PermPaymentRecord)).Post("/payments", h.recordPayment)
			r.With(h.rbac.RequireAny(shared.PermProofUpload)).Post("/proof", h.uploadProof)
			r.With(h.rbac.RequireAny(shared.PermProofReview)).Post("/proof/approve", h.approveProof)
			r.With(h.rbac.RequireAny(shared.PermProofReview)).Post("/proof/reject", h.rejectProof)
		})
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "fulfillment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
				return
			}
			respondError(w, err)
			return
		}
	}

	snap, err := h.svc.CreateOrder(r.Context(), shared.ActorFromContext(r.Context()), req)
	if err != nil {
		// free the key so the client can retry after fixing the request
		if idemKey != "" && h.idem != nil {
			_ = h.idem.Delete(r.Context(), idemKey)
		}
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.GetOrder(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) getByInvoice(w http.ResponseWriter, r *http.Request) {
	invoice := chi.URLParam(r, "invoiceNumber")
	snap, err := h.svc.GetOrderByInvoice(r.Context(), shared.ActorFromContext(r.Context()), invoice)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	resp, err := h.svc.List(r.Context(), shared.ActorFromContext(r.Context()), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	logs, err := h.svc.History(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) listReady(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.ListReady(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": snaps})
}

func (h *Handler) setProductionStage(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req ProductionStageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.SetProductionStage(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	req := PickupRequest{DriverID: actor.ID}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	snap, err := h.svc.PickupOrder(r.Context(), actor, id, req.DriverID)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	note := optionalNote(r)
	snap, err := h.svc.MarkDelivered(r.Context(), shared.ActorFromContext(r.Context()), id, note)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) beginSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	note := optionalNote(r)
	snap, err := h.svc.BeginSettlement(r.Context(), shared.ActorFromContext(r.Context()), id, note)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.CompleteOrder(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) resetDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req ResetDriverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.AdminResetDriver(r.Context(), shared.ActorFromContext(r.Context()), id, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) adjustDelivered(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req AdjustDeliveredRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.AdjustDeliveredItems(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) applyReturns(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req ApplyReturnsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.ApplyReturns(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) paymentMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req PaymentMethodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.ChoosePaymentMethod(r.Context(), shared.ActorFromContext(r.Context()), id, req.Method)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.RecordPayment(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) uploadProof(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req UploadProofRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.svc.UploadProof(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) approveProof(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.ApproveProof(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) rejectProof(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.RejectProof(r.Context(), shared.ActorFromContext(r.Context()), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return id, true
}

func optionalNote(r *http.Request) *string {
	if r.ContentLength <= 0 {
		return nil
	}
	var body struct {
		Note *string `json:"note"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		return nil
	}
	return body.Note
}

func parseListRequest(r *http.Request) (ListRequest, error) {
	var req ListRequest
	q := r.URL.Query()

	if v := q.Get("client_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid client_id %q", v)
		}
		req.ClientID = &id
	}
	if v := q.Get("stage"); v != "" {
		stage := Stage(v)
		if !stage.IsValid() {
			return req, fmt.Errorf("invalid stage %q", v)
		}
		req.Stage = &stage
	}
	if v := q.Get("financial_status"); v != "" {
		status := FinancialStatus(v)
		req.Status = &status
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return req, fmt.Errorf("invalid date_from %q", v)
		}
		req.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return req, fmt.Errorf("invalid date_to %q", v)
		}
		req.DateTo = &t
	}
	if v := q.Get("q"); v != "" {
		req.Search = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid limit %q", v)
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid offset %q", v)
		}
		req.Offset = n
	}
	return req, nil
}

// respondError translates domain errors into the shared problem mapping.
func respondError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, mapDomainError(err))
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrRoleNotAllowed),
		errors.Is(err, ErrNotOrderHolder),
		errors.Is(err, ErrDriverMismatch):
		return fmt.Errorf("%w: %s", httpx.ErrForbidden, err)
	case errors.Is(err, ErrDriverConflict),
		errors.Is(err, ErrStaleStage):
		return fmt.Errorf("%w: %s", httpx.ErrConflict, err)
	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrOrderReadOnly),
		errors.Is(err, ErrDriverAssigned),
		errors.Is(err, ErrOverReturn),
		errors.Is(err, ErrOverDelivery),
		errors.Is(err, ErrUnderReturned),
		errors.Is(err, ErrDuplicateProof),
		errors.Is(err, ErrNoProof),
		errors.Is(err, ErrProofNotAwaiting),
		errors.Is(err, inventory.ErrInsufficientStock):
		return fmt.Errorf("%w: %s", httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrEmptyItems),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidUnitPrice),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrUnknownItem),
		errors.Is(err, ErrDuplicateItem),
		errors.Is(err, inventory.ErrInvalidQuantity):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	default:
		return err
	}
}
