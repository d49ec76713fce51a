package inventory

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sweetline-erp/sweetline-erp/internal/platform/httpx"
	"github.com/sweetline-erp/sweetline-erp/internal/rbac"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

// Handler exposes admin stock views and corrections over HTTP.
type Handler struct {
	svc      *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(svc *Service, mw rbac.Middleware) *Handler {
	return &Handler{svc: svc, rbac: mw, validate: validator.New()}
}

type adjustmentRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required"`
	Note      string  `json:"note" validate:"required,max=500"`
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermStockView)).Get("/{productID}", h.getBalance)
		r.With(h.rbac.RequireAny(shared.PermStockView)).Get("/movements", h.listMovements)
		r.With(h.rbac.RequireAny(shared.PermStockAdjust)).Post("/adjustments", h.postAdjustment)
	})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	balance, err := h.svc.GetBalance(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			httpx.JSON(w, http.StatusOK, Balance{ProductID: productID})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	var filter MovementFilter
	q := r.URL.Query()
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid limit")
			return
		}
		filter.Limit = n
	}

	movements, err := h.svc.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	balance, err := h.svc.PostAdjustment(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Note:      req.Note,
		ActorID:   actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
		case errors.Is(err, ErrInvalidQuantity):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}
