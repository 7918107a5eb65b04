// Package api exposes the back-office operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/example/retail-backoffice/internal/api/middleware"
	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/auth"
	"github.com/example/retail-backoffice/internal/flashsale"
	"github.com/example/retail-backoffice/internal/inventory"
	"github.com/example/retail-backoffice/internal/payment"
	"github.com/example/retail-backoffice/internal/product"
	"github.com/example/retail-backoffice/internal/resilience"
	"github.com/example/retail-backoffice/internal/rma"
	"github.com/example/retail-backoffice/internal/sales"
)

// Handlers wires the HTTP surface to the domain engines.
type Handlers struct {
	products product.Store
	engine   *rma.Engine
	flash    *flashsale.Controller
	auditLog audit.Log
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
}

func NewHandlers(products product.Store, engine *rma.Engine, flash *flashsale.Controller, auditLog audit.Log, breaker *resilience.CircuitBreaker, limiter *resilience.RateLimiter) *Handlers {
	return &Handlers{
		products: products,
		engine:   engine,
		flash:    flash,
		auditLog: auditLog,
		breaker:  breaker,
		limiter:  limiter,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, flashsale.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, payment.ErrDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrUnavailable), errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, rma.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, rma.ErrRMANotFound),
		errors.Is(err, sales.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, rma.ErrInvalidRequest),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, product.ErrProductInactive),
		errors.Is(err, flashsale.ErrInvalidPurchase),
		errors.Is(err, flashsale.ErrInvalidSale):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Products

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		PriceCents int    `json:"price_cents"`
		Stock      int    `json:"stock"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.PriceCents <= 0 || req.Stock < 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "name, positive price and non-negative stock are required"})
		return
	}

	p := product.New(req.Name, req.PriceCents, req.Stock)
	if err := h.products.Put(r.Context(), p); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// Flash sales

func (h *Handlers) ScheduleFlashSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceCents int       `json:"price_cents"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.flash.ScheduleSale(r.Context(), r.PathValue("id"), req.PriceCents, req.Start, req.End); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) EndFlashSale(w http.ResponseWriter, r *http.Request) {
	if err := h.flash.EndSale(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purchases

func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
		PayMethod string `json:"pay_method"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	actor := middleware.ActorID(r.Context())
	sale, err := h.flash.Purchase(r.Context(), actor, req.ProductID, req.Quantity, req.PayMethod)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.limiter.Remaining(actor)))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

// Returns

func (h *Handlers) SubmitRMA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SaleID   string          `json:"sale_id"`
		Items    []rma.ItemInput `json:"items"`
		Reason   string          `json:"reason"`
		Evidence string          `json:"evidence"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	created, err := h.engine.Submit(r.Context(), middleware.ActorID(r.Context()), req.SaleID, req.Items, req.Reason, req.Evidence)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListRMAs(w http.ResponseWriter, r *http.Request) {
	requests, err := h.engine.ListByUser(r.Context(), middleware.ActorID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

// authorizeRMA loads the request and enforces that customers only touch
// their own returns; staff pass through. A mismatch reads as not found so
// request IDs are not probeable.
func (h *Handlers) authorizeRMA(r *http.Request) (*rma.Request, error) {
	req, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if claims, ok := middleware.ActorFromContext(r.Context()); ok {
		if claims.Role == auth.RoleCustomer && req.UserID != claims.UserID {
			return nil, rma.ErrRMANotFound
		}
	}
	return req, nil
}

func (h *Handlers) GetRMA(w http.ResponseWriter, r *http.Request) {
	req, err := h.authorizeRMA(r)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) GetRMAAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auditLog.Entries(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) TransitionRMA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status rma.Status `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.engine.Transition(r.Context(), r.PathValue("id"), req.Status, middleware.ActorID(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetRMAShipping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"tracking_number"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if _, err := h.authorizeRMA(r); err != nil {
		respondError(w, err)
		return
	}

	if err := h.engine.SetShippingInfo(r.Context(), r.PathValue("id"), req.Carrier, req.TrackingNumber, middleware.ActorID(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CompleteRMAInspection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result    rma.InspectionResult `json:"result"`
		Resalable bool                 `json:"resalable"`
		Notes     string               `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.engine.CompleteInspection(r.Context(), r.PathValue("id"), req.Result, req.Resalable, req.Notes, middleware.ActorID(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetRMADisposition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Disposition       rma.Disposition `json:"disposition"`
		RefundAmountCents int             `json:"refund_amount_cents"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.engine.SetDisposition(r.Context(), r.PathValue("id"), req.Disposition, middleware.ActorID(r.Context()), req.RefundAmountCents); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CancelRMA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = decode(r, &req)

	if _, err := h.authorizeRMA(r); err != nil {
		respondError(w, err)
		return
	}

	if err := h.engine.Cancel(r.Context(), r.PathValue("id"), middleware.ActorID(r.Context()), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Operations

func (h *Handlers) BreakerMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.breaker.Metrics())
}

func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.breaker.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LimiterRemaining(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	respondJSON(w, http.StatusOK, map[string]any{
		"identifier": id,
		"remaining":  h.limiter.Remaining(id),
	})
}
