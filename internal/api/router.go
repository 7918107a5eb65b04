package api

import (
	"log"
	"net/http"

	"github.com/example/retail-backoffice/internal/api/middleware"
	"github.com/example/retail-backoffice/internal/auth"
)

type RouterConfig struct {
	Handlers     *Handlers
	AuthHandlers *AuthHandlers
	Tokens       *auth.TokenService
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	staff := middleware.RequireRole(auth.RoleAdmin, auth.RoleWarehouse)
	admin := middleware.RequireRole(auth.RoleAdmin)
	customer := middleware.RequireRole(auth.RoleCustomer)

	protected := http.NewServeMux()

	// Catalog
	protected.HandleFunc("GET /products", h.ListProducts)
	protected.HandleFunc("GET /products/{id}", h.GetProduct)
	protected.Handle("POST /products", admin(http.HandlerFunc(h.CreateProduct)))
	protected.Handle("POST /products/{id}/flash-sale", admin(http.HandlerFunc(h.ScheduleFlashSale)))
	protected.Handle("DELETE /products/{id}/flash-sale", admin(http.HandlerFunc(h.EndFlashSale)))

	// Purchases
	protected.Handle("POST /purchases", customer(http.HandlerFunc(h.Purchase)))

	// Returns
	protected.Handle("POST /rmas", customer(http.HandlerFunc(h.SubmitRMA)))
	protected.Handle("GET /rmas", customer(http.HandlerFunc(h.ListRMAs)))
	protected.HandleFunc("GET /rmas/{id}", h.GetRMA)
	protected.Handle("GET /rmas/{id}/audit", staff(http.HandlerFunc(h.GetRMAAudit)))
	protected.Handle("POST /rmas/{id}/transition", staff(http.HandlerFunc(h.TransitionRMA)))
	protected.HandleFunc("POST /rmas/{id}/shipping", h.SetRMAShipping)
	protected.Handle("POST /rmas/{id}/inspection", staff(http.HandlerFunc(h.CompleteRMAInspection)))
	protected.Handle("POST /rmas/{id}/disposition", admin(http.HandlerFunc(h.SetRMADisposition)))
	protected.HandleFunc("POST /rmas/{id}/cancel", h.CancelRMA)

	// Operations
	protected.Handle("GET /admin/breaker", admin(http.HandlerFunc(h.BreakerMetrics)))
	protected.Handle("POST /admin/breaker/reset", admin(http.HandlerFunc(h.ResetBreaker)))
	protected.Handle("GET /admin/limiter/{id}", admin(http.HandlerFunc(h.LimiterRemaining)))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", cfg.AuthHandlers.IssueToken)
	mux.Handle("/", middleware.Authenticate(cfg.Tokens)(protected))

	return withLogging(mux)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
