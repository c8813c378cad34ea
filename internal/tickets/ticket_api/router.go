package ticket_api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-ticket-gate/internal/auth"
)

// NewRouter wires the public, gate and admin routes.
func NewRouter(h *Handler, adminToken string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	h.RegisterRoutes(r, adminToken)
	return r
}

// RegisterRoutes registers the ticket routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router, adminToken string) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Get("/tickets/{id}", h.GetTicket)
		r.Get("/tickets/{id}/qr", h.GetTicketQR)
		r.Post("/verify", h.Verify)
		r.Post("/redeem", h.Redeem)

		r.Group(func(r chi.Router) {
			r.Use(auth.StaticBearer(adminToken, h.Logger))
			r.Get("/admin/orders", h.ListOrders)
			if h.Events != nil {
				r.Get("/admin/events", h.StreamEvents)
			}
		})
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
