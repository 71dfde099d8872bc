package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/bagstore/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.With(custommiddleware.Idempotency(h.idempotencyStore, custommiddleware.DefaultIdempotencyTTL, h.logger)).
			Post("/create-order", h.CreateOrder)
		r.Post("/cancel-order", h.CancelOrder)

		r.Get("/update-order-status", h.UpdateOrderStatus)
		r.Post("/update-order-status", h.UpdateOrderStatus)

		r.Post("/receipt", h.CaptureReceipt)

		r.Get("/orders", h.GetOrders)
		r.Get("/user/points", h.GetPoints)
		r.Get("/notifications", h.GetNotifications)
		r.Post("/reviews", h.CreateReview)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
