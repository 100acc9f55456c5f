package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/rewards-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса ваучеров.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", h.Ping)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/vouchers", func(r chi.Router) {
		r.Get("/", h.ListVouchers)
		r.Get("/wheel", h.GetWheel)
		r.Get("/wheel-config", h.GetWheelConfig)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/spin", h.Spin)
			r.Post("/claim", h.Claim)
			r.Get("/mine", h.ListMine)
		})

		r.Get("/{id}", h.GetVoucher)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.AdminMiddleware)

		r.Post("/vouchers", h.CreateVoucher)
		r.Post("/vouchers/assign", h.Assign)
		r.Put("/vouchers/{id}", h.UpdateVoucher)
		r.Delete("/vouchers/{id}", h.DeleteVoucher)

		r.Post("/allocations/{id}/use", h.Consume)
		r.Post("/allocations/{id}/unuse", h.Unconsume)

		r.Put("/wheel-config", h.UpdateWheelConfig)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
