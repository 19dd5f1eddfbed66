package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/accessgate/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доступа.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Recovery(h.logger))
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.access.Middleware)

		r.Get("/catalog", h.GetCatalog)
		r.Get("/balance", h.GetBalance)

		r.Post("/payments", h.Purchase)
		r.Get("/payments/state", h.GetPaymentState)

		r.With(h.licenseLimiter.Middleware).Post("/licenses", h.RedeemLicense)
		r.Get("/licenses", h.GetLicenses)

		r.Get("/trial", h.GetTrial)
		r.Post("/trial", h.StartTrial)

		r.Get("/access", h.GetAccess)

		r.Route("/share", func(r chi.Router) {
			r.Post("/init", h.ShareInit)
			r.Post("/encrypt", h.Encrypt)
			r.Post("/send", h.Send)
			r.Post("/export", h.Export)
			r.Post("/decrypt", h.Decrypt)
			r.Get("/inbox", h.GetInbox)
		})
	})

	if h.peer != nil {
		r.Get("/p2p/{peerID}", h.peer.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
