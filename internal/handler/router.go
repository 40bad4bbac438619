package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/dewcredit/creditcase-system/internal/middleware"
	"github.com/dewcredit/creditcase-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware портала.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/plans", h.GetPlans)
	r.Post("/api/stripe/webhook", h.StripeWebhook)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)

			r.Post("/checkout", h.CreateCheckout)

			r.Get("/case", h.GetCase)
			r.Get("/payments", h.GetPayments)

			r.Get("/documents", h.GetDocuments)
			r.Post("/documents", h.UploadDocument)

			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.SendMessage)

			r.Get("/notifications", h.GetNotifications)
			r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireRole(model.RoleAdmin, model.RoleAgent))

		r.Get("/cases", h.ListCases)
		r.Patch("/cases/{caseID}", h.UpdateCase)
		r.Post("/cases/{caseID}/timer/pause", h.PauseTimer)
		r.Post("/cases/{caseID}/timer/resume", h.ResumeTimer)

		r.Get("/notifications", h.GetAdminNotifications)
		r.Post("/messages", h.SendAdminMessage)
		r.Post("/documents/{documentID}/verify", h.VerifyDocument)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
