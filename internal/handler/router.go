package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/freelance-dashboard/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware панели фрилансера.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(h.guard.Middleware)

	r.Get("/healthz", h.Health)

	r.Get(custommiddleware.LoginPath, h.LoginPage)
	r.Get(custommiddleware.SignupPath, h.SignupPage)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/signup", h.Signup)
		r.Post("/logout", h.Logout)
	})

	r.Get(custommiddleware.DashboardPath, h.DashboardPage)
	r.Get("/transactions", h.TransactionsPage)
	r.Get("/reports", h.ReportsPage)
	r.Get("/reports/export.xlsx", h.ExportTransactions)
	r.Get("/parametres", h.SettingsPage)
	r.Post("/parametres", h.UpdateSettings)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Post("/dashboard/refresh", h.RefreshDashboard)

		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions", h.AddTransaction)
		r.Delete("/transactions/{id}", h.DeleteTransaction)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
