/**
 * @description
 * This file sets up the HTTP router for the pix-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, panic recovery, CORS and authentication.
 *
 * Session endpoints are not behind the JWT middleware: the session manager
 * itself validates tokens against the auth platform, and the check endpoint
 * must answer even for stale or missing tokens.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the mobile app origin.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the pix-service.
func NewRouter(h *PixHandlers, jwksURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Session lifecycle endpoints
	r.Route("/session", func(r chi.Router) {
		r.Post("/login", h.LoginHandler)
		r.Post("/check", h.CheckSessionHandler)
		r.Post("/activity", h.ActivityHandler)
		r.Post("/app-state", h.AppStateHandler)
		r.Post("/logout", h.LogoutHandler)
	})

	// Payment and PIN endpoints require a validated JWT.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payments/decode", h.DecodePaymentHandler)
		r.Post("/payments", h.SubmitPaymentHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)

		r.Post("/pin", h.CreatePINHandler)
		r.Get("/pin/exists", h.PINExistsHandler)

		r.Post("/internal/reconcile", h.ReconcileHandler)
	})

	return r
}
