/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the REST surface of the deduplication engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/auth"
	"github.com/mikl0s/PLM/internal/dedupe"
	"github.com/mikl0s/PLM/internal/scanner"
	"github.com/mikl0s/PLM/internal/servers"
)

// tokenTTL is the lifetime of issued session tokens.
const tokenTTL = 24 * time.Hour

// SignInFunc exchanges media-source account credentials for an auth token.
// Satisfied by plex.SignIn; tests substitute a stub.
type SignInFunc func(ctx context.Context, username, password string, timeout time.Duration) (string, error)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	registry  *servers.Service
	matches   *dedupe.Store
	scanner   *scanner.Service
	plexAuth  SignInFunc
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, registry *servers.Service, matches *dedupe.Store, scan *scanner.Service, plexAuth SignInFunc, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		registry:  registry,
		matches:   matches,
		scanner:   scan,
		plexAuth:  plexAuth,
		logger:    logger,
	}
}

// Routes mounts all endpoints onto r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Post("/auth/login", a.handleAuthLogin)
		r.Post("/auth/register", a.handleAuthRegister)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/auth/me", a.handleAuthMe)

			pr.Route("/plex", func(r chi.Router) {
				r.Post("/token", a.handlePlexToken)
				r.Route("/servers", func(r chi.Router) {
					r.Get("/", a.handleServersList)
					r.Post("/", a.handleServersCreate)
					r.Route("/{serverID}", func(r chi.Router) {
						r.Get("/", a.handleServersGet)
						r.Put("/", a.handleServersUpdate)
						r.Delete("/", a.handleServersDelete)
					})
				})
			})

			pr.Route("/duplicates", func(r chi.Router) {
				r.Get("/", a.handleDuplicatesList)
				r.Patch("/{matchID}", a.handleDuplicateReview)
			})

			pr.Route("/scan", func(r chi.Router) {
				r.With(a.requireAdmin).Post("/run", a.handleScanRun)
				r.With(a.requireAdmin).Post("/rematch", a.handleScanRematch)
				r.Get("/status", a.handleScanStatus)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin allows only admin accounts through.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
