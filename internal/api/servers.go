/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mikl0s/PLM/internal/auth"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/servers"
)

// plexSignInTimeout bounds the upstream credential exchange.
const plexSignInTimeout = 15 * time.Second

type serverRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

type serverResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Tokens are write-only: they go in via serverRequest and never come back out.
func toServerResponse(s *models.PlexServer) serverResponse {
	return serverResponse{ID: s.ID, Name: s.Name, URL: s.URL}
}

func (a *API) handlePlexToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}

	token, err := a.plexAuth(r.Context(), req.Username, req.Password, plexSignInTimeout)
	if err != nil {
		a.logger.Warn().Err(err).Msg("plex sign-in failed")
		writeError(w, http.StatusUnauthorized, "plex_auth_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleServersList(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	list, err := a.registry.List(r.Context(), claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("list servers failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	resp := make([]serverResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toServerResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleServersCreate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	server, err := a.registry.Create(r.Context(), claims.UserID, req.Name, req.URL, req.Token)
	if err != nil {
		if errors.Is(err, servers.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "name_url_token_required")
			return
		}
		a.logger.Error().Err(err).Msg("create server failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, toServerResponse(server))
}

func (a *API) handleServersGet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	server, err := a.registry.Get(r.Context(), claims.UserID, chi.URLParam(r, "serverID"))
	if err != nil {
		if errors.Is(err, servers.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(server))
}

func (a *API) handleServersUpdate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	server, err := a.registry.Update(r.Context(), claims.UserID, chi.URLParam(r, "serverID"), req.Name, req.URL, req.Token)
	if err != nil {
		if errors.Is(err, servers.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(server))
}

func (a *API) handleServersDelete(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	err := a.registry.Delete(r.Context(), claims.UserID, chi.URLParam(r, "serverID"))
	if err != nil {
		if errors.Is(err, servers.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("delete server failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
