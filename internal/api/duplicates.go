/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mikl0s/PLM/internal/auth"
	"github.com/mikl0s/PLM/internal/dedupe"
	"github.com/mikl0s/PLM/internal/models"
)

func (a *API) handleDuplicatesList(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var statusFilter *models.MatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.MatchStatus(raw)
		switch status {
		case models.MatchPending, models.MatchConfirmed, models.MatchRejected:
			statusFilter = &status
		default:
			writeError(w, http.StatusBadRequest, "invalid_status_filter")
			return
		}
	}

	matches, err := a.matches.ListForUser(r.Context(), claims.UserID, statusFilter)
	if err != nil {
		a.logger.Error().Err(err).Msg("list duplicates failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *API) handleDuplicateReview(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req struct {
		Status models.MatchStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	err := a.matches.UpdateStatus(r.Context(), chi.URLParam(r, "matchID"), claims.UserID, req.Status)
	switch {
	case errors.Is(err, dedupe.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status")
	case errors.Is(err, dedupe.ErrMatchNotFound):
		writeError(w, http.StatusNotFound, "match_not_found")
	case errors.Is(err, dedupe.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, "already_reviewed")
	case err != nil:
		a.logger.Error().Err(err).Msg("review update failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
	}
}
