/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/mikl0s/PLM/internal/scanner"
)

// handleScanRun kicks off a full scan in the background and returns
// immediately; progress is visible through /scan/status.
func (a *API) handleScanRun(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := a.scanner.RunOnce(context.Background()); err != nil && !errors.Is(err, scanner.ErrScanInProgress) {
			a.logger.Error().Err(err).Msg("manual scan failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan_started"})
}

func (a *API) handleScanRematch(w http.ResponseWriter, r *http.Request) {
	created, err := a.scanner.Rematch(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("rematch failed")
		writeError(w, http.StatusInternalServerError, "rematch_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"matches_created": created})
}

func (a *API) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	run, err := a.scanner.LatestRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if run == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": "never_run"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}
