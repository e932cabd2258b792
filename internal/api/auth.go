/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/auth"
	"github.com/mikl0s/PLM/internal/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func (a *API) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).Where("username = ?", req.Username).First(&user).Error
	if err != nil || !auth.CheckPassword(user.Password, req.Password) {
		// Same answer for unknown user and wrong password.
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}, tokenTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userResponse{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin},
	})
}

// handleAuthRegister creates a user. The first account ever created becomes
// admin and needs no auth; afterwards only admins may register users.
func (a *API) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username_and_password_required")
		return
	}

	ctx := r.Context()
	var userCount int64
	if err := a.db.WithContext(ctx).Model(&models.User{}).Count(&userCount).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	isFirstUser := userCount == 0
	if !isFirstUser {
		claims, err := a.claimsFromRequest(r)
		if err != nil || !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin_required")
			return
		}
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash_error")
		return
	}

	user := models.User{
		ID:       uuid.NewString(),
		Username: req.Username,
		Password: hashed,
		IsAdmin:  isFirstUser,
	}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") {
			writeError(w, http.StatusConflict, "username_taken")
			return
		}
		a.logger.Error().Err(err).Msg("user create failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
}

func (a *API) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var user models.User
	if err := a.db.WithContext(r.Context()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		writeError(w, http.StatusUnauthorized, "unknown_user")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
}

// claimsFromRequest parses the bearer token on routes mounted outside the
// auth middleware group.
func (a *API) claimsFromRequest(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, errors.New("missing bearer token")
	}
	return auth.Parse(a.jwtSecret, strings.TrimPrefix(header, prefix))
}
