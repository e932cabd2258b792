/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package servers manages the per-user media server registry.
package servers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/cache"
	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/models"
)

var (
	// ErrNotFound covers both unknown server ids and servers owned by
	// someone else.
	ErrNotFound = errors.New("server not found")

	// ErrInvalidInput is returned for missing required fields.
	ErrInvalidInput = errors.New("name, url and token are required")
)

// Service owns PlexServer rows. All operations are scoped to the owning user;
// a server id from another tenant behaves like a missing row.
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService constructs the registry service. cache and bus may be nil.
func NewService(db *gorm.DB, c *cache.Cache, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		cache:  c,
		bus:    bus,
		logger: logger.With().Str("component", "servers").Logger(),
	}
}

// Create registers a media server for userID.
func (s *Service) Create(ctx context.Context, userID, name, url, token string) (*models.PlexServer, error) {
	name = strings.TrimSpace(name)
	url = models.NormalizeURL(strings.TrimSpace(url))
	if name == "" || url == "" || token == "" {
		return nil, ErrInvalidInput
	}

	server := &models.PlexServer{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		URL:    url,
		Token:  token,
	}
	if err := s.db.WithContext(ctx).Create(server).Error; err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	s.invalidate(ctx, userID, events.EventServerCreated, server.ID)
	s.logger.Info().Str("server_id", server.ID).Str("name", name).Msg("server registered")
	return server, nil
}

// List returns the caller's servers, cached for a short window.
func (s *Service) List(ctx context.Context, userID string) ([]models.PlexServer, error) {
	if s.cache != nil {
		if servers, ok := s.cache.ServerList(ctx, userID); ok {
			return servers, nil
		}
	}

	var list []models.PlexServer
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	if s.cache != nil {
		s.cache.SetServerList(ctx, userID, list)
	}
	return list, nil
}

// Get loads one of the caller's servers.
func (s *Service) Get(ctx context.Context, userID, serverID string) (*models.PlexServer, error) {
	var server models.PlexServer
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", serverID, userID).
		First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load server: %w", err)
	}
	return &server, nil
}

// Update replaces a server's connection details. Empty fields keep their
// current value.
func (s *Service) Update(ctx context.Context, userID, serverID, name, url, token string) (*models.PlexServer, error) {
	server, err := s.Get(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}

	if name = strings.TrimSpace(name); name != "" {
		server.Name = name
	}
	if url = models.NormalizeURL(strings.TrimSpace(url)); url != "" {
		server.URL = url
	}
	if token != "" {
		server.Token = token
	}

	if err := s.db.WithContext(ctx).Save(server).Error; err != nil {
		return nil, fmt.Errorf("update server: %w", err)
	}

	s.invalidate(ctx, userID, events.EventServerUpdated, server.ID)
	return server, nil
}

// Delete removes a server together with its fingerprints and any matches
// referencing them, in one transaction. Matches whose other side lives on a
// different server disappear with the deleted side.
func (s *Service) Delete(ctx context.Context, userID, serverID string) error {
	if _, err := s.Get(ctx, userID, serverID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fingerprintIDs := tx.Model(&models.MediaFingerprint{}).
			Select("id").
			Where("server_id = ?", serverID)

		if err := tx.
			Where("source_fingerprint_id IN (?) OR matched_fingerprint_id IN (?)", fingerprintIDs, fingerprintIDs).
			Delete(&models.DuplicateMatch{}).Error; err != nil {
			return fmt.Errorf("delete matches: %w", err)
		}
		if err := tx.Where("server_id = ?", serverID).Delete(&models.MediaFingerprint{}).Error; err != nil {
			return fmt.Errorf("delete fingerprints: %w", err)
		}
		if err := tx.Where("id = ?", serverID).Delete(&models.PlexServer{}).Error; err != nil {
			return fmt.Errorf("delete server: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID, events.EventServerDeleted, serverID)
	s.logger.Info().Str("server_id", serverID).Msg("server deleted")
	return nil
}

// ForAllUsers returns every registered server across tenants, in stable
// order. Used by the scanner, which walks them sequentially.
func (s *Service) ForAllUsers(ctx context.Context) ([]models.PlexServer, error) {
	var list []models.PlexServer
	if err := s.db.WithContext(ctx).Order("user_id, created_at").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list all servers: %w", err)
	}
	return list, nil
}

func (s *Service) invalidate(ctx context.Context, userID string, eventType events.EventType, serverID string) {
	if s.cache != nil {
		s.cache.InvalidateServerList(ctx, userID)
	}
	if s.bus != nil {
		s.bus.Publish(eventType, events.Payload{
			"server_id": serverID,
			"user_id":   userID,
		})
	}
}
