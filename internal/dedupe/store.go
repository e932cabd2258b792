/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dedupe creates and reviews duplicate matches between stored
// fingerprints. Matches are directional (source -> matched) and tenant-scoped
// through the owning server of each fingerprint.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/telemetry"
)

var (
	// ErrMatchNotFound covers both unknown ids and matches the caller does
	// not own. Ownership failures deliberately look identical to missing rows.
	ErrMatchNotFound = errors.New("duplicate match not found")

	// ErrInvalidStatus is returned for review decisions outside confirmed/rejected.
	ErrInvalidStatus = errors.New("invalid match status")

	// ErrAlreadyReviewed is returned when a match has left the pending state.
	ErrAlreadyReviewed = errors.New("match already reviewed")
)

// MediaDetails summarizes one side of a match for the review surface.
type MediaDetails struct {
	Title      string `json:"title"`
	Year       int    `json:"year,omitempty"`
	Resolution string `json:"resolution"`
	Size       int64  `json:"size"`
	Server     string `json:"server"`
	Library    string `json:"library"`
}

// MatchWithDetails is a duplicate match enriched with readable metadata for
// both fingerprints.
type MatchWithDetails struct {
	ID                   string             `json:"id"`
	SourceFingerprintID  string             `json:"source_fingerprint_id"`
	MatchedFingerprintID string             `json:"matched_fingerprint_id"`
	Confidence           int                `json:"confidence"`
	Status               models.MatchStatus `json:"status"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	ReviewedAt           *time.Time         `json:"reviewed_at,omitempty"`
	ReviewedBy           string             `json:"reviewed_by,omitempty"`
	SourceMedia          MediaDetails       `json:"source_media"`
	MatchedMedia         MediaDetails       `json:"matched_media"`
}

// Store persists duplicate matches and drives the review workflow.
type Store struct {
	db  *gorm.DB
	bus *events.Bus
}

// NewStore constructs the match store.
func NewStore(db *gorm.DB, bus *events.Bus) *Store {
	return &Store{db: db, bus: bus}
}

// Insert records a match unless the (source, matched) pair already exists.
// Returns true when a row was created.
func (s *Store) Insert(ctx context.Context, match *models.DuplicateMatch) (bool, error) {
	match.ID = uuid.NewString()
	if match.Status == "" {
		match.Status = models.MatchPending
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_fingerprint_id"}, {Name: "matched_fingerprint_id"}},
		DoNothing: true,
	}).Create(match)
	if result.Error != nil {
		return false, fmt.Errorf("insert match: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// matchRow is the flat scan target for the joined listing query.
type matchRow struct {
	ID                   string
	SourceFingerprintID  string
	MatchedFingerprintID string
	Confidence           int
	Status               models.MatchStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ReviewedAt           *time.Time
	ReviewedBy           string

	SourceTitle       string
	SourceYear        int
	SourceResolution  string
	SourceSize        int64
	SourceServer      string
	SourceLibrary     string
	MatchedTitle      string
	MatchedYear       int
	MatchedResolution string
	MatchedSize       int64
	MatchedServer     string
	MatchedLibrary    string
}

// ListForUser returns the caller's matches, newest-confidence first, enriched
// with both sides' metadata. Tenant isolation happens inside the query: both
// fingerprints' owning servers must belong to userID.
func (s *Store) ListForUser(ctx context.Context, userID string, status *models.MatchStatus) ([]MatchWithDetails, error) {
	query := s.db.WithContext(ctx).
		Table("duplicate_matches AS m").
		Select(`m.id, m.source_fingerprint_id, m.matched_fingerprint_id,
			m.confidence, m.status, m.created_at, m.updated_at, m.reviewed_at, m.reviewed_by,
			sf.title AS source_title, sf.year AS source_year, sf.resolution AS source_resolution,
			sf.size AS source_size, ss.name AS source_server, sf.library_id AS source_library,
			mf.title AS matched_title, mf.year AS matched_year, mf.resolution AS matched_resolution,
			mf.size AS matched_size, ms.name AS matched_server, mf.library_id AS matched_library`).
		Joins("JOIN media_fingerprints AS sf ON sf.id = m.source_fingerprint_id").
		Joins("JOIN media_fingerprints AS mf ON mf.id = m.matched_fingerprint_id").
		Joins("JOIN plex_servers AS ss ON ss.id = sf.server_id").
		Joins("JOIN plex_servers AS ms ON ms.id = mf.server_id").
		Where("ss.user_id = ? AND ms.user_id = ?", userID, userID).
		Order("m.confidence DESC")

	if status != nil {
		query = query.Where("m.status = ?", *status)
	}

	var rows []matchRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	matches := make([]MatchWithDetails, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, MatchWithDetails{
			ID:                   row.ID,
			SourceFingerprintID:  row.SourceFingerprintID,
			MatchedFingerprintID: row.MatchedFingerprintID,
			Confidence:           row.Confidence,
			Status:               row.Status,
			CreatedAt:            row.CreatedAt,
			UpdatedAt:            row.UpdatedAt,
			ReviewedAt:           row.ReviewedAt,
			ReviewedBy:           row.ReviewedBy,
			SourceMedia: MediaDetails{
				Title:      row.SourceTitle,
				Year:       row.SourceYear,
				Resolution: row.SourceResolution,
				Size:       row.SourceSize,
				Server:     row.SourceServer,
				Library:    row.SourceLibrary,
			},
			MatchedMedia: MediaDetails{
				Title:      row.MatchedTitle,
				Year:       row.MatchedYear,
				Resolution: row.MatchedResolution,
				Size:       row.MatchedSize,
				Server:     row.MatchedServer,
				Library:    row.MatchedLibrary,
			},
		})
	}

	return matches, nil
}

// UpdateStatus applies a reviewer decision. Only pending matches may
// transition; terminal matches reject further updates. The caller must own
// both sides of the match, otherwise the match is reported as not found.
func (s *Store) UpdateStatus(ctx context.Context, matchID, userID string, newStatus models.MatchStatus) error {
	if !models.ValidReviewStatus(newStatus) {
		return ErrInvalidStatus
	}

	var match models.DuplicateMatch
	if err := s.db.WithContext(ctx).First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMatchNotFound
		}
		return fmt.Errorf("load match: %w", err)
	}

	owned, err := s.ownedByUser(ctx, &match, userID)
	if err != nil {
		return err
	}
	if !owned {
		return ErrMatchNotFound
	}

	if match.Status.Terminal() {
		return ErrAlreadyReviewed
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.DuplicateMatch{}).
		Where("id = ? AND status = ?", matchID, models.MatchPending).
		Updates(map[string]any{
			"status":      newStatus,
			"reviewed_at": now,
			"reviewed_by": userID,
			"updated_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("update match status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a race with a concurrent reviewer.
		return ErrAlreadyReviewed
	}

	telemetry.MatchesReviewedTotal.WithLabelValues(string(newStatus)).Inc()
	if s.bus != nil {
		s.bus.Publish(events.EventMatchReviewed, events.Payload{
			"match_id":    matchID,
			"status":      string(newStatus),
			"reviewed_by": userID,
		})
	}

	return nil
}

// ownedByUser verifies that both fingerprints' servers belong to userID.
func (s *Store) ownedByUser(ctx context.Context, match *models.DuplicateMatch, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("media_fingerprints AS f").
		Joins("JOIN plex_servers AS srv ON srv.id = f.server_id").
		Where("f.id IN ? AND srv.user_id = ?",
			[]string{match.SourceFingerprintID, match.MatchedFingerprintID}, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("verify match ownership: %w", err)
	}
	return count == 2, nil
}
