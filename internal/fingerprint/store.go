/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/models"
)

// ErrNotFound is returned when a fingerprint id does not exist.
var ErrNotFound = errors.New("fingerprint not found")

// Store persists media fingerprints.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the fingerprint store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert persists a fingerprint, assigning id and timestamps.
//
// Re-scan policy: one row per (server, library, media) identity. When a row
// for the identity already exists with the same hash it is returned untouched;
// when the hash differs the upstream metadata changed, so the row is refreshed
// in place and matching should re-run. The returned bool is true when a row
// was written.
func (s *Store) Insert(ctx context.Context, fp *models.MediaFingerprint) (bool, error) {
	var existing models.MediaFingerprint
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND library_id = ? AND media_id = ?", fp.ServerID, fp.LibraryID, fp.MediaID).
		First(&existing).Error

	switch {
	case err == nil:
		if existing.Hash == fp.Hash {
			*fp = existing
			return false, nil
		}
		updates := map[string]any{
			"title":          fp.Title,
			"year":           fp.Year,
			"size":           fp.Size,
			"duration_ms":    fp.DurationMS,
			"video_codec":    fp.VideoCodec,
			"resolution":     fp.Resolution,
			"audio_bitrate":  fp.AudioBitrate,
			"audio_channels": fp.AudioChannels,
			"container":      fp.Container,
			"hash":           fp.Hash,
			"updated_at":     time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Model(&models.MediaFingerprint{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return false, fmt.Errorf("refresh fingerprint: %w", err)
		}
		refreshed := existing
		if err := s.db.WithContext(ctx).First(&refreshed, "id = ?", existing.ID).Error; err != nil {
			return false, fmt.Errorf("reload fingerprint: %w", err)
		}
		*fp = refreshed
		return true, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		fp.ID = uuid.NewString()
		if err := s.db.WithContext(ctx).Create(fp).Error; err != nil {
			return false, fmt.Errorf("insert fingerprint: %w", err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("lookup fingerprint identity: %w", err)
	}
}

// Get loads a fingerprint by id.
func (s *Store) Get(ctx context.Context, id string) (*models.MediaFingerprint, error) {
	var fp models.MediaFingerprint
	if err := s.db.WithContext(ctx).First(&fp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load fingerprint: %w", err)
	}
	return &fp, nil
}

// FindCandidates returns all stored fingerprints whose primary signature falls
// inside the duplicate window: equal size, duration within tolerance,
// excluding fp itself. The (size, duration_ms) composite index keeps this
// query cheap as the library grows.
func (s *Store) FindCandidates(ctx context.Context, fp *models.MediaFingerprint) ([]models.MediaFingerprint, error) {
	var candidates []models.MediaFingerprint
	err := s.db.WithContext(ctx).
		Where("id <> ? AND size = ? AND duration_ms BETWEEN ? AND ?",
			fp.ID, fp.Size, fp.DurationMS-DurationToleranceMS, fp.DurationMS+DurationToleranceMS).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return candidates, nil
}

// ForEach streams all fingerprints in stable id order in batches. Used by the
// re-match pass to recover fingerprints whose match insertion was interrupted.
func (s *Store) ForEach(ctx context.Context, batchSize int, fn func(fp *models.MediaFingerprint) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	var batch []models.MediaFingerprint
	result := s.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return result.Error
}
