/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fingerprint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/plex"
	"github.com/mikl0s/PLM/internal/telemetry"
)

// Matcher searches stored fingerprints for probable duplicates of fp and
// records qualifying matches. Implemented by the dedupe package.
type Matcher interface {
	Match(ctx context.Context, fp *models.MediaFingerprint) (int, error)
}

// Result reports what Generate did for one library item. A nil Result means
// the item was skipped.
type Result struct {
	Fingerprint *models.MediaFingerprint
	// Written is true when a row was created or refreshed.
	Written bool
	// MatchesCreated counts duplicate matches recorded for this item.
	MatchesCreated int
}

// Generator builds fingerprints from raw library items and feeds them to the
// duplicate matcher.
type Generator struct {
	store   *Store
	matcher Matcher
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewGenerator constructs the generator.
func NewGenerator(store *Store, matcher Matcher, bus *events.Bus, logger zerolog.Logger) *Generator {
	return &Generator{
		store:   store,
		matcher: matcher,
		bus:     bus,
		logger:  logger.With().Str("component", "fingerprint_generator").Logger(),
	}
}

// Generate derives and persists a fingerprint for one library item, then
// synchronously runs duplicate matching against it.
//
// The first media descriptor is canonical. Items without a size or duration
// are still being analyzed by the media source: they are skipped without
// error and Generate returns nil. A matcher failure does not roll back the
// already-committed fingerprint; a later re-match pass recovers it.
func (g *Generator) Generate(ctx context.Context, server *models.PlexServer, libraryID string, item plex.MediaItem) (*Result, error) {
	if len(item.Media) == 0 {
		telemetry.ItemsSkippedTotal.Inc()
		return nil, nil
	}

	media := item.Media[0]

	var size int64
	if len(media.Parts) > 0 {
		size = media.Parts[0].Size
	}
	duration := media.DurationMS

	if size <= 0 || duration <= 0 {
		telemetry.ItemsSkippedTotal.Inc()
		g.logger.Debug().
			Str("server", server.ID).
			Str("media", item.RatingKey).
			Msg("skipping item without size or duration")
		return nil, nil
	}

	fp := &models.MediaFingerprint{
		ServerID:      server.ID,
		LibraryID:     libraryID,
		MediaID:       item.RatingKey,
		Title:         item.Title,
		Year:          item.Year,
		Size:          size,
		DurationMS:    duration,
		VideoCodec:    media.VideoCodec,
		Resolution:    media.VideoResolution,
		AudioBitrate:  media.Bitrate,
		AudioChannels: media.AudioChannels,
		Container:     media.Container,
	}
	fp.Hash = Hash(fp)

	written, err := g.store.Insert(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("persist fingerprint: %w", err)
	}

	if written {
		telemetry.FingerprintsGeneratedTotal.Inc()
		if g.bus != nil {
			g.bus.Publish(events.EventFingerprintCreated, events.Payload{
				"fingerprint_id": fp.ID,
				"server_id":      fp.ServerID,
				"library_id":     fp.LibraryID,
				"media_id":       fp.MediaID,
				"title":          fp.Title,
			})
		}
	}

	// Matching runs even for unchanged fingerprints so a re-scan heals
	// fingerprints whose match insertion was interrupted.
	created, err := g.matcher.Match(ctx, fp)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("fingerprint", fp.ID).
			Msg("duplicate matching failed, fingerprint kept for later re-match")
	}

	return &Result{Fingerprint: fp, Written: written, MatchesCreated: created}, nil
}
