/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dedupe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/fingerprint"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/telemetry"
)

// MinConfidence is the lowest score that produces a match.
const MinConfidence = 60

// Matcher scores a fingerprint against its candidate window and records
// matches that clear MinConfidence.
type Matcher struct {
	fingerprints *fingerprint.Store
	matches      *Store
	bus          *events.Bus
	logger       zerolog.Logger
}

// NewMatcher constructs a matcher.
func NewMatcher(fingerprints *fingerprint.Store, matches *Store, bus *events.Bus, logger zerolog.Logger) *Matcher {
	return &Matcher{
		fingerprints: fingerprints,
		matches:      matches,
		bus:          bus,
		logger:       logger.With().Str("component", "matcher").Logger(),
	}
}

// Match finds duplicates for fp and returns the number of matches created.
// Re-running over the same fingerprint is safe: existing pairs are left
// untouched, including their status and original confidence.
func (m *Matcher) Match(ctx context.Context, fp *models.MediaFingerprint) (int, error) {
	candidates, err := m.fingerprints.FindCandidates(ctx, fp)
	if err != nil {
		return 0, fmt.Errorf("find candidates: %w", err)
	}

	created := 0
	for i := range candidates {
		candidate := &candidates[i]
		score := fingerprint.Confidence(fp, candidate)
		if score < MinConfidence {
			continue
		}

		match := models.DuplicateMatch{
			SourceFingerprintID:  fp.ID,
			MatchedFingerprintID: candidate.ID,
			Confidence:           score,
			Status:               models.MatchPending,
		}
		written, err := m.matches.Insert(ctx, &match)
		if err != nil {
			return created, err
		}
		if !written {
			continue
		}

		created++
		telemetry.MatchesCreatedTotal.Inc()
		m.logger.Info().
			Str("source_id", fp.ID).
			Str("matched_id", candidate.ID).
			Int("confidence", score).
			Msg("duplicate match created")

		if m.bus != nil {
			m.bus.Publish(events.EventMatchCreated, events.Payload{
				"match_id":   match.ID,
				"source_id":  fp.ID,
				"matched_id": candidate.ID,
				"confidence": score,
			})
		}
	}

	return created, nil
}
