/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fingerprint derives content signatures from media metadata and
// persists them. A fingerprint's primary signature (file size, runtime) is the
// strongest duplicate signal; codec, resolution, and audio attributes
// corroborate it.
package fingerprint

import "github.com/mikl0s/PLM/internal/models"

// Scoring weights. Primary signature carries 60%: near-identical size and
// runtime are strong duplicate signals even across different encodes.
// Container is deliberately excluded, a remux is still a duplicate.
const (
	sizeWeight          = 30
	durationWeight      = 30
	videoCodecWeight    = 10
	resolutionWeight    = 10
	audioBitrateWeight  = 10
	audioChannelsWeight = 10

	// DurationToleranceMS is the runtime tolerance shared by the scorer and
	// the candidate window query.
	DurationToleranceMS = 1000

	audioBitrateTolerance = 1000
)

// Confidence scores two fingerprints from 0 to 100. Weights sum to exactly
// 100, so the result is capped by construction, and every check is symmetric
// in its arguments. Missing or empty fields never count as a match.
func Confidence(a, b *models.MediaFingerprint) int {
	score := 0

	if a.Size == b.Size {
		score += sizeWeight
	}
	if absInt64(a.DurationMS-b.DurationMS) <= DurationToleranceMS {
		score += durationWeight
	}

	if a.VideoCodec != "" && a.VideoCodec == b.VideoCodec {
		score += videoCodecWeight
	}
	if a.Resolution != "" && a.Resolution == b.Resolution {
		score += resolutionWeight
	}
	if a.AudioBitrate > 0 && b.AudioBitrate > 0 && absInt(a.AudioBitrate-b.AudioBitrate) < audioBitrateTolerance {
		score += audioBitrateWeight
	}
	if a.AudioChannels > 0 && a.AudioChannels == b.AudioChannels {
		score += audioChannelsWeight
	}

	return score
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
