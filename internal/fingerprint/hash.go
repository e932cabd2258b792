/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mikl0s/PLM/internal/models"
)

// hashPayload fixes the serialization order of the hashed fields. Equal
// metadata must always yield an equal digest, so the keys are laid out in
// canonical (sorted) order and serialized from a struct rather than a map.
type hashPayload struct {
	AudioBitrate  int    `json:"audioBitrate"`
	AudioChannels int    `json:"audioChannels"`
	Container     string `json:"container"`
	DurationMS    int64  `json:"duration"`
	Resolution    string `json:"resolution"`
	Size          int64  `json:"size"`
	VideoCodec    string `json:"videoCodec"`
}

// Hash computes the deterministic digest of a fingerprint's primary and
// secondary signature.
func Hash(fp *models.MediaFingerprint) string {
	payload, _ := json.Marshal(hashPayload{
		AudioBitrate:  fp.AudioBitrate,
		AudioChannels: fp.AudioChannels,
		Container:     fp.Container,
		DurationMS:    fp.DurationMS,
		Resolution:    fp.Resolution,
		Size:          fp.Size,
		VideoCodec:    fp.VideoCodec,
	})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
