/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package plex is a read-only client for the Plex Media Server HTTP API. The
// deduplication engine consumes its raw item records; it never writes back.
package plex

// container is the envelope Plex wraps every response in.
type container[T any] struct {
	MediaContainer struct {
		Size      int `json:"size"`
		TotalSize int `json:"totalSize"`
		Offset    int `json:"offset"`
		Directory []T `json:"Directory"`
		Metadata  []T `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Library is one library section on a server.
type Library struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Scannable reports whether the library type participates in deduplication
// scans. Music libraries are skipped.
func (l Library) Scannable() bool {
	return l.Type == "movie" || l.Type == "show"
}

// MediaItem is a raw library item. Fields the server has not analyzed yet may
// be absent.
type MediaItem struct {
	RatingKey string  `json:"ratingKey"`
	Title     string  `json:"title"`
	Year      int     `json:"year,omitempty"`
	Media     []Media `json:"Media,omitempty"`
}

// Media is one media descriptor of an item (an item can carry several encodes).
type Media struct {
	DurationMS      int64  `json:"duration,omitempty"`
	Bitrate         int    `json:"bitrate,omitempty"`
	AudioChannels   int    `json:"audioChannels,omitempty"`
	AudioCodec      string `json:"audioCodec,omitempty"`
	VideoCodec      string `json:"videoCodec,omitempty"`
	VideoResolution string `json:"videoResolution,omitempty"`
	Container       string `json:"container,omitempty"`
	Parts           []Part `json:"Part,omitempty"`
}

// Part is one file backing a media descriptor.
type Part struct {
	Size int64 `json:"size,omitempty"`
}
