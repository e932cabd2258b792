/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// User represents an authenticated dashboard account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlexServer is a registered media server. UserID is the tenant boundary:
// every fingerprint and duplicate match is owned through its server.
type PlexServer struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;index"`
	Name      string
	URL       string
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeURL strips the trailing slash from a server base URL.
func NormalizeURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

// MediaFingerprint is the derived signature of one library item's technical
// metadata. Size and DurationMS form the primary signature and are always
// present; the remaining columns are the secondary signature. Rows are
// append-only except for the identity upsert in the fingerprint store.
type MediaFingerprint struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ServerID  string `gorm:"type:uuid;index;uniqueIndex:idx_fingerprint_identity"`
	LibraryID string `gorm:"uniqueIndex:idx_fingerprint_identity"`
	MediaID   string `gorm:"uniqueIndex:idx_fingerprint_identity"`
	Title     string
	Year      int

	// Primary signature. The composite index backs the candidate window query
	// (equal size, duration within tolerance).
	Size       int64 `gorm:"index:idx_fingerprint_primary"`
	DurationMS int64 `gorm:"column:duration_ms;index:idx_fingerprint_primary"`

	// Secondary signature.
	VideoCodec    string
	Resolution    string
	AudioBitrate  int
	AudioChannels int
	Container     string

	Hash      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchStatus tracks the review lifecycle of a duplicate match.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s MatchStatus) Terminal() bool {
	return s == MatchConfirmed || s == MatchRejected
}

// ValidReviewStatus reports whether s is an acceptable reviewer decision.
func ValidReviewStatus(s MatchStatus) bool {
	return s == MatchConfirmed || s == MatchRejected
}

// DuplicateMatch links a source fingerprint to a candidate scored at or above
// the confidence threshold. Matches are directional (source -> matched); the
// unique pair index makes matcher re-runs idempotent.
type DuplicateMatch struct {
	ID                   string `gorm:"type:uuid;primaryKey"`
	SourceFingerprintID  string `gorm:"type:uuid;uniqueIndex:idx_match_pair"`
	MatchedFingerprintID string `gorm:"type:uuid;uniqueIndex:idx_match_pair"`

	// Confidence is computed once, at creation time.
	Confidence int
	Status     MatchStatus `gorm:"type:varchar(16);index"`

	ReviewedAt *time.Time
	ReviewedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScanRunState tracks scheduler run progress.
type ScanRunState string

const (
	ScanRunning   ScanRunState = "running"
	ScanCompleted ScanRunState = "completed"
	ScanFailed    ScanRunState = "failed"
)

// ScanRun records one full traversal of users -> servers -> libraries -> items.
type ScanRun struct {
	ID                 string       `gorm:"type:uuid;primaryKey" json:"id"`
	State              ScanRunState `gorm:"type:varchar(16);index" json:"state"`
	StartedAt          time.Time    `json:"started_at"`
	FinishedAt         *time.Time   `json:"finished_at,omitempty"`
	ServersScanned     int          `json:"servers_scanned"`
	LibrariesScanned   int          `json:"libraries_scanned"`
	ItemsProcessed     int          `json:"items_processed"`
	ItemsSkipped       int          `json:"items_skipped"`
	FingerprintsStored int          `json:"fingerprints_stored"`
	MatchesCreated     int          `json:"matches_created"`
	Errors             int          `json:"errors"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}
