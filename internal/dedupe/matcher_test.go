package dedupe

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/fingerprint"
	"github.com/mikl0s/PLM/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.PlexServer{}, &models.MediaFingerprint{}, &models.DuplicateMatch{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedFingerprint(t *testing.T, db *gorm.DB, serverID string, mutate func(*models.MediaFingerprint)) *models.MediaFingerprint {
	t.Helper()

	fp := &models.MediaFingerprint{
		ID:            uuid.NewString(),
		ServerID:      serverID,
		LibraryID:     "1",
		MediaID:       uuid.NewString(),
		Title:         "Inception",
		Year:          2010,
		Size:          7_000_000_000,
		DurationMS:    8_880_000,
		VideoCodec:    "hevc",
		Resolution:    "4k",
		AudioBitrate:  768,
		AudioChannels: 6,
		Container:     "mkv",
	}
	if mutate != nil {
		mutate(fp)
	}
	fp.Hash = fingerprint.Hash(fp)
	if err := db.Create(fp).Error; err != nil {
		t.Fatalf("seed fingerprint: %v", err)
	}
	return fp
}

func newTestMatcher(db *gorm.DB) *Matcher {
	return NewMatcher(fingerprint.NewStore(db), NewStore(db, nil), nil, zerolog.Nop())
}

func TestMatcherCreatesPendingMatch(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	existing := seedFingerprint(t, db, "srv-1", nil)
	// Same primary signature, same codec and resolution, different audio:
	// 30 + 30 + 10 + 10 = 80.
	incoming := seedFingerprint(t, db, "srv-2", func(fp *models.MediaFingerprint) {
		fp.DurationMS = existing.DurationMS + 500
		fp.AudioBitrate = 0
		fp.AudioChannels = 2
	})

	created, err := newTestMatcher(db).Match(ctx, incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 match, got %d", created)
	}

	var match models.DuplicateMatch
	if err := db.First(&match).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if match.SourceFingerprintID != incoming.ID || match.MatchedFingerprintID != existing.ID {
		t.Fatalf("unexpected pair: %s -> %s", match.SourceFingerprintID, match.MatchedFingerprintID)
	}
	if match.Confidence != 80 {
		t.Fatalf("expected confidence 80, got %d", match.Confidence)
	}
	if match.Status != models.MatchPending {
		t.Fatalf("expected pending status, got %s", match.Status)
	}
}

func TestMatcherIgnoresDifferentPrimarySignature(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	seedFingerprint(t, db, "srv-1", func(fp *models.MediaFingerprint) {
		fp.Size = 1_000_000_000
	})
	seedFingerprint(t, db, "srv-1", func(fp *models.MediaFingerprint) {
		fp.DurationMS = 4_000_000
	})
	incoming := seedFingerprint(t, db, "srv-2", nil)

	created, err := newTestMatcher(db).Match(ctx, incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected no matches, got %d", created)
	}
}

func TestMatcherContainerDoesNotAffectConfidence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	seedFingerprint(t, db, "srv-1", func(fp *models.MediaFingerprint) {
		fp.Container = "mp4"
	})
	incoming := seedFingerprint(t, db, "srv-2", nil)

	created, err := newTestMatcher(db).Match(ctx, incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 match, got %d", created)
	}

	var match models.DuplicateMatch
	if err := db.First(&match).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if match.Confidence != 100 {
		t.Fatalf("expected confidence 100, got %d", match.Confidence)
	}
}

func TestMatcherRerunPreservesReviewedMatch(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	seedFingerprint(t, db, "srv-1", nil)
	incoming := seedFingerprint(t, db, "srv-2", nil)

	matcher := newTestMatcher(db)
	if _, err := matcher.Match(ctx, incoming); err != nil {
		t.Fatalf("first match pass: %v", err)
	}

	if err := db.Model(&models.DuplicateMatch{}).
		Where("source_fingerprint_id = ?", incoming.ID).
		Update("status", models.MatchConfirmed).Error; err != nil {
		t.Fatalf("confirm match: %v", err)
	}

	created, err := matcher.Match(ctx, incoming)
	if err != nil {
		t.Fatalf("second match pass: %v", err)
	}
	if created != 0 {
		t.Fatalf("rerun should not create matches, got %d", created)
	}

	var count int64
	if err := db.Model(&models.DuplicateMatch{}).Count(&count).Error; err != nil {
		t.Fatalf("count matches: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single match row, got %d", count)
	}

	var match models.DuplicateMatch
	if err := db.First(&match).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if match.Status != models.MatchConfirmed {
		t.Fatalf("rerun must not reset review status, got %s", match.Status)
	}
}
