package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/plex"
)

type stubMatcher struct {
	calls int
	err   error
}

func (m *stubMatcher) Match(_ context.Context, _ *models.MediaFingerprint) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return 1, nil
}

func testItem() plex.MediaItem {
	return plex.MediaItem{
		RatingKey: "49915",
		Title:     "Inception",
		Year:      2010,
		Media: []plex.Media{{
			DurationMS:      8_880_000,
			Bitrate:         768,
			AudioChannels:   6,
			VideoCodec:      "hevc",
			VideoResolution: "4k",
			Container:       "mkv",
			Parts:           []plex.Part{{Size: 7_000_000_000}},
		}},
	}
}

func TestGeneratorPersistsAndMatches(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	matcher := &stubMatcher{}
	gen := NewGenerator(NewStore(db), matcher, nil, zerolog.Nop())
	server := &models.PlexServer{ID: "srv-1", UserID: "user-1"}

	res, err := gen.Generate(context.Background(), server, "2", testItem())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res == nil || res.Fingerprint == nil {
		t.Fatal("expected a fingerprint")
	}
	if !res.Written || res.MatchesCreated != 1 {
		t.Fatalf("expected written result with matcher count, got %+v", res)
	}
	fp := res.Fingerprint
	if fp.ID == "" || fp.Hash == "" {
		t.Fatalf("expected id and hash to be set: %+v", fp)
	}
	if fp.ServerID != "srv-1" || fp.LibraryID != "2" || fp.MediaID != "49915" {
		t.Fatalf("unexpected identity: %+v", fp)
	}
	if fp.Size != 7_000_000_000 || fp.DurationMS != 8_880_000 {
		t.Fatalf("unexpected primary signature: %+v", fp)
	}
	if matcher.calls != 1 {
		t.Fatalf("expected one matcher call, got %d", matcher.calls)
	}

	var count int64
	if err := db.Model(&models.MediaFingerprint{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stored fingerprint, got %d", count)
	}
}

func TestGeneratorSkipsIncompleteItems(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	matcher := &stubMatcher{}
	gen := NewGenerator(NewStore(db), matcher, nil, zerolog.Nop())
	server := &models.PlexServer{ID: "srv-1"}
	ctx := context.Background()

	noMedia := testItem()
	noMedia.Media = nil

	noSize := testItem()
	noSize.Media[0].Parts = nil

	noDuration := testItem()
	noDuration.Media[0].DurationMS = 0

	for _, item := range []plex.MediaItem{noMedia, noSize, noDuration} {
		res, err := gen.Generate(ctx, server, "2", item)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if res != nil {
			t.Fatalf("incomplete item must be skipped, got %+v", res)
		}
	}

	if matcher.calls != 0 {
		t.Fatalf("skipped items must not be matched, got %d calls", matcher.calls)
	}
	var count int64
	if err := db.Model(&models.MediaFingerprint{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("skipped items must not be stored, got %d rows", count)
	}
}

func TestGeneratorKeepsFingerprintOnMatcherFailure(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	matcher := &stubMatcher{err: errors.New("db unavailable")}
	gen := NewGenerator(NewStore(db), matcher, nil, zerolog.Nop())
	server := &models.PlexServer{ID: "srv-1"}

	res, err := gen.Generate(context.Background(), server, "2", testItem())
	if err != nil {
		t.Fatalf("matcher failure must not fail generation: %v", err)
	}
	if res == nil || res.Fingerprint == nil {
		t.Fatal("expected the fingerprint to survive a matcher failure")
	}
	if res.MatchesCreated != 0 {
		t.Fatalf("failed matcher must report zero matches, got %d", res.MatchesCreated)
	}

	var count int64
	if err := db.Model(&models.MediaFingerprint{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the fingerprint to be stored, got %d rows", count)
	}
}
