package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/models"
)

func seedServer(t *testing.T, db *gorm.DB, userID, name string) *models.PlexServer {
	t.Helper()

	server := &models.PlexServer{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		URL:    "http://plex.local:32400",
		Token:  "token",
	}
	if err := db.Create(server).Error; err != nil {
		t.Fatalf("seed server: %v", err)
	}
	return server
}

// seedMatch creates two owned fingerprints plus a pending match between them.
func seedMatch(t *testing.T, db *gorm.DB, userID string, confidence int) *models.DuplicateMatch {
	t.Helper()

	serverA := seedServer(t, db, userID, "Living Room")
	serverB := seedServer(t, db, userID, "Office")
	source := seedFingerprint(t, db, serverA.ID, nil)
	matched := seedFingerprint(t, db, serverB.ID, nil)

	match := &models.DuplicateMatch{
		SourceFingerprintID:  source.ID,
		MatchedFingerprintID: matched.ID,
		Confidence:           confidence,
		Status:               models.MatchPending,
	}
	store := NewStore(db, nil)
	if _, err := store.Insert(context.Background(), match); err != nil {
		t.Fatalf("seed match: %v", err)
	}
	return match
}

func TestStoreInsertIgnoresDuplicatePair(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	match := seedMatch(t, db, uuid.NewString(), 80)

	duplicate := &models.DuplicateMatch{
		SourceFingerprintID:  match.SourceFingerprintID,
		MatchedFingerprintID: match.MatchedFingerprintID,
		Confidence:           100,
	}
	written, err := NewStore(db, nil).Insert(ctx, duplicate)
	if err != nil {
		t.Fatalf("insert duplicate pair: %v", err)
	}
	if written {
		t.Fatal("expected duplicate pair to be ignored")
	}

	var existing models.DuplicateMatch
	if err := db.First(&existing, "id = ?", match.ID).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if existing.Confidence != 80 {
		t.Fatalf("original confidence must survive, got %d", existing.Confidence)
	}
}

func TestStoreListForUser(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	owner := uuid.NewString()
	low := seedMatch(t, db, owner, 60)
	high := seedMatch(t, db, owner, 100)
	other := seedMatch(t, db, uuid.NewString(), 90)

	matches, err := store.ListForUser(ctx, owner, nil)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != high.ID || matches[1].ID != low.ID {
		t.Fatalf("expected confidence-descending order, got %d then %d",
			matches[0].Confidence, matches[1].Confidence)
	}
	for _, m := range matches {
		if m.ID == other.ID {
			t.Fatal("listed a match belonging to another user")
		}
	}

	if matches[0].SourceMedia.Title != "Inception" || matches[0].SourceMedia.Server == "" {
		t.Fatalf("expected enriched source metadata, got %+v", matches[0].SourceMedia)
	}
	if matches[0].MatchedMedia.Size == 0 || matches[0].MatchedMedia.Resolution == "" {
		t.Fatalf("expected enriched matched metadata, got %+v", matches[0].MatchedMedia)
	}
}

func TestStoreListForUserStatusFilter(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	owner := uuid.NewString()
	seedMatch(t, db, owner, 70)
	confirmed := seedMatch(t, db, owner, 90)
	if err := store.UpdateStatus(ctx, confirmed.ID, owner, models.MatchConfirmed); err != nil {
		t.Fatalf("confirm match: %v", err)
	}

	status := models.MatchConfirmed
	matches, err := store.ListForUser(ctx, owner, &status)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != confirmed.ID {
		t.Fatalf("expected only the confirmed match, got %d rows", len(matches))
	}
	if matches[0].ReviewedAt == nil || matches[0].ReviewedBy != owner {
		t.Fatalf("expected review stamp, got %+v", matches[0])
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	owner := uuid.NewString()
	match := seedMatch(t, db, owner, 80)

	if err := store.UpdateStatus(ctx, match.ID, owner, models.MatchRejected); err != nil {
		t.Fatalf("reject match: %v", err)
	}

	var updated models.DuplicateMatch
	if err := db.First(&updated, "id = ?", match.ID).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if updated.Status != models.MatchRejected {
		t.Fatalf("expected rejected, got %s", updated.Status)
	}
	if updated.ReviewedAt == nil || updated.ReviewedBy != owner {
		t.Fatalf("expected review stamp, got %+v", updated)
	}
}

func TestStoreUpdateStatusGuards(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	owner := uuid.NewString()
	match := seedMatch(t, db, owner, 80)

	if err := store.UpdateStatus(ctx, match.ID, owner, models.MatchPending); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := store.UpdateStatus(ctx, match.ID, owner, "deleted"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := store.UpdateStatus(ctx, uuid.NewString(), owner, models.MatchConfirmed); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound for unknown id, got %v", err)
	}

	// Another user's review must look like a missing match and leave no trace.
	if err := store.UpdateStatus(ctx, match.ID, uuid.NewString(), models.MatchConfirmed); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound for foreign user, got %v", err)
	}
	var untouched models.DuplicateMatch
	if err := db.First(&untouched, "id = ?", match.ID).Error; err != nil {
		t.Fatalf("load match: %v", err)
	}
	if untouched.Status != models.MatchPending {
		t.Fatalf("foreign review must not mutate the match, got %s", untouched.Status)
	}

	if err := store.UpdateStatus(ctx, match.ID, owner, models.MatchConfirmed); err != nil {
		t.Fatalf("confirm match: %v", err)
	}
	if err := store.UpdateStatus(ctx, match.ID, owner, models.MatchRejected); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
}
