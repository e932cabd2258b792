package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/dedupe"
	"github.com/mikl0s/PLM/internal/fingerprint"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/plex"
	"github.com/mikl0s/PLM/internal/servers"
)

type fakeClient struct {
	libraries []plex.Library
	items     map[string][]plex.MediaItem
	libErr    error

	mu        sync.Mutex
	pageCalls int
}

func (c *fakeClient) Libraries(_ context.Context) ([]plex.Library, error) {
	if c.libErr != nil {
		return nil, c.libErr
	}
	return c.libraries, nil
}

func (c *fakeClient) LibraryItems(_ context.Context, libraryKey string, start, size int) ([]plex.MediaItem, int, error) {
	c.mu.Lock()
	c.pageCalls++
	c.mu.Unlock()

	all := c.items[libraryKey]
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func movieItem(key string, size int64) plex.MediaItem {
	return plex.MediaItem{
		RatingKey: key,
		Title:     "Movie " + key,
		Year:      2020,
		Media: []plex.Media{{
			DurationMS:      5_400_000,
			Bitrate:         640,
			AudioChannels:   6,
			VideoCodec:      "h264",
			VideoResolution: "1080",
			Container:       "mkv",
			Parts:           []plex.Part{{Size: size}},
		}},
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.PlexServer{}, &models.MediaFingerprint{}, &models.DuplicateMatch{}, &models.ScanRun{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clients map[string]*fakeClient) *Service {
	t.Helper()

	logger := zerolog.Nop()
	registry := servers.NewService(db, nil, nil, logger)
	fpStore := fingerprint.NewStore(db)
	matcher := dedupe.NewMatcher(fpStore, dedupe.NewStore(db, nil), nil, logger)
	generator := fingerprint.NewGenerator(fpStore, matcher, nil, logger)

	factory := func(server *models.PlexServer) (LibraryClient, error) {
		client, ok := clients[server.ID]
		if !ok {
			return nil, errors.New("unknown server")
		}
		return client, nil
	}
	return New(db, registry, generator, fpStore, matcher, nil, factory, time.Hour, 2, logger)
}

func seedServer(t *testing.T, db *gorm.DB, userID string) *models.PlexServer {
	t.Helper()

	server := &models.PlexServer{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   "Test",
		URL:    "http://plex.local:32400",
		Token:  "token",
	}
	if err := db.Create(server).Error; err != nil {
		t.Fatalf("seed server: %v", err)
	}
	return server
}

func TestRunOncePaginatesAndMatches(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	server := seedServer(t, db, "user-1")

	// Two identical movies plus one skippable item, across two pages
	// (page size is 2 in the test service).
	client := &fakeClient{
		libraries: []plex.Library{
			{Key: "1", Title: "Movies", Type: "movie"},
			{Key: "9", Title: "Photos", Type: "photo"},
		},
		items: map[string][]plex.MediaItem{
			"1": {
				movieItem("a", 5_000_000_000),
				{RatingKey: "broken", Title: "No Media"},
				movieItem("b", 5_000_000_000),
			},
		},
	}

	svc := newTestService(t, db, map[string]*fakeClient{server.ID: client})
	run, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if run.State != models.ScanCompleted {
		t.Fatalf("expected completed run, got %s", run.State)
	}
	if run.ServersScanned != 1 || run.LibrariesScanned != 1 {
		t.Fatalf("expected 1 server and 1 scannable library, got %d/%d", run.ServersScanned, run.LibrariesScanned)
	}
	if run.ItemsProcessed != 2 || run.ItemsSkipped != 1 {
		t.Fatalf("expected 2 processed and 1 skipped, got %d/%d", run.ItemsProcessed, run.ItemsSkipped)
	}
	if run.FingerprintsStored != 2 {
		t.Fatalf("expected 2 fingerprints stored, got %d", run.FingerprintsStored)
	}
	if run.MatchesCreated != 1 {
		t.Fatalf("expected the identical pair to match once, got %d", run.MatchesCreated)
	}
	if run.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
	if client.pageCalls < 2 {
		t.Fatalf("expected paginated fetching, got %d page calls", client.pageCalls)
	}

	var persisted models.ScanRun
	if err := db.First(&persisted, "id = ?", run.ID).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if persisted.State != models.ScanCompleted {
		t.Fatalf("expected persisted run to be completed, got %s", persisted.State)
	}
}

func TestRunOnceIsolatesServerFailures(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	broken := seedServer(t, db, "user-1")
	healthy := seedServer(t, db, "user-1")

	clients := map[string]*fakeClient{
		broken.ID: {libErr: errors.New("connection refused")},
		healthy.ID: {
			libraries: []plex.Library{{Key: "1", Title: "Movies", Type: "movie"}},
			items:     map[string][]plex.MediaItem{"1": {movieItem("a", 1_000)}},
		},
	}

	svc := newTestService(t, db, clients)
	run, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if run.State != models.ScanCompleted {
		t.Fatalf("one bad server must not fail the run, got %s", run.State)
	}
	if run.ServersScanned != 1 {
		t.Fatalf("expected 1 scanned server, got %d", run.ServersScanned)
	}
	if run.Errors != 1 {
		t.Fatalf("expected 1 recorded error, got %d", run.Errors)
	}
	if run.ItemsProcessed != 1 {
		t.Fatalf("expected the healthy server to be scanned, got %d items", run.ItemsProcessed)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	svc := newTestService(t, db, nil)

	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}

	svc.mu.Lock()
	svc.running = false
	svc.mu.Unlock()

	run, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if run.State != models.ScanCompleted {
		t.Fatalf("expected completed run, got %s", run.State)
	}
}

func TestRematchRecoversOrphanFingerprints(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	// Two duplicate fingerprints stored without any match rows, as if a
	// crash hit between fingerprint insert and match insert.
	for _, mediaID := range []string{"a", "b"} {
		fp := &models.MediaFingerprint{
			ID:         uuid.NewString(),
			ServerID:   "srv-1",
			LibraryID:  "1",
			MediaID:    mediaID,
			Size:       5_000_000_000,
			DurationMS: 5_400_000,
			VideoCodec: "h264",
			Resolution: "1080",
		}
		fp.Hash = fingerprint.Hash(fp)
		if err := db.Create(fp).Error; err != nil {
			t.Fatalf("seed fingerprint: %v", err)
		}
	}

	created, err := svc.Rematch(ctx)
	if err != nil {
		t.Fatalf("rematch: %v", err)
	}
	// Both directions of the pair are discovered.
	if created != 2 {
		t.Fatalf("expected 2 directional matches, got %d", created)
	}

	// A second pass is a no-op.
	created, err = svc.Rematch(ctx)
	if err != nil {
		t.Fatalf("second rematch: %v", err)
	}
	if created != 0 {
		t.Fatalf("re-running rematch must be idempotent, got %d", created)
	}
}

func TestLatestRun(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	svc := newTestService(t, db, nil)
	ctx := context.Background()

	run, err := svc.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run != nil {
		t.Fatalf("expected no runs yet, got %+v", run)
	}

	first, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	run, err = svc.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run == nil || run.ID != first.ID {
		t.Fatalf("expected latest run %s, got %+v", first.ID, run)
	}
}
