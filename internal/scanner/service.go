/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scanner drives the recurring deduplication scan: every registered
// server's movie and show libraries are paged through, fingerprinted, and
// matched. One run at a time; a run that outlives the period delays the next
// one instead of overlapping it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/dedupe"
	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/fingerprint"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/plex"
	"github.com/mikl0s/PLM/internal/servers"
	"github.com/mikl0s/PLM/internal/telemetry"
)

const rematchBatchSize = 500

// LibraryClient is the slice of the media source client the scanner needs.
// Satisfied by *plex.Client; tests substitute a fake.
type LibraryClient interface {
	Libraries(ctx context.Context) ([]plex.Library, error)
	LibraryItems(ctx context.Context, libraryKey string, start, size int) ([]plex.MediaItem, int, error)
}

// ClientFactory builds a media source client for one registered server.
type ClientFactory func(server *models.PlexServer) (LibraryClient, error)

// Service runs the recurring scan.
type Service struct {
	db           *gorm.DB
	registry     *servers.Service
	generator    *fingerprint.Generator
	fingerprints *fingerprint.Store
	matcher      *dedupe.Matcher
	bus          *events.Bus
	newClient    ClientFactory
	interval     time.Duration
	pageSize     int
	logger       zerolog.Logger

	// running guards against overlapping runs when a scan outlives the
	// period.
	mu      sync.Mutex
	running bool
}

// New constructs the scanner service.
func New(
	db *gorm.DB,
	registry *servers.Service,
	generator *fingerprint.Generator,
	fingerprints *fingerprint.Store,
	matcher *dedupe.Matcher,
	bus *events.Bus,
	newClient ClientFactory,
	interval time.Duration,
	pageSize int,
	logger zerolog.Logger,
) *Service {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Service{
		db:           db,
		registry:     registry,
		generator:    generator,
		fingerprints: fingerprints,
		matcher:      matcher,
		bus:          bus,
		newClient:    newClient,
		interval:     interval,
		pageSize:     pageSize,
		logger:       logger.With().Str("component", "scanner").Logger(),
	}
}

// Run executes an immediate scan, then one per interval, until ctx is
// cancelled. Cancellation stops future runs; an in-flight run finishes its
// current item before observing the cancelled context.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scan loop started")

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial scan failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scan loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled scan failed")
			}
		}
	}
}

// ErrScanInProgress is returned when a run is requested while one is active.
var ErrScanInProgress = errors.New("scan already in progress")

// RunOnce performs a single full scan and returns its persisted run record.
func (s *Service) RunOnce(ctx context.Context) (*models.ScanRun, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		telemetry.ScanRunsTotal.WithLabelValues("skipped_overlap").Inc()
		s.logger.Warn().Msg("scan still running, skipping this cycle")
		return nil, ErrScanInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	run := &models.ScanRun{
		ID:        uuid.NewString(),
		State:     models.ScanRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("record scan run: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.EventScanStarted, events.Payload{"run_id": run.ID})
	}
	s.logger.Info().Str("run_id", run.ID).Msg("scan started")
	started := time.Now()

	scanErr := s.scanAllServers(ctx, run)

	run.State = models.ScanCompleted
	if scanErr != nil {
		run.State = models.ScanFailed
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	// The final state must land even when the run was cut short by shutdown.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(run).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to persist scan run result")
	}

	telemetry.ScanDuration.Observe(time.Since(started).Seconds())
	telemetry.ScanRunsTotal.WithLabelValues(string(run.State)).Inc()
	if s.bus != nil {
		s.bus.Publish(events.EventScanCompleted, events.Payload{
			"run_id":          run.ID,
			"state":           string(run.State),
			"items_processed": run.ItemsProcessed,
			"matches_created": run.MatchesCreated,
			"errors":          run.Errors,
		})
	}
	s.logger.Info().
		Str("run_id", run.ID).
		Str("state", string(run.State)).
		Int("servers", run.ServersScanned).
		Int("items", run.ItemsProcessed).
		Int("matches", run.MatchesCreated).
		Int("errors", run.Errors).
		Dur("took", time.Since(started)).
		Msg("scan finished")

	return run, scanErr
}

// scanAllServers walks every registered server. A failing server is logged
// and skipped; only context cancellation aborts the run.
func (s *Service) scanAllServers(ctx context.Context, run *models.ScanRun) error {
	list, err := s.registry.ForAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}

	for i := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		server := &list[i]
		if err := s.scanServer(ctx, run, server); err != nil {
			run.Errors++
			telemetry.ScanErrorsTotal.WithLabelValues("server").Inc()
			s.logger.Warn().Err(err).
				Str("server_id", server.ID).
				Str("server", server.Name).
				Msg("server scan failed, continuing with next server")
			continue
		}
		run.ServersScanned++
	}
	return nil
}

func (s *Service) scanServer(ctx context.Context, run *models.ScanRun, server *models.PlexServer) error {
	ctx, span := telemetry.StartSpan(ctx, "scanner", "scanServer")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"server_id": server.ID,
	})

	client, err := s.newClient(server)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("build client: %w", err)
	}

	libraries, err := client.Libraries(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("list libraries: %w", err)
	}

	for _, library := range libraries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !library.Scannable() {
			continue
		}
		if err := s.scanLibrary(ctx, run, server, client, library); err != nil {
			run.Errors++
			telemetry.ScanErrorsTotal.WithLabelValues("library").Inc()
			s.logger.Warn().Err(err).
				Str("server_id", server.ID).
				Str("library", library.Title).
				Msg("library scan failed, continuing with next library")
			continue
		}
		run.LibrariesScanned++
	}
	return nil
}

// scanLibrary pages through one library. Pagination trusts the reported
// total but always stops when a page comes back empty.
func (s *Service) scanLibrary(ctx context.Context, run *models.ScanRun, server *models.PlexServer, client LibraryClient, library plex.Library) error {
	for start := 0; ; {
		items, total, err := client.LibraryItems(ctx, library.Key, start, s.pageSize)
		if err != nil {
			return fmt.Errorf("page library %s at offset %d: %w", library.Key, start, err)
		}
		if len(items) == 0 {
			return nil
		}

		for i := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.generator.Generate(ctx, server, library.Key, items[i])
			switch {
			case err != nil:
				run.Errors++
				telemetry.ScanErrorsTotal.WithLabelValues("item").Inc()
				s.logger.Warn().Err(err).
					Str("server_id", server.ID).
					Str("media", items[i].RatingKey).
					Msg("item fingerprinting failed, continuing")
			case res == nil:
				run.ItemsSkipped++
			default:
				run.ItemsProcessed++
				if res.Written {
					run.FingerprintsStored++
				}
				run.MatchesCreated += res.MatchesCreated
			}
		}

		start += len(items)
		if start >= total {
			return nil
		}
	}
}

// Rematch re-runs duplicate matching over every stored fingerprint. This is
// the recovery pass for fingerprints persisted right before a crash or a
// matcher failure; it needs no network access.
func (s *Service) Rematch(ctx context.Context) (int, error) {
	s.logger.Info().Msg("re-match pass started")
	created := 0
	err := s.fingerprints.ForEach(ctx, rematchBatchSize, func(fp *models.MediaFingerprint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.matcher.Match(ctx, fp)
		if err != nil {
			telemetry.ScanErrorsTotal.WithLabelValues("rematch").Inc()
			s.logger.Warn().Err(err).Str("fingerprint", fp.ID).Msg("re-match failed, continuing")
			return nil
		}
		created += n
		return nil
	})
	if err != nil {
		return created, fmt.Errorf("re-match pass: %w", err)
	}
	s.logger.Info().Int("matches_created", created).Msg("re-match pass finished")
	return created, nil
}

// LatestRun returns the most recent scan run, or nil when none exist.
func (s *Service) LatestRun(ctx context.Context) (*models.ScanRun, error) {
	var run models.ScanRun
	err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return &run, nil
}
