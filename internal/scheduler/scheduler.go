// Package scheduler runs the periodic validation sweep that keeps stored
// program validation errors from going stale between editor actions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/filingworks/readiness-engine/internal/metrics"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/version"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the cron-driven revalidation sweep.
type Scheduler struct {
	store     docstore.Store
	versions  *version.Manager
	programs  *program.Engine
	orgs      []string
	schedule  string
	collector *metrics.Collector
	logger    *zap.Logger

	cron *cron.Cron
	mu   sync.Mutex
}

// New creates a scheduler sweeping the given orgs on the cron schedule.
func New(
	store docstore.Store,
	versions *version.Manager,
	programs *program.Engine,
	orgs []string,
	schedule string,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:     store,
		versions:  versions,
		programs:  programs,
		orgs:      orgs,
		schedule:  schedule,
		collector: collector,
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.cron.AddFunc(s.schedule, func() {
		started := time.Now()
		err := s.Sweep(ctx)
		if s.collector != nil {
			s.collector.ObserveSweep(time.Since(started), err)
		}
		if err != nil {
			s.logger.Error("Validation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule validation sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Validation sweep scheduled",
		zap.String("schedule", s.schedule),
		zap.Strings("orgs", s.orgs))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("Validation sweep stopped")
}

// Sweep re-validates every approved program record across the watched orgs
// and persists refreshed validation errors.
func (s *Scheduler) Sweep(ctx context.Context) error {
	for _, org := range s.orgs {
		products, err := s.store.List(ctx, fmt.Sprintf("orgs/%s/products", org), docstore.ListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list products for org %s: %w", org, err)
		}
		for _, product := range products {
			if err := s.sweepProduct(ctx, org, product.ID()); err != nil {
				s.logger.Warn("Skipping product in validation sweep",
					zap.String("org", org),
					zap.String("product_id", product.ID()),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Scheduler) sweepProduct(ctx context.Context, org, productID string) error {
	for _, snapshot := range s.versions.ListVersions(ctx, org, productID) {
		if snapshot.Status == version.StatusArchived {
			continue
		}
		records, err := s.programs.ListRecords(ctx, org, productID, snapshot.ID)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Status != program.StatusApproved && record.Status != program.StatusActive {
				continue
			}
			if _, err := s.programs.RefreshValidation(ctx, org, productID, snapshot.ID, record); err != nil {
				s.logger.Warn("Failed to refresh program validation",
					zap.String("org", org),
					zap.String("product_id", productID),
					zap.String("version_id", snapshot.ID),
					zap.String("state_code", record.StateCode),
					zap.Error(err))
			}
		}
	}
	return nil
}
