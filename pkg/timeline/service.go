// Package timeline exposes read-side queries over the unified snapshot
// timeline. It is the one surface the HTTP controllers and any future
// consumers go through; they never touch the store directly.
package timeline

import (
	"context"
	"time"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	timelinedb "github.com/tellor-io/supplyx/pkg/db/timeline"
	"go.uber.org/zap"
)

// Service answers timeline queries from the store.
type Service struct {
	Logger *zap.Logger
	Store  timelinedb.Store
}

// NewService builds a timeline query service.
func NewService(logger *zap.Logger, store timelinedb.Store) *Service {
	return &Service{Logger: logger, Store: store}
}

// Timeline returns snapshots from the last hoursBack hours with completeness
// of at least minCompleteness, newest first.
func (s *Service) Timeline(ctx context.Context, hoursBack int, minCompleteness float64) ([]*models.UnifiedSnapshot, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	now := uint64(time.Now().Unix())
	start := now - uint64(hoursBack)*3600
	return s.Store.Range(ctx, start, now, minCompleteness)
}

// SnapshotAt returns the snapshot at the exact settlement timestamp.
// Returns timelinedb.ErrNotFound when absent.
func (s *Service) SnapshotAt(ctx context.Context, ts uint64) (*models.UnifiedSnapshot, error) {
	return s.Store.SnapshotAt(ctx, ts)
}

// BalanceSet is a snapshot's balance rows plus their per-type aggregation.
type BalanceSet struct {
	SettlementTs uint64                        `json:"settlement_ts"`
	Total        uint64                        `json:"total"`
	Balances     []*models.AccountBalance      `json:"balances"`
	Breakdown    []*timelinedb.BalanceTypeStat `json:"breakdown"`
}

// BalancesAt returns the balance rows recorded with the snapshot at ts.
// Verifies the snapshot exists so an absent timestamp is NotFound instead of
// an empty list.
func (s *Service) BalancesAt(ctx context.Context, ts uint64, accountType string, limit, offset int) (*BalanceSet, error) {
	if _, err := s.Store.SnapshotAt(ctx, ts); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	balances, err := s.Store.BalancesAt(ctx, ts, accountType, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.Store.CountBalances(ctx, ts)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.Store.BalanceBreakdown(ctx, ts)
	if err != nil {
		return nil, err
	}

	return &BalanceSet{
		SettlementTs: ts,
		Total:        total,
		Balances:     balances,
		Breakdown:    breakdown,
	}, nil
}

// Recent returns the newest snapshots, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return s.Store.ListRecent(ctx, limit)
}

// Incomplete returns incomplete snapshots, worst first.
func (s *Service) Incomplete(ctx context.Context, limit int) ([]*models.UnifiedSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return s.Store.ListIncomplete(ctx, limit)
}

// Summary returns coverage statistics over the whole timeline.
func (s *Service) Summary(ctx context.Context) (*timelinedb.Summary, error) {
	return s.Store.Summary(ctx)
}
