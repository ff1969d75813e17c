package timeline

import (
	"context"
	"fmt"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"github.com/tellor-io/supplyx/pkg/utils"
)

// Summary reports timeline coverage statistics.
type Summary struct {
	TotalSnapshots      uint64  `json:"total_snapshots"`
	CompleteSnapshots   uint64  `json:"complete_snapshots"`
	IncompleteSnapshots uint64  `json:"incomplete_snapshots"`
	CompletionRate      float64 `json:"completion_rate"`
	AvgCompleteness     float64 `json:"avg_completeness"`
	OldestTs            uint64  `json:"oldest_ts"`
	LatestTs            uint64  `json:"latest_ts"`
	CoverageHours       float64 `json:"coverage_hours"`
}

// Summary computes coverage statistics over the whole timeline.
func (db *DB) Summary(ctx context.Context) (*Summary, error) {
	query := fmt.Sprintf(`
		SELECT
			count() AS total,
			countIf(completeness >= 1.0) AS complete,
			avgOrDefault(completeness) AS avg_completeness,
			minOrDefault(settlement_ts) AS oldest,
			maxOrDefault(settlement_ts) AS latest
		FROM "%s"."%s" FINAL
	`, db.Name, models.SnapshotTableName)

	var s Summary
	var avg float64
	err := db.QueryRow(ctx, query).Scan(
		&s.TotalSnapshots,
		&s.CompleteSnapshots,
		&avg,
		&s.OldestTs,
		&s.LatestTs,
	)
	if err != nil {
		return nil, fmt.Errorf("query timeline summary: %w", err)
	}

	s.IncompleteSnapshots = s.TotalSnapshots - s.CompleteSnapshots
	s.AvgCompleteness = utils.Round2(avg)
	if s.TotalSnapshots > 0 {
		s.CompletionRate = utils.Round2(float64(s.CompleteSnapshots) / float64(s.TotalSnapshots))
		s.CoverageHours = utils.Round2(float64(s.LatestTs-s.OldestTs) / 3600)
	}

	return &s, nil
}
