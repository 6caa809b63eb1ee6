package interfaces

import (
	"context"
	"time"
)

// RetentionCounts reports what one cascading retention pass removed.
type RetentionCounts struct {
	Reports     int64
	Records     int64
	AuthResults int64
	Sources     int64
}

type RetentionRepository interface {
	// ListArchiveKeysBefore returns archive object keys of reports whose date
	// range ended before the cutoff, so objects can be pruned after the rows.
	ListArchiveKeysBefore(ctx context.Context, domainIDs []string, cutoff time.Time) ([]string, error)

	// DeleteReportsBefore cascades auth results -> records -> reports for
	// reports whose date range ended before the cutoff.
	DeleteReportsBefore(ctx context.Context, domainIDs []string, cutoff time.Time) (RetentionCounts, error)

	// PruneSourcesUnseenSince removes source aggregates not seen since the
	// cutoff. Returns the number removed.
	PruneSourcesUnseenSince(ctx context.Context, domainIDs []string, cutoff time.Time) (int64, error)
}
