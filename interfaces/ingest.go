package interfaces

import (
	"context"

	"github.com/dmarcwatch/dmarcwatch/dto"
)

// ImportResult is the structured outcome of one report import. Err is set
// only for hard failures; duplicates come back Success=true, Skipped=true.
type ImportResult struct {
	Success    bool
	ReportID   string
	Skipped    bool
	SkipReason string
	Err        error

	// FollowUps are fire-and-forget job requests for the caller to enqueue.
	FollowUps dto.FollowUps
}

// ImportOptions carries the optional dedup/archive references of one import.
type ImportOptions struct {
	MessageRef string
	ArchiveKey string
}

type ImportService interface {
	// Import parses and persists one report exactly once.
	Import(ctx context.Context, rawXML []byte, domainID string, opts ImportOptions) *ImportResult
}
