package storage

import (
	"context"
	"time"

	"wbscanner/pkg/domain"
)

// ScanUpdates describes a set of optional fields that can be applied to an
// existing scan during an update. Only non-nil fields will be updated.
type ScanUpdates struct {
	// Status is the new status to set for the scan.
	Status domain.ScanStatus
	// Verdict, when provided, replaces the stored verdict payload.
	Verdict *domain.Verdict
	// Resolution, when provided, replaces the stored resolution payload.
	Resolution *domain.ResolutionResult
	// LastError, when provided, sets the last error text. An empty string value
	// indicates the error should be cleared (set to NULL).
	LastError *string
	// MaxAttempts, when provided alongside a Failed status, ensures that status
	// is only updated to Failed if the current attempts after increment would
	// exceed this threshold. A value <= 0 disables this guard.
	MaxAttempts int
}

// ScanPage groups a page of scans together with an optional NextCursor used
// for pagination.
type ScanPage struct {
	// Scans contains the current page of scan records.
	Scans []domain.Scan
	// NextCursor points to the timestamp to be used as the cursor for fetching
	// the next page. It is nil when there is no next page.
	NextCursor *time.Time
}

// ScanStorage defines CRUD and query operations related to scans. Scans are
// keyed by the url hash, which is the correlation key the rest of the system
// uses; raw URLs are stored for display but never queried by.
type ScanStorage interface {
	// StoreScans inserts one or more scans and returns the stored rows as they
	// exist in the database (including generated fields).
	StoreScans(ctx context.Context, scans ...domain.Scan) ([]domain.Scan, error)
	// UpdatePendingScansByHash updates all pending scans for the given url hash
	// using the provided field set.
	// Notes:
	// - Attempts is incremented by 1 and updated_at is set automatically.
	// - If Status is Failed and MaxAttempts > 0, status is only set to Failed
	//   when the attempts after increment would exceed MaxAttempts; otherwise
	//   status remains unchanged (i.e., stays Pending).
	UpdatePendingScansByHash(ctx context.Context, urlHash string, updates ScanUpdates) error
	// PendingScanCountByHash returns the total number of pending scans for the
	// given url hash. Soft-deleted records are excluded from the count.
	PendingScanCountByHash(ctx context.Context, urlHash string) (int64, error)
	// UpdateScanByID updates a single scan identified by its ID and returns the updated row.
	// The update ignores soft-deleted rows and sets updated_at automatically. Only provided fields are changed.
	UpdateScanByID(ctx context.Context, ID domain.ScanID, updates ScanUpdates) (*domain.Scan, error)
	// ScanByID fetches a scan by its ID, excluding soft-deleted records.
	// Returns nil when not found.
	ScanByID(ctx context.Context, ID domain.ScanID) (*domain.Scan, error)
	// LastCompletedScanByHash returns the most recent completed scan for a
	// given url hash. Returns nil when no completed scan exists for the hash.
	LastCompletedScanByHash(ctx context.Context, urlHash string) (*domain.Scan, error)
	// RecentScans returns a page of scans created before the optional cursor
	// time, limited by the given limit. If status is non-empty, results are
	// filtered to records with the given status.
	RecentScans(ctx context.Context,
		status domain.ScanStatus,
		cursor time.Time,
		limit uint) (ScanPage, error)
}
