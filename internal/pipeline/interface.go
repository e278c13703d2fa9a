package pipeline

import (
	"context"

	"wbscanner/pkg/domain"
)

//go:generate mockgen -package mockpipeline -source=interface.go -destination=mock/mockpipeline.go *
type Pipeline interface {
	// Enqueue normalizes and hashes the URL, stores a pending scan and adds a
	// background job unless one already covers the same url hash.
	Enqueue(ctx context.Context, rawURL string) (*domain.Scan, error)
	// Process runs the full verdict pipeline for one scan job and returns the
	// payload handed to the delivery collaborator. It returns nil when no
	// pending scans remain for the job's url hash.
	Process(ctx context.Context, job JobArgs) (*domain.VerdictPayload, error)
	// VerdictByHash returns the most recent completed scan for a url hash.
	VerdictByHash(ctx context.Context, urlHash string) (*domain.Scan, error)
}
