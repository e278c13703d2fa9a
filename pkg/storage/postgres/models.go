package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wbscanner/pkg/domain"

	"github.com/google/uuid"
)

type PgScan struct {
	ID uuid.UUID `db:"id" goqu:"skipinsert"`

	URLHash string `db:"url_hash"`
	URL     string `db:"url"`
	Status  string `db:"status"`

	Verdict    json.RawMessage `db:"verdict"    goqu:"skipinsert"`
	Resolution json.RawMessage `db:"resolution" goqu:"skipinsert"`

	Attempts  uint           `db:"attempts"   goqu:"skipinsert"`
	LastError sql.NullString `db:"last_error" goqu:"skipinsert"`

	CreatedAt time.Time    `db:"created_at" goqu:"skipinsert"`
	UpdatedAt sql.NullTime `db:"updated_at" goqu:"skipinsert"`
	DeletedAt sql.NullTime `db:"deleted_at" goqu:"skipinsert"`
}

func (p *PgScan) ToDomain() (*domain.Scan, error) {
	var verdict domain.Verdict
	if len(p.Verdict) > 0 {
		if err := json.Unmarshal(p.Verdict, &verdict); err != nil {
			return nil, fmt.Errorf("could not unmarshal scan verdict: %w", err)
		}
	}
	var resolution domain.ResolutionResult
	if len(p.Resolution) > 0 {
		if err := json.Unmarshal(p.Resolution, &resolution); err != nil {
			return nil, fmt.Errorf("could not unmarshal scan resolution: %w", err)
		}
	}

	return &domain.Scan{
		ID:         domain.ScanID(p.ID),
		URLHash:    p.URLHash,
		URL:        p.URL,
		Status:     domain.ScanStatus(p.Status),
		Verdict:    verdict,
		Resolution: resolution,
		Attempts:   p.Attempts,
		LastError:  p.LastError.String,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt.Time,
		DeletedAt:  p.DeletedAt.Time,
	}, nil
}

func (p *PgScan) FromDomain(scan domain.Scan) error {
	verdict, err := json.Marshal(scan.Verdict)
	if err != nil {
		return fmt.Errorf("could not marshal scan verdict: %w", err)
	}
	resolution, err := json.Marshal(scan.Resolution)
	if err != nil {
		return fmt.Errorf("could not marshal scan resolution: %w", err)
	}

	*p = PgScan{
		ID:         uuid.UUID(scan.ID),
		URLHash:    scan.URLHash,
		URL:        scan.URL,
		Status:     string(scan.Status),
		Verdict:    verdict,
		Resolution: resolution,
		Attempts:   scan.Attempts,
		LastError: sql.NullString{
			String: scan.LastError,
			Valid:  scan.LastError != "",
		},
		CreatedAt: scan.CreatedAt,
		UpdatedAt: sql.NullTime{
			Time:  scan.UpdatedAt,
			Valid: !scan.UpdatedAt.IsZero(),
		},
		DeletedAt: sql.NullTime{
			Time:  scan.DeletedAt,
			Valid: !scan.DeletedAt.IsZero(),
		},
	}

	return nil
}

func domainScansToPg(scans []domain.Scan) ([]PgScan, error) {
	out := make([]PgScan, len(scans))
	for i := range out {
		if err := out[i].FromDomain(scans[i]); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func pgScansToDomain(scans []PgScan) ([]domain.Scan, error) {
	out := make([]domain.Scan, 0, len(scans))
	for _, scan := range scans {
		d, err := scan.ToDomain()
		if err != nil {
			return nil, err
		}

		out = append(out, *d)
	}

	return out, nil
}

type PgCacheEntry struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	ExpiresAt time.Time `db:"expires_at"`
}
