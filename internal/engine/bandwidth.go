package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlUpsertBandwidth = `INSERT INTO bandwidth_profiles (owner_id, upload_bps, download_bps, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			upload_bps   = excluded.upload_bps,
			download_bps = excluded.download_bps,
			updated_at   = excluded.updated_at`

	sqlGetBandwidth = `SELECT owner_id, upload_bps, download_bps
		FROM bandwidth_profiles WHERE owner_id = ?`

	sqlListBandwidth = `SELECT owner_id, upload_bps, download_bps
		FROM bandwidth_profiles ORDER BY owner_id`
)

// SetBandwidthProfile stores an owner's byte-rate caps. Nil limits mean
// unlimited in that direction. Rates must be positive when present.
func (s *Store) SetBandwidthProfile(ctx context.Context, p BandwidthProfile, now time.Time) error {
	if p.OwnerID == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidArgument)
	}

	if p.UploadBPS != nil && *p.UploadBPS <= 0 {
		return fmt.Errorf("%w: upload rate %d", ErrInvalidArgument, *p.UploadBPS)
	}

	if p.DownloadBPS != nil && *p.DownloadBPS <= 0 {
		return fmt.Errorf("%w: download rate %d", ErrInvalidArgument, *p.DownloadBPS)
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertBandwidth,
		p.OwnerID, nullableInt64(p.UploadBPS), nullableInt64(p.DownloadBPS), now.UnixNano())
	if err != nil {
		return fmt.Errorf("engine: setting bandwidth profile for %s: %w", p.OwnerID, err)
	}

	s.logger.Info("bandwidth profile updated", "owner_id", p.OwnerID)

	return nil
}

// GetBandwidthProfile returns an owner's profile. Owners without a
// stored profile get a zero profile, meaning unlimited both ways.
func (s *Store) GetBandwidthProfile(ctx context.Context, ownerID string) (*BandwidthProfile, error) {
	row := s.db.QueryRowContext(ctx, sqlGetBandwidth, ownerID)

	p, err := scanBandwidthProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return &BandwidthProfile{OwnerID: ownerID}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("engine: reading bandwidth profile for %s: %w", ownerID, err)
	}

	return p, nil
}

// ListBandwidthProfiles returns every stored profile. Used to seed the
// limiter at startup.
func (s *Store) ListBandwidthProfiles(ctx context.Context) ([]BandwidthProfile, error) {
	rows, err := s.db.QueryContext(ctx, sqlListBandwidth)
	if err != nil {
		return nil, fmt.Errorf("engine: listing bandwidth profiles: %w", err)
	}
	defer rows.Close()

	var profiles []BandwidthProfile

	for rows.Next() {
		p, err := scanBandwidthProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("engine: scanning bandwidth profile row: %w", err)
		}

		profiles = append(profiles, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating bandwidth profile rows: %w", err)
	}

	return profiles, nil
}

func scanBandwidthProfile(scan func(...any) error) (*BandwidthProfile, error) {
	var (
		p        BandwidthProfile
		up, down sql.NullInt64
	)

	if err := scan(&p.OwnerID, &up, &down); err != nil {
		return nil, err
	}

	if up.Valid {
		p.UploadBPS = &up.Int64
	}

	if down.Valid {
		p.DownloadBPS = &down.Int64
	}

	return &p, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}

	return *v
}
