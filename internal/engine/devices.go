package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlGetDevice = `SELECT device_id, owner_id, name, last_seen_at, created_at
		FROM devices WHERE device_id = ?`

	sqlInsertDevice = `INSERT INTO devices
		(device_id, owner_id, name, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlTouchDevice = `UPDATE devices SET name = ?, last_seen_at = ? WHERE device_id = ?`

	sqlListDevices = `SELECT device_id, owner_id, name, last_seen_at, created_at
		FROM devices WHERE owner_id = ? ORDER BY created_at`

	sqlDeleteDevice = `DELETE FROM devices WHERE device_id = ?`

	sqlDeviceUploadIDs = `SELECT upload_id FROM uploads WHERE device_id = ?`
)

// RegisterDevice registers a device for an owner. Re-registering the same
// owner/device pair is idempotent and bumps last_seen_at; a device ID held
// by a different owner fails with ErrConflict.
func (s *Store) RegisterDevice(ctx context.Context, ownerID, deviceID, name string, now time.Time) (*Device, error) {
	if ownerID == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: owner and device IDs must not be empty", ErrInvalidArgument)
	}

	existing, err := s.GetDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: device %s", ErrConflict, deviceID)
		}

		if _, err := s.db.ExecContext(ctx, sqlTouchDevice, name, now.UnixNano(), deviceID); err != nil {
			return nil, fmt.Errorf("engine: updating device %s: %w", deviceID, err)
		}

		existing.Name = name
		existing.LastSeenAt = now

		return existing, nil
	}

	d := &Device{
		ID:         deviceID,
		OwnerID:    ownerID,
		Name:       name,
		LastSeenAt: now,
		CreatedAt:  now,
	}

	_, err = s.db.ExecContext(ctx, sqlInsertDevice,
		d.ID, d.OwnerID, d.Name, d.LastSeenAt.UnixNano(), d.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("engine: inserting device %s: %w", deviceID, err)
	}

	s.logger.Info("device registered", "device_id", deviceID, "owner_id", ownerID)

	return d, nil
}

// GetDevice returns the device with the given ID, or ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var (
		d                    Device
		lastSeen, createdAt int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetDevice, deviceID).
		Scan(&d.ID, &d.OwnerID, &d.Name, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}

	if err != nil {
		return nil, fmt.Errorf("engine: reading device %s: %w", deviceID, err)
	}

	d.LastSeenAt = time.Unix(0, lastSeen)
	d.CreatedAt = time.Unix(0, createdAt)

	return &d, nil
}

// ListDevices returns all devices registered to an owner.
func (s *Store) ListDevices(ctx context.Context, ownerID string) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDevices, ownerID)
	if err != nil {
		return nil, fmt.Errorf("engine: listing devices for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var devices []Device

	for rows.Next() {
		var (
			d                   Device
			lastSeen, createdAt int64
		)

		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("engine: scanning device row: %w", err)
		}

		d.LastSeenAt = time.Unix(0, lastSeen)
		d.CreatedAt = time.Unix(0, createdAt)
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating device rows: %w", err)
	}

	return devices, nil
}

// RemoveDevice deletes a device. Schedules, manifest entries, reports,
// uploads, and conflicts cascade via foreign keys. The IDs of cascaded
// uploads are returned so the caller can release their staged chunks.
func (s *Store) RemoveDevice(ctx context.Context, deviceID string) ([]string, error) {
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlDeviceUploadIDs, deviceID)
	if err != nil {
		return nil, fmt.Errorf("engine: listing uploads for device %s: %w", deviceID, err)
	}
	defer rows.Close()

	var uploadIDs []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("engine: scanning upload id: %w", err)
		}

		uploadIDs = append(uploadIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating upload ids: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlDeleteDevice, deviceID); err != nil {
		return nil, fmt.Errorf("engine: deleting device %s: %w", deviceID, err)
	}

	s.logger.Info("device removed", "device_id", deviceID, "cascaded_uploads", len(uploadIDs))

	return uploadIDs, nil
}
