package database

import (
	"context"
	"fmt"

	"license-reseller/internal/license"
)

// ListDevicesForKey returns a key's devices in registration order
func (r *Repository) ListDevicesForKey(ctx context.Context, keyID int64) ([]*license.Device, error) {
	query := `
		SELECT id, key_id, device_id, registered_at
		FROM devices
		WHERE key_id = $1
		ORDER BY registered_at, id
	`
	rows, err := r.db.Pool.Query(ctx, query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*license.Device
	for rows.Next() {
		var d license.Device
		if err := rows.Scan(&d.ID, &d.KeyID, &d.DeviceID, &d.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// InsertDevice binds a device to a key. An existing pair yields license.ErrDuplicateDevice
// and a missing key license.ErrKeyNotFound.
func (r *Repository) InsertDevice(ctx context.Context, keyID int64, deviceID string) (*license.Device, error) {
	query := `
		INSERT INTO devices (key_id, device_id)
		VALUES ($1, $2)
		ON CONFLICT (key_id, device_id) DO NOTHING
		RETURNING id, key_id, device_id, registered_at
	`
	var d license.Device
	err := r.db.Pool.QueryRow(ctx, query, keyID, deviceID).Scan(&d.ID, &d.KeyID, &d.DeviceID, &d.RegisteredAt)
	if isNoRows(err) {
		return nil, license.ErrDuplicateDevice
	}
	if isForeignKeyViolation(err) {
		return nil, license.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert device: %w", err)
	}
	return &d, nil
}

// RemoveDevice unbinds a device, reporting whether it existed
func (r *Repository) RemoveDevice(ctx context.Context, deviceID string, keyID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM devices WHERE key_id = $1 AND device_id = $2`, keyID, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to remove device: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountDevicesByKey counts devices for each of keyIDs
func (r *Repository) CountDevicesByKey(ctx context.Context, keyIDs []int64) (map[int64]int, error) {
	query := `SELECT key_id, COUNT(*) FROM devices WHERE key_id = ANY($1) GROUP BY key_id`

	rows, err := r.db.Pool.Query(ctx, query, keyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int, len(keyIDs))
	for rows.Next() {
		var keyID int64
		var count int
		if err := rows.Scan(&keyID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan device count: %w", err)
		}
		counts[keyID] = count
	}
	return counts, rows.Err()
}
