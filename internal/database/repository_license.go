package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"license-reseller/internal/license"
)

const keyColumns = `id, license_key, game, reseller_id, device_limit, created_at, expires_at, revoked`

func scanKey(row pgx.Row) (*license.Key, error) {
	var k license.Key
	var game string
	err := row.Scan(&k.ID, &k.Key, &game, &k.ResellerID, &k.DeviceLimit, &k.CreatedAt, &k.ExpiresAt, &k.Revoked)
	if err != nil {
		return nil, err
	}
	k.Game = license.Game(game)
	return &k, nil
}

func collectKeys(rows pgx.Rows) ([]*license.Key, error) {
	defer rows.Close()

	var keys []*license.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// FindKeyByString retrieves a key by its key string
func (r *Repository) FindKeyByString(ctx context.Context, key string) (*license.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM license_keys WHERE license_key = $1`

	k, err := scanKey(r.db.Pool.QueryRow(ctx, query, key))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license key: %w", err)
	}
	return k, nil
}

// FindKeyByID retrieves a key by id
func (r *Repository) FindKeyByID(ctx context.Context, id int64) (*license.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM license_keys WHERE id = $1`

	k, err := scanKey(r.db.Pool.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license key: %w", err)
	}
	return k, nil
}

// InsertKey stores a new key. A taken key string yields license.ErrKeyAlreadyExists.
func (r *Repository) InsertKey(ctx context.Context, key *license.Key) (*license.Key, error) {
	query := `
		INSERT INTO license_keys (license_key, game, reseller_id, device_limit, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (license_key) DO NOTHING
		RETURNING ` + keyColumns

	k, err := scanKey(r.db.Pool.QueryRow(ctx, query,
		key.Key, string(key.Game), key.ResellerID, key.DeviceLimit, key.CreatedAt, key.ExpiresAt,
	))
	if isNoRows(err) {
		return nil, license.ErrKeyAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create license key: %w", err)
	}
	return k, nil
}

// SetKeyRevoked flips the revoked flag on
func (r *Repository) SetKeyRevoked(ctx context.Context, id int64) (*license.Key, error) {
	query := `UPDATE license_keys SET revoked = TRUE WHERE id = $1 RETURNING ` + keyColumns

	k, err := scanKey(r.db.Pool.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke license key: %w", err)
	}
	return k, nil
}

// DeleteKey removes a key; devices cascade
func (r *Repository) DeleteKey(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM license_keys WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete license key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListKeysByReseller lists a reseller's keys, newest first
func (r *Repository) ListKeysByReseller(ctx context.Context, resellerID int64) ([]*license.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM license_keys WHERE reseller_id = $1 ORDER BY id DESC`

	rows, err := r.db.Pool.Query(ctx, query, resellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}
	return collectKeys(rows)
}

// ListKeys lists every key, newest first
func (r *Repository) ListKeys(ctx context.Context) ([]*license.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM license_keys ORDER BY id DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}
	return collectKeys(rows)
}
