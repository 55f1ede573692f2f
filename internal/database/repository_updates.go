package database

import (
	"context"
	"fmt"

	"license-reseller/internal/license"
)

// CreateUpdate stores a broadcast message
func (r *Repository) CreateUpdate(ctx context.Context, message string) (*license.Update, error) {
	var u license.Update
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO updates (message) VALUES ($1) RETURNING id, message, created_at`,
		message,
	).Scan(&u.ID, &u.Message, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create update: %w", err)
	}
	return &u, nil
}

// ListUpdates returns the newest limit messages
func (r *Repository) ListUpdates(ctx context.Context, limit int) ([]*license.Update, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, message, created_at FROM updates ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	var updates []*license.Update
	for rows.Next() {
		var u license.Update
		if err := rows.Scan(&u.ID, &u.Message, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

// LatestUpdate returns the newest message or nil
func (r *Repository) LatestUpdate(ctx context.Context) (*license.Update, error) {
	var u license.Update
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, message, created_at FROM updates ORDER BY id DESC LIMIT 1`,
	).Scan(&u.ID, &u.Message, &u.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}
	return &u, nil
}

// DeleteUpdate removes a message
func (r *Repository) DeleteUpdate(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM updates WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete update: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
