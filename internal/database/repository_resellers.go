package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"license-reseller/internal/license"
)

const resellerColumns = `id, username, password_hash, credits, active, created_at`

func scanReseller(row pgx.Row) (*license.Reseller, error) {
	var rs license.Reseller
	if err := row.Scan(&rs.ID, &rs.Username, &rs.PasswordHash, &rs.Credits, &rs.Active, &rs.CreatedAt); err != nil {
		return nil, err
	}
	return &rs, nil
}

// CreateReseller inserts a reseller directly, without a referral token
func (r *Repository) CreateReseller(ctx context.Context, reseller *license.Reseller) (*license.Reseller, error) {
	query := `
		INSERT INTO resellers (username, password_hash, credits, active)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + resellerColumns
	created, err := scanReseller(r.db.Pool.QueryRow(ctx, query, reseller.Username, reseller.PasswordHash, reseller.Credits, reseller.Active))
	if isUniqueViolation(err) {
		return nil, license.ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reseller: %w", err)
	}
	return created, nil
}

// FindReseller retrieves a reseller by id
func (r *Repository) FindReseller(ctx context.Context, id int64) (*license.Reseller, error) {
	rs, err := scanReseller(r.db.Pool.QueryRow(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reseller: %w", err)
	}
	return rs, nil
}

// FindResellerByUsername retrieves a reseller by username
func (r *Repository) FindResellerByUsername(ctx context.Context, username string) (*license.Reseller, error) {
	rs, err := scanReseller(r.db.Pool.QueryRow(ctx, `SELECT `+resellerColumns+` FROM resellers WHERE username = $1`, username))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reseller: %w", err)
	}
	return rs, nil
}

// AdjustResellerCredits adds delta to a reseller's balance in one statement
func (r *Repository) AdjustResellerCredits(ctx context.Context, id int64, delta int64) (*license.Reseller, error) {
	query := `UPDATE resellers SET credits = credits + $2 WHERE id = $1 RETURNING ` + resellerColumns

	rs, err := scanReseller(r.db.Pool.QueryRow(ctx, query, id, delta))
	if isNoRows(err) {
		return nil, license.ErrResellerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust credits: %w", err)
	}
	return rs, nil
}

// ListResellers lists resellers by registration order
func (r *Repository) ListResellers(ctx context.Context) ([]*license.Reseller, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+resellerColumns+` FROM resellers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resellers: %w", err)
	}
	defer rows.Close()

	var resellers []*license.Reseller
	for rows.Next() {
		rs, err := scanReseller(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reseller: %w", err)
		}
		resellers = append(resellers, rs)
	}
	return resellers, rows.Err()
}

// SetResellerActive toggles the active flag
func (r *Repository) SetResellerActive(ctx context.Context, id int64, active bool) (*license.Reseller, error) {
	query := `UPDATE resellers SET active = $2 WHERE id = $1 RETURNING ` + resellerColumns

	rs, err := scanReseller(r.db.Pool.QueryRow(ctx, query, id, active))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update reseller: %w", err)
	}
	return rs, nil
}

// RegisterReseller consumes a referral token and creates the reseller in one
// transaction. Either both happen or neither does.
func (r *Repository) RegisterReseller(ctx context.Context, token string, reseller *license.Reseller) (*license.Reseller, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var used bool
	err = tx.QueryRow(ctx, `SELECT used FROM referral_tokens WHERE token = $1 FOR UPDATE`, token).Scan(&used)
	if isNoRows(err) {
		return nil, license.ErrReferralTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral token: %w", err)
	}
	if used {
		return nil, license.ErrReferralTokenUsed
	}

	query := `
		INSERT INTO resellers (username, password_hash, credits, active)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + resellerColumns
	created, err := scanReseller(tx.QueryRow(ctx, query, reseller.Username, reseller.PasswordHash, reseller.Credits, reseller.Active))
	if isUniqueViolation(err) {
		return nil, license.ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reseller: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE referral_tokens SET used = TRUE, used_by = $2, used_at = NOW() WHERE token = $1`,
		token, created.Username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume referral token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return created, nil
}

// CreateReferralToken stores a new unused token
func (r *Repository) CreateReferralToken(ctx context.Context, token string) (*license.ReferralToken, error) {
	query := `
		INSERT INTO referral_tokens (token)
		VALUES ($1)
		RETURNING token, used, used_by, created_at, used_at
	`
	var t license.ReferralToken
	err := r.db.Pool.QueryRow(ctx, query, token).Scan(&t.Token, &t.Used, &t.UsedBy, &t.CreatedAt, &t.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral token: %w", err)
	}
	return &t, nil
}

// ListReferralTokens lists tokens, newest first
func (r *Repository) ListReferralTokens(ctx context.Context) ([]*license.ReferralToken, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT token, used, used_by, created_at, used_at
		FROM referral_tokens
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list referral tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*license.ReferralToken
	for rows.Next() {
		var t license.ReferralToken
		if err := rows.Scan(&t.Token, &t.Used, &t.UsedBy, &t.CreatedAt, &t.UsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan referral token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeleteReferralToken removes a token
func (r *Repository) DeleteReferralToken(ctx context.Context, token string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM referral_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete referral token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
