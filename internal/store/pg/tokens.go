package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"idengine.org/internal/auth"
)

func (s *Store) CreateRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	err := s.db.QueryRowContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at)
		values ($1, $2, $3, $4)
		returning created_at`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt).Scan(&tok.CreatedAt)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var (
		tok     auth.RefreshToken
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked_at
		from refresh_tokens where id = $1`, id).
		Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		tok.RevokedAt = &t
	}
	return &tok, nil
}

// RevokeRefreshToken is the compare-and-set that serializes redemption of a
// single token: the `revoked_at is null` guard lets exactly one concurrent
// caller observe an affected row.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $2 where id = $1 and revoked_at is null`,
		id, at)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *Store) RevokeRefreshTokensForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $2 where user_id = $1 and revoked_at is null`,
		userID, at)
	return err
}
