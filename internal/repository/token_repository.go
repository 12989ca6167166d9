package repository

import (
	"context"
	"time"
)

// TokenRepo keeps hashed refresh tokens for vendor and admin sessions.
type TokenRepo struct {
	db  DBTX
	now func() time.Time
}

func NewTokenRepo(db DBTX) *TokenRepo {
	return &TokenRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// StoreRefresh records a freshly issued token hash.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?, ?, ?)`,
		userID, tokenHash, exp.UTC())
	return err
}

// ConsumeRefresh revokes a live token and returns its owner.  The revoke
// is a guarded update so a token can be spent once even under concurrent
// refreshes.  Unknown, revoked and expired tokens report ErrNotFound.
func (r *TokenRepo) ConsumeRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	now := r.now()
	ok, err := affected(r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
         WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		now, tokenHash, now))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	var userID uint64
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM refresh_tokens WHERE token_hash = ?`, tokenHash).Scan(&userID)
	if err != nil {
		return 0, notFound(err, "refresh token", "")
	}
	return userID, nil
}

// RevokeAllForUser ends every session of a user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		r.now(), userID)
	return err
}

// PurgeExpired deletes tokens that expired before cutoff.
func (r *TokenRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
