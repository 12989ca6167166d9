package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/experience-booking/internal/model"
)

// UserRepo reads and creates vendor and admin accounts.
type UserRepo struct {
	db DBTX
}

// NewUserRepo returns a UserRepo bound to db.
func NewUserRepo(db DBTX) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, password_hash, role, name, phone, notify_channel, is_active, created_at, updated_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Name, &u.Phone,
		&u.NotifyChannel, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser inserts u with an already hashed password and returns its ID.
// The email is normalised to lower case.
func (r *UserRepo) CreateUser(ctx context.Context, u model.User) (uint64, error) {
	if u.NotifyChannel == "" {
		u.NotifyChannel = model.ChannelEmail
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, name, phone, notify_channel)
         VALUES (?, ?, ?, ?, ?, ?)`,
		normalizeEmail(u.Email), u.PasswordHash, u.Role, u.Name, u.Phone, u.NotifyChannel)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetUserByEmail fetches a user by normalised email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	email = normalizeEmail(email)
	u, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", email))
	if err != nil {
		return model.User{}, notFound(err, "user", email)
	}
	return u, nil
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
	if err != nil {
		return model.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
