package model

import "time"

// Roles recognised by the JWT middleware.
const (
	RoleVendor = "VENDOR"
	RoleAdmin  = "ADMIN"
)

// NotifyChannel is a vendor's preferred way of hearing about new requests.
type NotifyChannel string

const (
	ChannelEmail NotifyChannel = "email"
	ChannelSMS   NotifyChannel = "sms"
	ChannelBoth  NotifyChannel = "both"
)

// WantsEmail reports whether email delivery is part of the channel.
func (c NotifyChannel) WantsEmail() bool { return c == ChannelEmail || c == ChannelBoth || c == "" }

// WantsSMS reports whether SMS delivery is part of the channel.
func (c NotifyChannel) WantsSMS() bool { return c == ChannelSMS || c == ChannelBoth }

// User represents a vendor or administrator account as stored in the
// `users` table.  Customers do not have accounts; they are identified by
// the name and email captured on each booking.
//
// Fields:
//  ID            – primary key identifier of the user.
//  Email         – unique email address, also the login name.
//  PasswordHash  – bcrypt hashed password.
//  Role          – VENDOR or ADMIN.
//  Name          – display name used in notifications.
//  Phone         – E.164 phone number for SMS (may be empty).
//  NotifyChannel – email, sms or both.
//  IsActive      – whether the account may log in.
//  CreatedAt     – timestamp of creation.
//  UpdatedAt     – timestamp of last update.
type User struct {
	ID            uint64        // users.id
	Email         string        // users.email
	PasswordHash  string        // users.password_hash
	Role          string        // users.role
	Name          string        // users.name
	Phone         string        // users.phone
	NotifyChannel NotifyChannel // users.notify_channel
	IsActive      bool          // users.is_active
	CreatedAt     time.Time     // users.created_at
	UpdatedAt     time.Time     // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and contains metadata for expiry
// and revocation.  The plain token is not stored; only its
// SHA‑256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
