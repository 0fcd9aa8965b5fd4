package types

import "time"

// User represents an account in the system.
// It contains identity, verification state, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's email address and login identity.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsActive indicates whether the account is enabled.
	IsActive bool `json:"is_active" db:"is_active"`

	// IsVerified indicates whether the user has redeemed the
	// email-verification token. Accounts start unverified.
	IsVerified bool `json:"is_verified" db:"is_verified"`

	// AvatarURL is the public URL of the user's avatar, empty until
	// an avatar has been uploaded.
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
