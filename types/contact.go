package types

import "time"

// Contact represents an address-book entry owned by a single user.
type Contact struct {
	// ID is the unique identifier of the contact.
	ID int `json:"id" db:"id"`

	// FirstName is the contact's first name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the contact's last name.
	LastName string `json:"last_name" db:"last_name"`

	// Email is the contact's email address, unique within the owner's
	// address book.
	Email string `json:"email" db:"email"`

	// PhoneNumber is the contact's phone number.
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// Birthday is the contact's birthday as a calendar date.
	Birthday Date `json:"birthday" db:"birthday"`

	// Note holds optional free-text information about the contact.
	Note string `json:"note,omitempty" db:"note"`

	// UserID is the ID of the owning user.
	UserID int `json:"user_id" db:"user_id"`

	// CreatedAt is the timestamp when the contact was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the contact.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ContactUpdate is a partial-update payload. Nil fields were absent from the
// request. A present-but-empty value is also skipped when applying the
// update, matching the historical falsy-skip behavior of the API.
type ContactUpdate struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
	Birthday    *Date   `json:"birthday"`
	Note        *string `json:"note"`
}
