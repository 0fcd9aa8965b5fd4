package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contactbook/apiserver/types"
	"github.com/lib/pq"
)

const contactColumns = `id, first_name, last_name, email, phone_number, birthday, COALESCE(note, ''), user_id, created_at, updated_at`

// ContactRepository handles persistence for contacts. Every operation is
// scoped to the owning user.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) List(ctx context.Context, userID, offset, limit int) ([]types.Contact, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 100 {
		limit = 100
	}

	const countQuery = `SELECT COUNT(1) FROM contacts WHERE user_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1
		ORDER BY id
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	contacts, err := collectContacts(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

func (r *ContactRepository) Get(ctx context.Context, userID, id int) (types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND id = $2`
	return r.scanContact(r.db.QueryRowContext(ctx, query, userID, id))
}

// GetByEmail looks up a contact by normalized email within the owner's
// address book. Used as the friendly duplicate pre-check before Create.
func (r *ContactRepository) GetByEmail(ctx context.Context, userID int, email string) (types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND email = $2`
	return r.scanContact(r.db.QueryRowContext(ctx, query, userID, email))
}

func (r *ContactRepository) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	now := time.Now()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	const query = `
		INSERT INTO contacts (first_name, last_name, email, phone_number, birthday, note, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		contact.FirstName,
		contact.LastName,
		contact.Email,
		contact.PhoneNumber,
		contact.Birthday,
		contact.Note,
		contact.UserID,
		contact.CreatedAt,
		contact.UpdatedAt,
	).Scan(&contact.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Contact{}, ErrConflict
		}
		return types.Contact{}, err
	}
	return contact, nil
}

func (r *ContactRepository) Update(ctx context.Context, contact types.Contact) (types.Contact, error) {
	contact.UpdatedAt = time.Now()

	const query = `
		UPDATE contacts
		SET first_name = $1,
			last_name = $2,
			email = $3,
			phone_number = $4,
			birthday = $5,
			note = $6,
			updated_at = $7
		WHERE user_id = $8 AND id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		contact.FirstName,
		contact.LastName,
		contact.Email,
		contact.PhoneNumber,
		contact.Birthday,
		contact.Note,
		contact.UpdatedAt,
		contact.UserID,
		contact.ID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Contact{}, ErrConflict
		}
		return types.Contact{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Contact{}, err
	}
	if affected == 0 {
		return types.Contact{}, ErrNotFound
	}
	return contact, nil
}

func (r *ContactRepository) Delete(ctx context.Context, userID, id int) error {
	const query = `DELETE FROM contacts WHERE user_id = $1 AND id = $2`
	result, err := r.db.ExecContext(ctx, query, userID, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns the owner's contacts whose first name, last name, or email
// contains the query, case-insensitively.
func (r *ContactRepository) Search(ctx context.Context, userID int, query string) ([]types.Contact, error) {
	const searchQuery = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1
			AND (first_name ILIKE $2 OR last_name ILIKE $2 OR email ILIKE $2)
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, searchQuery, userID, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows, 0)
}

// BirthdaysInRange returns the owner's contacts whose birthday month/day
// falls within [from, to], ignoring year. When the window wraps past
// December 31st the comparison splits into two halves.
func (r *ContactRepository) BirthdaysInRange(ctx context.Context, userID int, from, to time.Time) ([]types.Contact, error) {
	fromKey := from.Format("0102")
	toKey := to.Format("0102")

	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1
			AND birthday IS NOT NULL
			AND to_char(birthday, 'MMDD') BETWEEN $2 AND $3
		ORDER BY to_char(birthday, 'MMDD')`
	if fromKey > toKey {
		query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1
			AND birthday IS NOT NULL
			AND (to_char(birthday, 'MMDD') >= $2 OR to_char(birthday, 'MMDD') <= $3)
		ORDER BY to_char(birthday, 'MMDD')`
	}

	rows, err := r.db.QueryContext(ctx, query, userID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows, 0)
}

func (r *ContactRepository) scanContact(row *sql.Row) (types.Contact, error) {
	var contact types.Contact
	err := row.Scan(
		&contact.ID,
		&contact.FirstName,
		&contact.LastName,
		&contact.Email,
		&contact.PhoneNumber,
		&contact.Birthday,
		&contact.Note,
		&contact.UserID,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Contact{}, ErrNotFound
		}
		return types.Contact{}, err
	}
	return contact, nil
}

func collectContacts(rows *sql.Rows, sizeHint int) ([]types.Contact, error) {
	contacts := make([]types.Contact, 0, sizeHint)
	for rows.Next() {
		var contact types.Contact
		if err := rows.Scan(
			&contact.ID,
			&contact.FirstName,
			&contact.LastName,
			&contact.Email,
			&contact.PhoneNumber,
			&contact.Birthday,
			&contact.Note,
			&contact.UserID,
			&contact.CreatedAt,
			&contact.UpdatedAt,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}
