package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
)

const birthdayWindowDays = 7

// ContactRepository defines persistence operations for contacts.
type ContactRepository interface {
	List(ctx context.Context, userID, offset, limit int) ([]types.Contact, int, error)
	Get(ctx context.Context, userID, id int) (types.Contact, error)
	GetByEmail(ctx context.Context, userID int, email string) (types.Contact, error)
	Create(ctx context.Context, contact types.Contact) (types.Contact, error)
	Update(ctx context.Context, contact types.Contact) (types.Contact, error)
	Delete(ctx context.Context, userID, id int) error
	Search(ctx context.Context, userID int, query string) ([]types.Contact, error)
	BirthdaysInRange(ctx context.Context, userID int, from, to time.Time) ([]types.Contact, error)
}

// ContactService encapsulates contact use-cases.
type ContactService struct {
	repo ContactRepository
}

func NewContactService(repo ContactRepository) *ContactService {
	return &ContactService{repo: repo}
}

func (s *ContactService) List(ctx context.Context, userID, offset, limit int) ([]types.Contact, int, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, userID, offset, limit)
}

func (s *ContactService) Get(ctx context.Context, userID, id int) (types.Contact, error) {
	return s.repo.Get(ctx, userID, id)
}

// Create persists a contact owned by userID. The email is normalized and
// checked against the owner's existing contacts; a duplicate fails with
// store.ErrConflict before touching the insert path.
func (s *ContactService) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	contact.Email = NormalizeEmail(contact.Email)

	if _, err := s.repo.GetByEmail(ctx, contact.UserID, contact.Email); err == nil {
		return types.Contact{}, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Contact{}, err
	}

	return s.repo.Create(ctx, contact)
}

// Update applies a partial update to the owner's contact. A field is
// overwritten only when it is present in the payload and non-empty; empty
// strings and zero dates are skipped.
func (s *ContactService) Update(ctx context.Context, userID, id int, update types.ContactUpdate) (types.Contact, error) {
	contact, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return types.Contact{}, err
	}

	applyUpdate(&contact, update)
	return s.repo.Update(ctx, contact)
}

// Delete removes the owner's contact and returns its last representation.
func (s *ContactService) Delete(ctx context.Context, userID, id int) (types.Contact, error) {
	contact, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return types.Contact{}, err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return types.Contact{}, err
	}
	return contact, nil
}

// Search returns the owner's contacts matching the free-text query. An empty
// query yields an empty result set, not the full address book.
func (s *ContactService) Search(ctx context.Context, userID int, query string) ([]types.Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Contact{}, nil
	}
	return s.repo.Search(ctx, userID, query)
}

// UpcomingBirthdays returns the owner's contacts whose birthday falls within
// the inclusive window [today, today+7] compared by month and day, so a
// window spanning New Year still matches early-January birthdays.
func (s *ContactService) UpcomingBirthdays(ctx context.Context, userID int, now time.Time) ([]types.Contact, error) {
	from := now
	to := now.AddDate(0, 0, birthdayWindowDays)
	return s.repo.BirthdaysInRange(ctx, userID, from, to)
}

// NormalizeEmail canonicalizes a contact email before uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func applyUpdate(contact *types.Contact, update types.ContactUpdate) {
	if update.FirstName != nil && *update.FirstName != "" {
		contact.FirstName = *update.FirstName
	}
	if update.LastName != nil && *update.LastName != "" {
		contact.LastName = *update.LastName
	}
	if update.Email != nil && *update.Email != "" {
		contact.Email = NormalizeEmail(*update.Email)
	}
	if update.PhoneNumber != nil && *update.PhoneNumber != "" {
		contact.PhoneNumber = *update.PhoneNumber
	}
	if update.Birthday != nil && !update.Birthday.IsZero() {
		contact.Birthday = *update.Birthday
	}
	if update.Note != nil && *update.Note != "" {
		contact.Note = *update.Note
	}
}
