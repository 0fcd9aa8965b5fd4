package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/contactbook/apiserver/types"
)

// ErrAlreadyVerified is returned when redeeming a verification token for an
// account that is already verified.
var ErrAlreadyVerified = errors.New("email already verified")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetVerified(ctx context.Context, id int) error
	SetAvatarURL(ctx context.Context, id int, avatarURL string) error
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// MarkVerified transitions the user identified by email from unverified to
// verified. The transition is terminal; a second redemption fails with
// ErrAlreadyVerified.
func (s *UserService) MarkVerified(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, err
	}
	if user.IsVerified {
		return types.User{}, ErrAlreadyVerified
	}
	if err := s.repo.SetVerified(ctx, user.ID); err != nil {
		return types.User{}, fmt.Errorf("mark verified: %w", err)
	}
	user.IsVerified = true
	return user, nil
}

// SetAvatarURL persists the public URL of a freshly uploaded avatar.
func (s *UserService) SetAvatarURL(ctx context.Context, id int, avatarURL string) error {
	return s.repo.SetAvatarURL(ctx, id, avatarURL)
}
