package service

import (
	"context"
	"errors"
	"fmt"

	"chatsync/internal/domain"
)

// UserService provides user-related operations. It doubles as the
// profile-cache fetcher: FetchByIDs is the single batched entry point
// the cache uses to resolve authors.
type UserService struct {
	users      domain.UserRepository
	invalidate func(id int64)
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

// OnProfileChanged registers a hook fired after a profile update, used
// to drop stale entries from the profile cache.
func (s *UserService) OnProfileChanged(fn func(id int64)) {
	s.invalidate = fn
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// FetchByIDs resolves a batch of profiles in one repository call.
func (s *UserService) FetchByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	return s.users.GetByIDs(ctx, ids)
}

func (s *UserService) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return s.users.ListActive(ctx, offset, limit)
}

type ProfileUpdateInput struct {
	Username  *string
	Email     *string
	AvatarURL *string
}

// UpdateProfile applies a partial profile update for the caller.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, in ProfileUpdateInput) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if in.Username != nil && *in.Username != "" && *in.Username != user.Username {
		existing, err := s.users.GetByUsername(ctx, *in.Username)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check username: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: username already taken", domain.ErrConflict)
		}
		user.Username = *in.Username
	}
	if in.Email != nil {
		user.Email = in.Email
	}
	if in.AvatarURL != nil {
		user.AvatarURL = in.AvatarURL
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if s.invalidate != nil {
		s.invalidate(user.ID)
	}
	return user, nil
}

func (s *UserService) Deactivate(ctx context.Context, id int64) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	user.IsActive = false
	return s.users.Update(ctx, user)
}
