package service

import (
	"context"
	"errors"
	"fmt"

	"chatsync/internal/domain"
)

type RoomService struct {
	rooms domain.RoomRepository
}

func NewRoomService(rooms domain.RoomRepository) *RoomService {
	return &RoomService{rooms: rooms}
}

type RoomCreateInput struct {
	Name      *string
	Kind      domain.RoomKind
	MemberIDs []int64
}

// CreateRoom creates a room with the creator included in the member
// set. Creating a direct room that already exists returns the existing
// room; two clients racing on the same pair both succeed with the same
// result.
func (s *RoomService) CreateRoom(ctx context.Context, in RoomCreateInput, creatorID int64) (*domain.Room, error) {
	if len(in.MemberIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one member is required", domain.ErrInvalidInput)
	}
	if in.Kind == "" {
		in.Kind = domain.RoomDirect
	}

	uniqueIDs := make([]int64, 0, len(in.MemberIDs)+1)
	seen := map[int64]struct{}{creatorID: {}}
	uniqueIDs = append(uniqueIDs, creatorID)
	for _, id := range in.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniqueIDs = append(uniqueIDs, id)
	}

	if in.Kind == domain.RoomDirect {
		if len(uniqueIDs) != 2 {
			return nil, fmt.Errorf("%w: a direct room has exactly two members", domain.ErrInvalidInput)
		}
		existing, err := s.rooms.FindDirect(ctx, uniqueIDs[0], uniqueIDs[1])
		if err != nil {
			return nil, fmt.Errorf("find direct room: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	room := &domain.Room{
		Name:      in.Name,
		Kind:      in.Kind,
		CreatedBy: creatorID,
	}
	if err := s.rooms.Create(ctx, room, uniqueIDs); err != nil {
		// A concurrent creator may have won the race on the same direct
		// pair; resolve to their room instead of failing.
		if in.Kind == domain.RoomDirect && errors.Is(err, domain.ErrConflict) {
			existing, ferr := s.rooms.FindDirect(ctx, uniqueIDs[0], uniqueIDs[1])
			if ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return room, nil
}

func (s *RoomService) ListForUser(ctx context.Context, userID int64) ([]*domain.Room, error) {
	return s.rooms.ListForUser(ctx, userID)
}

// GetRoom returns a room the caller is a member of.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID int64) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ok, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a member of this room", domain.ErrForbidden)
	}
	return room, nil
}

func (s *RoomService) MemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	return s.rooms.MemberIDs(ctx, roomID)
}

func (s *RoomService) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	return s.rooms.IsMember(ctx, roomID, userID)
}
