package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/service"
)

type MockRoomRepo struct {
	mock.Mock
}

func (m *MockRoomRepo) Create(ctx context.Context, r *domain.Room, memberIDs []int64) error {
	args := m.Called(ctx, r, memberIDs)
	return args.Error(0)
}

func (m *MockRoomRepo) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Room, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Room), args.Error(1)
}

func (m *MockRoomRepo) FindDirect(ctx context.Context, a, b int64) (*domain.Room, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepo) MemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockRoomRepo) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("DirectCreatesWhenAbsent", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		repo.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(nil, nil)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.Room) bool {
			return r.Kind == domain.RoomDirect && r.CreatedBy == 1
		}), []int64{1, 2}).Return(nil)

		room, err := svc.CreateRoom(ctx, service.RoomCreateInput{MemberIDs: []int64{2}}, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.RoomDirect, room.Kind)
	})

	t.Run("DirectReturnsExisting", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		existing := &domain.Room{ID: 42, Kind: domain.RoomDirect}
		repo.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(existing, nil)

		room, err := svc.CreateRoom(ctx, service.RoomCreateInput{MemberIDs: []int64{2}}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(42), room.ID)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("DirectRaceResolvesToWinner", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		winner := &domain.Room{ID: 43, Kind: domain.RoomDirect}
		repo.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(nil, nil).Once()
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrConflict)
		repo.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(winner, nil)

		room, err := svc.CreateRoom(ctx, service.RoomCreateInput{MemberIDs: []int64{2}}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(43), room.ID)
	})

	t.Run("DirectRequiresExactlyTwo", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		_, err := svc.CreateRoom(ctx, service.RoomCreateInput{MemberIDs: []int64{2, 3}}, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("CreatorIsDeduped", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		name := "team"
		repo.On("Create", mock.Anything, mock.Anything, []int64{1, 2, 3}).Return(nil)

		_, err := svc.CreateRoom(ctx, service.RoomCreateInput{
			Name:      &name,
			Kind:      domain.RoomGroup,
			MemberIDs: []int64{1, 2, 2, 3},
		}, 1)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("NoMembers", func(t *testing.T) {
		repo := new(MockRoomRepo)
		svc := service.NewRoomService(repo)

		_, err := svc.CreateRoom(ctx, service.RoomCreateInput{}, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestGetRoomEnforcesMembership(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomRepo)
	svc := service.NewRoomService(repo)

	room := &domain.Room{ID: 9, Kind: domain.RoomGroup}
	repo.On("GetByID", mock.Anything, int64(9)).Return(room, nil)
	repo.On("IsMember", mock.Anything, int64(9), int64(1)).Return(true, nil)
	repo.On("IsMember", mock.Anything, int64(9), int64(2)).Return(false, nil)

	got, err := svc.GetRoom(ctx, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, room, got)

	_, err = svc.GetRoom(ctx, 9, 2)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
