package session

import (
	"context"
	"time"

	"chatsync/internal/domain"
)

// RepoLog binds a message repository to one user, hiding that user's
// soft-deletions from every query. It satisfies Log for in-process
// sessions running against the server's own store.
type RepoLog struct {
	msgs   domain.MessageRepository
	userID int64
}

func NewRepoLog(msgs domain.MessageRepository, userID int64) *RepoLog {
	return &RepoLog{msgs: msgs, userID: userID}
}

func (r *RepoLog) ListNewest(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	return r.msgs.ListNewest(ctx, roomID, r.userID, limit)
}

func (r *RepoLog) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]*domain.Message, error) {
	return r.msgs.ListBefore(ctx, roomID, r.userID, beforeID, limit)
}

func (r *RepoLog) UnreadCounts(ctx context.Context, since map[int64]time.Time) (map[int64]int, error) {
	return r.msgs.UnreadCounts(ctx, r.userID, since)
}

func (r *RepoLog) LastMessages(ctx context.Context, roomIDs []int64) (map[int64]*domain.Message, error) {
	return r.msgs.LastMessages(ctx, r.userID, roomIDs)
}
