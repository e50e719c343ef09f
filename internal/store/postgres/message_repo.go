package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO messages (room_id, author_id, content, attachment_ref, kind, created_at, read_state)
		VALUES ($1, $2, $3, $4, $5, NOW(), 'sent')
		RETURNING id, created_at, read_state
	`, m.RoomID, m.AuthorID, m.Content, m.AttachmentRef, m.Kind,
	).Scan(&m.ID, &m.CreatedAt, &m.ReadState)
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, author_id, content, attachment_ref, kind, created_at, read_state
		FROM messages WHERE id = $1
	`, id).Scan(
		&m.ID, &m.RoomID, &m.AuthorID, &m.Content,
		&m.AttachmentRef, &m.Kind, &m.CreatedAt, &m.ReadState,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListNewest returns up to limit newest visible messages, newest first.
func (r *MessageRepo) ListNewest(ctx context.Context, roomID, userID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = $2
		WHERE m.room_id = $1
		  AND md.user_id IS NULL
		ORDER BY m.id DESC
		LIMIT $3
	`, roomID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list newest messages: %w", err)
	}
	return r.scanMessages(rows)
}

// ListBefore pages strictly backwards from beforeID, newest first.
func (r *MessageRepo) ListBefore(ctx context.Context, roomID, userID, beforeID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = $2
		WHERE m.room_id = $1
		  AND m.id < $3
		  AND md.user_id IS NULL
		ORDER BY m.id DESC
		LIMIT $4
	`, roomID, userID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages before %d: %w", beforeID, err)
	}
	return r.scanMessages(rows)
}

// MarkRead flips messages not authored by userID to read. Each flip
// fires the messages update trigger, so readers on the change feed
// converge without polling.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_state='read'
		WHERE room_id=$1 AND author_id!=$2 AND read_state='sent'
	`, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_deletions (user_id, message_id, room_id, deleted_at)
		SELECT $1, m.id, m.room_id, NOW()
		FROM messages m WHERE m.id = $2
		ON CONFLICT DO NOTHING
	`, userID, messageID)
	if err != nil {
		return fmt.Errorf("insert message_deletion: %w", err)
	}
	return nil
}

// LastMessages returns the newest visible message per room in one
// query, for room-list previews.
func (r *MessageRepo) LastMessages(ctx context.Context, userID int64, roomIDs []int64) (map[int64]*domain.Message, error) {
	if len(roomIDs) == 0 {
		return map[int64]*domain.Message{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (m.room_id)
		       m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = $1
		WHERE m.room_id = ANY($2::bigint[])
		  AND md.user_id IS NULL
		ORDER BY m.room_id, m.id DESC
	`, userID, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	msgs, err := r.scanMessages(rows)
	if err != nil {
		return nil, err
	}
	res := make(map[int64]*domain.Message, len(msgs))
	for _, m := range msgs {
		res[m.RoomID] = m
	}
	return res, nil
}

// UnreadCounts counts, per room, messages newer than the room's cursor
// and not authored by userID. One query regardless of room count; the
// cursors arrive as parallel arrays.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID int64, since map[int64]time.Time) (map[int64]int, error) {
	if len(since) == 0 {
		return map[int64]int{}, nil
	}
	roomIDs := make([]int64, 0, len(since))
	cursors := make([]time.Time, 0, len(since))
	for roomID, at := range since {
		roomIDs = append(roomIDs, roomID)
		cursors = append(cursors, at)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN unnest($2::bigint[], $3::timestamptz[]) AS c(room_id, since)
		  ON c.room_id = m.room_id
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = $1
		WHERE m.author_id != $1
		  AND m.created_at > c.since
		  AND md.user_id IS NULL
		GROUP BY m.room_id
	`, userID, roomIDs, cursors)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]int, len(since))
	for rows.Next() {
		var roomID int64
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		res[roomID] = n
	}
	return res, rows.Err()
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *MessageRepo) scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.RoomID, &m.AuthorID, &m.Content,
			&m.AttachmentRef, &m.Kind, &m.CreatedAt, &m.ReadState,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
