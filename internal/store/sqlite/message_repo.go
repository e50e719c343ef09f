package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

// MessageRepo persists messages and, because SQLite has no NOTIFY,
// publishes change events on the in-process broker after each write.
type MessageRepo struct {
	db     *sql.DB
	broker *feed.Broker
}

func NewMessageRepo(db *sql.DB, broker *feed.Broker) *MessageRepo {
	return &MessageRepo{db: db, broker: broker}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, author_id, content, attachment_ref, kind, created_at, read_state)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, 'sent')
	`, m.RoomID, m.AuthorID, m.Content, m.AttachmentRef, m.Kind)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.ReadState = domain.StateSent
	if err := r.db.QueryRowContext(ctx, `
		SELECT created_at FROM messages WHERE id = ?
	`, id).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("read back message: %w", err)
	}

	r.broker.Publish(feed.Event{
		Op:      feed.OpInsert,
		Table:   feed.TableMessages,
		RoomID:  m.RoomID,
		Message: m,
	})
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, author_id, content, attachment_ref, kind, created_at, read_state
		FROM messages WHERE id = ?
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

func (r *MessageRepo) ListNewest(ctx context.Context, roomID, userID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = ?
		WHERE m.room_id = ?
		  AND md.user_id IS NULL
		ORDER BY m.id DESC
		LIMIT ?
	`, userID, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list newest messages: %w", err)
	}
	return r.scanMessages(rows)
}

func (r *MessageRepo) ListBefore(ctx context.Context, roomID, userID, beforeID int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = ?
		WHERE m.room_id = ?
		  AND m.id < ?
		  AND md.user_id IS NULL
		ORDER BY m.id DESC
		LIMIT ?
	`, userID, roomID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages before %d: %w", beforeID, err)
	}
	return r.scanMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, roomID, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_state='read'
		WHERE room_id=? AND author_id!=? AND read_state='sent'
	`, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		// Re-read the flipped rows so feed subscribers see the new state.
		msgs, err := r.listRead(ctx, roomID, userID)
		if err != nil {
			return n, err
		}
		for _, m := range msgs {
			r.broker.Publish(feed.Event{
				Op:      feed.OpUpdate,
				Table:   feed.TableMessages,
				RoomID:  m.RoomID,
				Message: m,
			})
		}
	}
	return n, nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, userID int64) error {
	var roomID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT room_id FROM messages WHERE id = ?`, messageID,
	).Scan(&roomID)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve message room: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_deletions (user_id, message_id, room_id, deleted_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, userID, messageID, roomID)
	if err != nil {
		return fmt.Errorf("insert message_deletion: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.broker.Publish(feed.Event{
			Op:        feed.OpInsert,
			Table:     feed.TableDeletions,
			RoomID:    roomID,
			MessageID: messageID,
			UserID:    userID,
		})
	}
	return nil
}

func (r *MessageRepo) LastMessages(ctx context.Context, userID int64, roomIDs []int64) (map[int64]*domain.Message, error) {
	if len(roomIDs) == 0 {
		return map[int64]*domain.Message{}, nil
	}
	placeholders := `?` + strings.Repeat(",?", len(roomIDs)-1)
	args := []any{userID}
	for _, id := range roomIDs {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.author_id, m.content, m.attachment_ref, m.kind, m.created_at, m.read_state
		FROM messages m
		WHERE m.id = (
			SELECT MAX(m2.id)
			FROM messages m2
			LEFT JOIN message_deletions md
			       ON md.message_id = m2.id AND md.user_id = ?
			WHERE m2.room_id = m.room_id
			  AND md.user_id IS NULL
		)
		  AND m.room_id IN (`+placeholders+`)
	`, args...)
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

func (r *MessageRepo) UnreadCounts(ctx context.Context, userID int64, since map[int64]time.Time) (map[int64]int, error) {
	if len(since) == 0 {
		return map[int64]int{}, nil
	}
	values := make([]string, 0, len(since))
	args := []any{}
	for roomID, at := range since {
		values = append(values, "(?, ?)")
		args = append(args, roomID, at)
	}
	args = append(args, userID, userID)

	rows, err := r.db.QueryContext(ctx, `
		WITH c(room_id, since) AS (VALUES `+strings.Join(values, ",")+`)
		SELECT m.room_id, COUNT(*)
		FROM messages m
		JOIN c ON c.room_id = m.room_id
		LEFT JOIN message_deletions md
		       ON md.message_id = m.id AND md.user_id = ?
		WHERE m.author_id != ?
		  AND m.created_at > c.since
		  AND md.user_id IS NULL
		GROUP BY m.room_id
	`, args...)
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

func (r *MessageRepo) listRead(ctx context.Context, roomID, excludeAuthorID int64) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, author_id, content, attachment_ref, kind, created_at, read_state
		FROM messages
		WHERE room_id = ? AND author_id != ? AND read_state = 'read'
	`, roomID, excludeAuthorID)
	if err != nil {
		return nil, fmt.Errorf("list read messages: %w", err)
	}
	return r.scanMessages(rows)
}

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
