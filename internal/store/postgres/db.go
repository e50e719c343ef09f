package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chatsync schema on
// PostgreSQL, including the NOTIFY triggers that feed the change
// listener.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			email            VARCHAR(100) UNIQUE,
			avatar_url       TEXT,
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Rooms
		`CREATE TABLE IF NOT EXISTS rooms (
			id         BIGSERIAL    PRIMARY KEY,
			name       VARCHAR(100),
			kind       VARCHAR(10)  NOT NULL DEFAULT 'direct',
			created_by BIGINT       NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Room membership
		`CREATE TABLE IF NOT EXISTS room_members (
			user_id   BIGINT      NOT NULL REFERENCES users(id),
			room_id   BIGINT      NOT NULL REFERENCES rooms(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, room_id)
		)`,

		// Message log. Rows are append-only; the only in-place mutation
		// is the read_state flip.
		`CREATE TABLE IF NOT EXISTS messages (
			id             BIGSERIAL   PRIMARY KEY,
			room_id        BIGINT      NOT NULL REFERENCES rooms(id),
			author_id      BIGINT      NOT NULL REFERENCES users(id),
			content        TEXT        NOT NULL,
			attachment_ref TEXT,
			kind           VARCHAR(10) NOT NULL DEFAULT 'text',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			read_state     VARCHAR(10) NOT NULL DEFAULT 'sent'
		)`,

		// Per-user soft deletes. room_id is denormalized so the change
		// feed can route deletion events without a join.
		`CREATE TABLE IF NOT EXISTS message_deletions (
			user_id    BIGINT      NOT NULL REFERENCES users(id),
			message_id BIGINT      NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			room_id    BIGINT      NOT NULL REFERENCES rooms(id),
			deleted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, message_id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_user ON room_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id)`,
		// Serves both keyset pagination and the unread-count scan.
		`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,

		// Change feed: every committed row change is broadcast on one
		// channel; listeners filter client-side.
		`CREATE OR REPLACE FUNCTION chatsync_notify_message() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('chatsync_changes', json_build_object(
				'op', lower(TG_OP),
				'table', 'messages',
				'room_id', NEW.room_id,
				'message', row_to_json(NEW)
			)::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE OR REPLACE FUNCTION chatsync_notify_deletion() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('chatsync_changes', json_build_object(
				'op', 'insert',
				'table', 'message_deletions',
				'room_id', NEW.room_id,
				'message_id', NEW.message_id,
				'user_id', NEW.user_id
			)::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`DROP TRIGGER IF EXISTS messages_notify ON messages`,
		`CREATE TRIGGER messages_notify
			AFTER INSERT OR UPDATE ON messages
			FOR EACH ROW EXECUTE FUNCTION chatsync_notify_message()`,

		`DROP TRIGGER IF EXISTS message_deletions_notify ON message_deletions`,
		`CREATE TRIGGER message_deletions_notify
			AFTER INSERT ON message_deletions
			FOR EACH ROW EXECUTE FUNCTION chatsync_notify_deletion()`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
