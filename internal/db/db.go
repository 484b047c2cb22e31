package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"neighbourhood-chat/internal/logger"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// users, notices and community_reports belong to neighbouring subsystems; they
// are created here only so a fresh database can boot the chat core alone.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id UUID PRIMARY KEY,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT '',
        profile_image_url TEXT,
        neighbourhood_id TEXT,
        role TEXT NOT NULL DEFAULT 'user',
        is_active BOOLEAN NOT NULL DEFAULT TRUE
    );`,
	`CREATE TABLE IF NOT EXISTS groups (
        id UUID PRIMARY KEY,
        neighbourhood_id TEXT NOT NULL,
        name TEXT NOT NULL CHECK (char_length(name) BETWEEN 2 AND 100),
        description TEXT NOT NULL DEFAULT '' CHECK (char_length(description) <= 1000),
        type TEXT NOT NULL DEFAULT 'public' CHECK (type IN ('public', 'private', 'announcement')),
        created_by UUID NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        is_active BOOLEAN NOT NULL DEFAULT TRUE
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS groups_neighbourhood_name_active
        ON groups (neighbourhood_id, lower(name)) WHERE is_active;`,
	`CREATE TABLE IF NOT EXISTS group_members (
        seq BIGSERIAL,
        group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
        user_id UUID NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('admin', 'member')),
        joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (group_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS group_members_user ON group_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
        id UUID PRIMARY KEY,
        chat_id UUID NOT NULL,
        chat_type TEXT NOT NULL CHECK (chat_type IN ('group', 'private')),
        sender_id UUID NOT NULL,
        sender_name TEXT NOT NULL CHECK (sender_name <> ''),
        content TEXT NOT NULL,
        message_type TEXT NOT NULL DEFAULT 'text',
        attachments JSONB NOT NULL DEFAULT '[]',
        reply_to_id UUID,
        is_forwarded BOOLEAN NOT NULL DEFAULT FALSE,
        forwarded_from JSONB,
        reactions JSONB NOT NULL DEFAULT '[]',
        status TEXT NOT NULL DEFAULT 'sending',
        moderation_status TEXT NOT NULL DEFAULT 'active',
        is_reported BOOLEAN NOT NULL DEFAULT FALSE,
        reported_by JSONB NOT NULL DEFAULT '[]',
        is_edited BOOLEAN NOT NULL DEFAULT FALSE,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        is_starred BOOLEAN NOT NULL DEFAULT FALSE,
        delivered_to TEXT[] NOT NULL DEFAULT '{}',
        read_by TEXT[] NOT NULL DEFAULT '{}',
        encryption JSONB,
        auto_delete JSONB,
        moderation_reason TEXT,
        moderated_by UUID,
        moderated_at TIMESTAMPTZ,
        version BIGINT NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_created
        ON messages (chat_id, chat_type, moderation_status, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS messages_reported ON messages (is_reported) WHERE is_reported;`,
	`CREATE TABLE IF NOT EXISTS notifications (
        id UUID PRIMARY KEY,
        recipient_id UUID NOT NULL,
        sender_id UUID NOT NULL,
        kind TEXT NOT NULL,
        chat_id UUID NOT NULL,
        chat_type TEXT NOT NULL,
        chat_name TEXT NOT NULL,
        message_id UUID NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        delivered_at TIMESTAMPTZ,
        read_at TIMESTAMPTZ
    );`,
	`CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications (recipient_id, created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
        id UUID PRIMARY KEY,
        admin_id UUID NOT NULL,
        action TEXT NOT NULL,
        target_type TEXT NOT NULL CHECK (target_type IN ('notice', 'report', 'message')),
        target_id UUID NOT NULL,
        reason TEXT NOT NULL DEFAULT '',
        details JSONB,
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS notices (
        id UUID PRIMARY KEY,
        author_id UUID NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'active',
        is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
        reports JSONB NOT NULL DEFAULT '[]',
        moderation_reason TEXT,
        moderated_by UUID,
        moderated_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS community_reports (
        id UUID PRIMARY KEY,
        author_id UUID NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        report_status TEXT NOT NULL DEFAULT 'active',
        is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
        reports JSONB NOT NULL DEFAULT '[]',
        moderation_reason TEXT,
        moderated_by UUID,
        moderated_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	logger.Get().Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
