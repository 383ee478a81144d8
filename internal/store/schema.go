package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS forums (
	id BIGSERIAL PRIMARY KEY,
	category_id BIGINT REFERENCES categories(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_visible BOOLEAN NOT NULL DEFAULT TRUE,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	sort_order INTEGER NOT NULL DEFAULT 0,
	url_name TEXT NOT NULL UNIQUE,
	topic_count INTEGER NOT NULL DEFAULT 0,
	post_count INTEGER NOT NULL DEFAULT 0,
	last_post_time TIMESTAMPTZ NOT NULL DEFAULT '2000-01-01',
	last_post_name TEXT NOT NULL DEFAULT '',
	forum_adapter_name TEXT NOT NULL DEFAULT '',
	is_qa_forum BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS forum_view_roles (
	forum_id BIGINT NOT NULL REFERENCES forums(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	PRIMARY KEY (forum_id, role)
);
CREATE TABLE IF NOT EXISTS forum_post_roles (
	forum_id BIGINT NOT NULL REFERENCES forums(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	PRIMARY KEY (forum_id, role)
);
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	is_approved BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS user_roles (
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);
CREATE TABLE IF NOT EXISTS profiles (
	user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	last_post_id BIGINT,
	avatar_object TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS topics (
	id BIGSERIAL PRIMARY KEY,
	forum_id BIGINT NOT NULL REFERENCES forums(id),
	title TEXT NOT NULL,
	url_name TEXT NOT NULL,
	reply_count INTEGER NOT NULL DEFAULT 0,
	view_count INTEGER NOT NULL DEFAULT 0,
	started_by_user_id BIGINT NOT NULL,
	started_by_name TEXT NOT NULL,
	last_post_user_id BIGINT NOT NULL,
	last_post_name TEXT NOT NULL,
	last_post_time TIMESTAMPTZ NOT NULL,
	is_closed BOOLEAN NOT NULL DEFAULT FALSE,
	is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	answer_post_id BIGINT,
	UNIQUE (forum_id, url_name)
);
CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	topic_id BIGINT NOT NULL REFERENCES topics(id),
	parent_post_id BIGINT NOT NULL DEFAULT 0,
	user_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	show_sig BOOLEAN NOT NULL DEFAULT FALSE,
	post_time TIMESTAMPTZ NOT NULL,
	is_edited BOOLEAN NOT NULL DEFAULT FALSE,
	last_edit_name TEXT NOT NULL DEFAULT '',
	last_edit_time TIMESTAMPTZ,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	votes INTEGER NOT NULL DEFAULT 0,
	is_first_in_topic BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id);
CREATE INDEX IF NOT EXISTS idx_topics_forum ON topics(forum_id);
CREATE TABLE IF NOT EXISTS topic_subscriptions (
	topic_id BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (topic_id, user_id)
);
CREATE TABLE IF NOT EXISTS moderation_log (
	id BIGSERIAL PRIMARY KEY,
	time_stamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	user_id BIGINT NOT NULL,
	user_name TEXT NOT NULL,
	moderation_type TEXT NOT NULL,
	forum_id BIGINT NOT NULL DEFAULT 0,
	topic_id BIGINT NOT NULL DEFAULT 0,
	post_id BIGINT NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	old_text TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates all tables if they do not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
