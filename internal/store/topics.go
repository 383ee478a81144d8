package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const topicColumns = `id, forum_id, title, url_name, reply_count, view_count, started_by_user_id,
	started_by_name, last_post_user_id, last_post_name, last_post_time, is_closed, is_pinned,
	is_deleted, answer_post_id`

func scanTopic(row interface{ Scan(...any) error }) (Topic, error) {
	var t Topic
	err := row.Scan(&t.ID, &t.ForumID, &t.Title, &t.URLName, &t.ReplyCount, &t.ViewCount,
		&t.StartedByUserID, &t.StartedByName, &t.LastPostUserID, &t.LastPostName, &t.LastPostTime,
		&t.IsClosed, &t.IsPinned, &t.IsDeleted, &t.AnswerPostID)
	return t, err
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID int64) (Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id=$1`, topicID)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, fmt.Errorf("get topic %d: %w", topicID, err)
	}
	return topic, nil
}

func (s *PostgresStore) GetTopicByURLName(ctx context.Context, forumID int64, urlName string) (Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE forum_id=$1 AND url_name=$2`, forumID, urlName)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, fmt.Errorf("get topic %s in forum %d: %w", urlName, forumID, err)
	}
	return topic, nil
}

// GetTopicsByForum pages over a forum's topics, pinned topics first,
// then most recent activity.
func (s *PostgresStore) GetTopicsByForum(ctx context.Context, forumID int64, includeDeleted bool, offset, limit int) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+topicColumns+` FROM topics
		WHERE forum_id=$1 AND ($2 OR NOT is_deleted)
		ORDER BY is_pinned DESC, last_post_time DESC
		LIMIT $3 OFFSET $4
	`, forumID, includeDeleted, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("topics for forum %d: %w", forumID, err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, topic)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateTopic(ctx context.Context, topic Topic) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO topics (forum_id, title, url_name, reply_count, view_count, started_by_user_id,
			started_by_name, last_post_user_id, last_post_name, last_post_time, is_closed, is_pinned, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, topic.ForumID, topic.Title, topic.URLName, topic.ReplyCount, topic.ViewCount,
		topic.StartedByUserID, topic.StartedByName, topic.LastPostUserID, topic.LastPostName,
		topic.LastPostTime, topic.IsClosed, topic.IsPinned, topic.IsDeleted).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create topic: %w", err)
	}
	return id, nil
}

// GetTopicURLNamesThatStartWith returns slugs in a forum sharing a prefix,
// used to probe for slug collisions before creating a topic.
func (s *PostgresStore) GetTopicURLNamesThatStartWith(ctx context.Context, forumID int64, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url_name FROM topics WHERE forum_id=$1 AND url_name LIKE $2 || '%'`, forumID, prefix)
	if err != nil {
		return nil, fmt.Errorf("topic url names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PostgresStore) IncrementTopicReplyCount(ctx context.Context, topicID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE topics SET reply_count = reply_count + 1 WHERE id=$1`, topicID)
	if err != nil {
		return fmt.Errorf("increment topic %d reply count: %w", topicID, err)
	}
	return nil
}

func (s *PostgresStore) IncrementTopicViewCount(ctx context.Context, topicID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE topics SET view_count = view_count + 1 WHERE id=$1`, topicID)
	if err != nil {
		return fmt.Errorf("increment topic %d view count: %w", topicID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateTopicLastTimeAndUser(ctx context.Context, topicID, userID int64, name string, postTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topics SET last_post_user_id=$2, last_post_name=$3, last_post_time=$4 WHERE id=$1
	`, topicID, userID, name, postTime)
	if err != nil {
		return fmt.Errorf("update topic %d last post: %w", topicID, err)
	}
	return nil
}

// GetLastUpdatedTopic returns the most recently active non-deleted topic
// in a forum, or ErrNotFound when the forum has none.
func (s *PostgresStore) GetLastUpdatedTopic(ctx context.Context, forumID int64) (Topic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+topicColumns+` FROM topics
		WHERE forum_id=$1 AND NOT is_deleted
		ORDER BY last_post_time DESC
		LIMIT 1
	`, forumID)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, fmt.Errorf("last updated topic in forum %d: %w", forumID, err)
	}
	return topic, nil
}

func (s *PostgresStore) GetTopicCountByForum(ctx context.Context, forumID int64, includeDeleted bool) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM topics WHERE forum_id=$1 AND ($2 OR NOT is_deleted)
	`, forumID, includeDeleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("topic count for forum %d: %w", forumID, err)
	}
	return count, nil
}

func (s *PostgresStore) GetPostCountByForum(ctx context.Context, forumID int64, includeDeleted bool) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM posts p
		JOIN topics t ON t.id = p.topic_id
		WHERE t.forum_id=$1 AND ($2 OR (NOT p.is_deleted AND NOT t.is_deleted))
	`, forumID, includeDeleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("post count for forum %d: %w", forumID, err)
	}
	return count, nil
}

// GetRecentTopics pages over topics by last activity, excluding the given
// forums (typically those the viewer cannot see).
func (s *PostgresStore) GetRecentTopics(ctx context.Context, includeDeleted bool, excludedForumIDs []int64, offset, limit int) ([]Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE ($1 OR NOT is_deleted)`
	args := []any{includeDeleted}
	if len(excludedForumIDs) > 0 {
		placeholders := make([]string, len(excludedForumIDs))
		for i, id := range excludedForumIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND forum_id NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY last_post_time DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent topics: %w", err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, topic)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetRecentTopicCount(ctx context.Context, includeDeleted bool, excludedForumIDs []int64) (int, error) {
	query := `SELECT COUNT(*) FROM topics WHERE ($1 OR NOT is_deleted)`
	args := []any{includeDeleted}
	if len(excludedForumIDs) > 0 {
		placeholders := make([]string, len(excludedForumIDs))
		for i, id := range excludedForumIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND forum_id NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("recent topic count: %w", err)
	}
	return count, nil
}
