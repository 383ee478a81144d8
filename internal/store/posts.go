package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const postColumns = `id, topic_id, parent_post_id, user_id, name, title, full_text, ip, show_sig,
	post_time, is_edited, last_edit_name, last_edit_time, is_deleted, votes, is_first_in_topic`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.TopicID, &p.ParentPostID, &p.UserID, &p.Name, &p.Title, &p.FullText,
		&p.IP, &p.ShowSig, &p.PostTime, &p.IsEdited, &p.LastEditName, &p.LastEditTime, &p.IsDeleted,
		&p.Votes, &p.IsFirstInTopic)
	return p, err
}

func (s *PostgresStore) GetPost(ctx context.Context, postID int64) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, postID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post %d: %w", postID, err)
	}
	return post, nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, post Post) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (topic_id, parent_post_id, user_id, name, title, full_text, ip, show_sig,
			post_time, is_edited, last_edit_name, last_edit_time, is_deleted, votes, is_first_in_topic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, post.TopicID, post.ParentPostID, post.UserID, post.Name, post.Title, post.FullText, post.IP,
		post.ShowSig, post.PostTime, post.IsEdited, post.LastEditName, post.LastEditTime,
		post.IsDeleted, post.Votes, post.IsFirstInTopic).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, post Post) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts SET title=$2, full_text=$3, show_sig=$4, is_edited=$5, last_edit_name=$6,
			last_edit_time=$7, is_deleted=$8, votes=$9
		WHERE id=$1
	`, post.ID, post.Title, post.FullText, post.ShowSig, post.IsEdited, post.LastEditName,
		post.LastEditTime, post.IsDeleted, post.Votes)
	if err != nil {
		return fmt.Errorf("update post %d: %w", post.ID, err)
	}
	return nil
}

// GetTopicPosts returns every post in a topic in posting order, including
// deleted ones; callers filter for display.
func (s *PostgresStore) GetTopicPosts(ctx context.Context, topicID int64) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE topic_id=$1 ORDER BY post_time, id`, topicID)
	if err != nil {
		return nil, fmt.Errorf("posts for topic %d: %w", topicID, err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, post)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SetLastPostID(ctx context.Context, userID, postID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, last_post_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_post_id=EXCLUDED.last_post_id
	`, userID, postID)
	if err != nil {
		return fmt.Errorf("set last post for user %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) SetAvatarObject(ctx context.Context, userID int64, object string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, avatar_object) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET avatar_object=EXCLUDED.avatar_object
	`, userID, object)
	if err != nil {
		return fmt.Errorf("set avatar for user %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) GetAvatarObject(ctx context.Context, userID int64) (string, error) {
	var object string
	err := s.db.QueryRowContext(ctx, `SELECT avatar_object FROM profiles WHERE user_id=$1`, userID).Scan(&object)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("avatar for user %d: %w", userID, err)
	}
	return object, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, is_approved FROM users WHERE id=$1`,
		userID).Scan(&user.ID, &user.Name, &user.Email, &user.IsApproved)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	roles, err := s.getUserRoles(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	return user, nil
}

func (s *PostgresStore) getUserRoles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=$1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles for user %d: %w", userID, err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) Subscribe(ctx context.Context, topicID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_subscriptions (topic_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, topicID, userID)
	if err != nil {
		return fmt.Errorf("subscribe user %d to topic %d: %w", userID, topicID, err)
	}
	return nil
}

func (s *PostgresStore) Unsubscribe(ctx context.Context, topicID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM topic_subscriptions WHERE topic_id=$1 AND user_id=$2`, topicID, userID)
	if err != nil {
		return fmt.Errorf("unsubscribe user %d from topic %d: %w", userID, topicID, err)
	}
	return nil
}

// GetSubscribedUsers returns the users subscribed to a topic, excluding
// the given user (the poster never gets notified about their own reply).
func (s *PostgresStore) GetSubscribedUsers(ctx context.Context, topicID, excludeUserID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.is_approved
		FROM topic_subscriptions ts
		JOIN users u ON u.id = ts.user_id
		WHERE ts.topic_id=$1 AND ts.user_id <> $2
	`, topicID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("subscribers for topic %d: %w", topicID, err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.IsApproved); err != nil {
			return nil, err
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertModerationLogEntry(ctx context.Context, entry ModerationLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_log (time_stamp, user_id, user_name, moderation_type, forum_id, topic_id, post_id, comment, old_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.TimeStamp, entry.UserID, entry.UserName, entry.ModerationType, entry.ForumID,
		entry.TopicID, entry.PostID, entry.Comment, entry.OldText)
	if err != nil {
		return fmt.Errorf("insert moderation log: %w", err)
	}
	return nil
}
