package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const forumColumns = `id, category_id, title, description, is_visible, is_archived, sort_order, url_name,
	topic_count, post_count, last_post_time, last_post_name, forum_adapter_name, is_qa_forum`

func scanForum(row interface{ Scan(...any) error }) (Forum, error) {
	var f Forum
	err := row.Scan(&f.ID, &f.CategoryID, &f.Title, &f.Description, &f.IsVisible, &f.IsArchived,
		&f.SortOrder, &f.URLName, &f.TopicCount, &f.PostCount, &f.LastPostTime, &f.LastPostName,
		&f.ForumAdapterName, &f.IsQAForum)
	return f, err
}

func (s *PostgresStore) GetForum(ctx context.Context, forumID int64) (Forum, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+forumColumns+` FROM forums WHERE id=$1`, forumID)
	forum, err := scanForum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Forum{}, ErrNotFound
	}
	if err != nil {
		return Forum{}, fmt.Errorf("get forum %d: %w", forumID, err)
	}
	return forum, nil
}

func (s *PostgresStore) GetForumByURLName(ctx context.Context, urlName string) (Forum, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+forumColumns+` FROM forums WHERE url_name=$1`, urlName)
	forum, err := scanForum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Forum{}, ErrNotFound
	}
	if err != nil {
		return Forum{}, fmt.Errorf("get forum %q: %w", urlName, err)
	}
	return forum, nil
}

func (s *PostgresStore) queryForums(ctx context.Context, query string, args ...any) ([]Forum, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Forum, 0)
	for rows.Next() {
		forum, err := scanForum(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, forum)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetAllForums(ctx context.Context) ([]Forum, error) {
	forums, err := s.queryForums(ctx, `SELECT `+forumColumns+` FROM forums ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list forums: %w", err)
	}
	return forums, nil
}

func (s *PostgresStore) GetVisibleForums(ctx context.Context) ([]Forum, error) {
	forums, err := s.queryForums(ctx, `SELECT `+forumColumns+` FROM forums WHERE is_visible ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list visible forums: %w", err)
	}
	return forums, nil
}

// GetForumsInCategory returns the forums in a category, or the
// uncategorized forums when categoryID is nil.
func (s *PostgresStore) GetForumsInCategory(ctx context.Context, categoryID *int64) ([]Forum, error) {
	var (
		forums []Forum
		err    error
	)
	if categoryID == nil {
		forums, err = s.queryForums(ctx, `SELECT `+forumColumns+` FROM forums WHERE category_id IS NULL ORDER BY sort_order, id`)
	} else {
		forums, err = s.queryForums(ctx, `SELECT `+forumColumns+` FROM forums WHERE category_id=$1 ORDER BY sort_order, id`, *categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("list forums in category: %w", err)
	}
	return forums, nil
}

func (s *PostgresStore) GetForumURLNamesThatStartWith(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url_name FROM forums WHERE url_name LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("forum url names: %w", err)
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

func (s *PostgresStore) CreateForum(ctx context.Context, forum Forum) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO forums (category_id, title, description, is_visible, is_archived, sort_order, url_name, forum_adapter_name, is_qa_forum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, forum.CategoryID, forum.Title, forum.Description, forum.IsVisible, forum.IsArchived,
		forum.SortOrder, forum.URLName, forum.ForumAdapterName, forum.IsQAForum).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create forum: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateForum(ctx context.Context, forum Forum) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE forums SET category_id=$2, title=$3, description=$4, is_visible=$5, is_archived=$6,
			url_name=$7, forum_adapter_name=$8, is_qa_forum=$9
		WHERE id=$1
	`, forum.ID, forum.CategoryID, forum.Title, forum.Description, forum.IsVisible, forum.IsArchived,
		forum.URLName, forum.ForumAdapterName, forum.IsQAForum)
	if err != nil {
		return fmt.Errorf("update forum %d: %w", forum.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateForumSortOrder(ctx context.Context, forumID int64, sortOrder int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forums SET sort_order=$2 WHERE id=$1`, forumID, sortOrder)
	if err != nil {
		return fmt.Errorf("update forum %d sort order: %w", forumID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateForumLastTimeAndUser(ctx context.Context, forumID int64, lastTime time.Time, lastName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forums SET last_post_time=$2, last_post_name=$3 WHERE id=$1`, forumID, lastTime, lastName)
	if err != nil {
		return fmt.Errorf("update forum %d last post: %w", forumID, err)
	}
	return nil
}

func (s *PostgresStore) IncrementForumPostCount(ctx context.Context, forumID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forums SET post_count = post_count + 1 WHERE id=$1`, forumID)
	if err != nil {
		return fmt.Errorf("increment forum %d post count: %w", forumID, err)
	}
	return nil
}

func (s *PostgresStore) IncrementForumPostAndTopicCount(ctx context.Context, forumID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forums SET post_count = post_count + 1, topic_count = topic_count + 1 WHERE id=$1`, forumID)
	if err != nil {
		return fmt.Errorf("increment forum %d counts: %w", forumID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateForumTopicAndPostCounts(ctx context.Context, forumID int64, topicCount, postCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forums SET topic_count=$2, post_count=$3 WHERE id=$1`, forumID, topicCount, postCount)
	if err != nil {
		return fmt.Errorf("update forum %d counts: %w", forumID, err)
	}
	return nil
}

func (s *PostgresStore) getForumRoles(ctx context.Context, table string, forumID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM `+table+` WHERE forum_id=$1 ORDER BY role`, forumID)
	if err != nil {
		return nil, fmt.Errorf("forum %d roles: %w", forumID, err)
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

func (s *PostgresStore) GetForumViewRoles(ctx context.Context, forumID int64) ([]string, error) {
	return s.getForumRoles(ctx, "forum_view_roles", forumID)
}

func (s *PostgresStore) GetForumPostRoles(ctx context.Context, forumID int64) ([]string, error) {
	return s.getForumRoles(ctx, "forum_post_roles", forumID)
}

// GetViewRestrictionRoleGraph maps every forum ID to its view-restriction
// roles; forums without restrictions map to an empty slice.
func (s *PostgresStore) GetViewRestrictionRoleGraph(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, vr.role
		FROM forums f
		LEFT JOIN forum_view_roles vr ON vr.forum_id = f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("view restriction graph: %w", err)
	}
	defer rows.Close()

	graph := make(map[int64][]string)
	for rows.Next() {
		var (
			forumID int64
			role    sql.NullString
		)
		if err := rows.Scan(&forumID, &role); err != nil {
			return nil, err
		}
		if _, ok := graph[forumID]; !ok {
			graph[forumID] = []string{}
		}
		if role.Valid {
			graph[forumID] = append(graph[forumID], role.String)
		}
	}
	return graph, rows.Err()
}

func (s *PostgresStore) AddForumViewRole(ctx context.Context, forumID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_view_roles (forum_id, role) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, forumID, role)
	if err != nil {
		return fmt.Errorf("add view role: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddForumPostRole(ctx context.Context, forumID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_post_roles (forum_id, role) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, forumID, role)
	if err != nil {
		return fmt.Errorf("add post role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveForumViewRole(ctx context.Context, forumID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM forum_view_roles WHERE forum_id=$1 AND role=$2`, forumID, role)
	if err != nil {
		return fmt.Errorf("remove view role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveForumPostRole(ctx context.Context, forumID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM forum_post_roles WHERE forum_id=$1 AND role=$2`, forumID, role)
	if err != nil {
		return fmt.Errorf("remove post role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveAllForumViewRoles(ctx context.Context, forumID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM forum_view_roles WHERE forum_id=$1`, forumID)
	if err != nil {
		return fmt.Errorf("remove all view roles: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveAllForumPostRoles(ctx context.Context, forumID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM forum_post_roles WHERE forum_id=$1`, forumID)
	if err != nil {
		return fmt.Errorf("remove all post roles: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAllForumTitles(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM forums`)
	if err != nil {
		return nil, fmt.Errorf("forum titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[int64]string)
	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

func (s *PostgresStore) GetAggregateTopicCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(topic_count), 0) FROM forums`).Scan(&count); err != nil {
		return 0, fmt.Errorf("aggregate topic count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetAggregatePostCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(post_count), 0) FROM forums`).Scan(&count); err != nil {
		return 0, fmt.Errorf("aggregate post count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetAllCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, sort_order FROM categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Title, &c.SortOrder); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
