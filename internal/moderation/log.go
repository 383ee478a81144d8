// Package moderation records who did what to which post, with the
// pre-action text kept for audit.
package moderation

import (
	"context"
	"fmt"
	"time"

	"quorum/api/internal/store"
)

type logStore interface {
	GetTopic(ctx context.Context, topicID int64) (store.Topic, error)
	InsertModerationLogEntry(ctx context.Context, entry store.ModerationLogEntry) error
}

// LogService writes moderation log entries.
type LogService struct {
	store logStore
	now   func() time.Time
}

func NewLogService(st logStore) *LogService {
	return &LogService{store: st, now: time.Now}
}

// LogPost records an action against a post. The forum is resolved from
// the post's topic so entries can be filtered per forum later.
func (s *LogService) LogPost(ctx context.Context, editor store.User, actionKind string, post store.Post, comment, oldText string) error {
	topic, err := s.store.GetTopic(ctx, post.TopicID)
	if err != nil {
		return fmt.Errorf("resolve topic %d for moderation log: %w", post.TopicID, err)
	}
	entry := store.ModerationLogEntry{
		TimeStamp:      s.now().UTC(),
		UserID:         editor.ID,
		UserName:       editor.Name,
		ModerationType: actionKind,
		ForumID:        topic.ForumID,
		TopicID:        post.TopicID,
		PostID:         post.ID,
		Comment:        comment,
		OldText:        oldText,
	}
	if err := s.store.InsertModerationLogEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert moderation log entry: %w", err)
	}
	return nil
}
