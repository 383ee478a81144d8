package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorum/api/internal/store"
)

type fakeLogStore struct {
	topic     store.Topic
	topicErr  error
	insertErr error
	entries   []store.ModerationLogEntry
}

func (f *fakeLogStore) GetTopic(_ context.Context, _ int64) (store.Topic, error) {
	return f.topic, f.topicErr
}

func (f *fakeLogStore) InsertModerationLogEntry(_ context.Context, entry store.ModerationLogEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestLogPost(t *testing.T) {
	st := &fakeLogStore{topic: store.Topic{ID: 7, ForumID: 2}}
	svc := NewLogService(st)
	stamp := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return stamp }

	editor := store.User{ID: 3, Name: "mod"}
	post := store.Post{ID: 9, TopicID: 7}
	if err := svc.LogPost(context.Background(), editor, store.ModerationPostEdit, post, "typo fix", "old body"); err != nil {
		t.Fatalf("LogPost failed: %v", err)
	}

	if len(st.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(st.entries))
	}
	entry := st.entries[0]
	if entry.ForumID != 2 || entry.TopicID != 7 || entry.PostID != 9 {
		t.Errorf("unexpected ids in entry %+v", entry)
	}
	if entry.ModerationType != store.ModerationPostEdit {
		t.Errorf("unexpected type %q", entry.ModerationType)
	}
	if entry.OldText != "old body" || entry.Comment != "typo fix" {
		t.Errorf("unexpected audit text %+v", entry)
	}
	if entry.UserName != "mod" {
		t.Errorf("unexpected editor %q", entry.UserName)
	}
	if !entry.TimeStamp.Equal(stamp) {
		t.Errorf("unexpected timestamp %v", entry.TimeStamp)
	}
}

func TestLogPostTopicLookupFailure(t *testing.T) {
	st := &fakeLogStore{topicErr: errors.New("db down")}
	svc := NewLogService(st)

	err := svc.LogPost(context.Background(), store.User{ID: 3}, store.ModerationPostEdit, store.Post{ID: 9, TopicID: 7}, "", "")
	if err == nil {
		t.Fatal("expected error when topic lookup fails")
	}
	if len(st.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(st.entries))
	}
}
