package searchidx

import (
	"context"
	"sync"
	"testing"
	"time"

	"quorum/api/internal/store"
)

type fakeIndexer struct {
	mu      sync.Mutex
	healthy bool
	indexed []TopicRecord
	deleted []string
}

func (f *fakeIndexer) Healthy() bool { return f.healthy }

func (f *fakeIndexer) IndexTopic(record TopicRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
	return nil
}

func (f *fakeIndexer) DeleteTopic(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndexer) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}

type fakeWorkerStore struct {
	topics map[int64]store.Topic
	posts  map[int64][]store.Post
}

func (f *fakeWorkerStore) GetTopic(_ context.Context, topicID int64) (store.Topic, error) {
	topic, ok := f.topics[topicID]
	if !ok {
		return store.Topic{}, store.ErrNotFound
	}
	return topic, nil
}

func (f *fakeWorkerStore) GetTopicPosts(_ context.Context, topicID int64) ([]store.Post, error) {
	return f.posts[topicID], nil
}

func TestBuildTopicRecordSkipsDeletedPosts(t *testing.T) {
	topic := store.Topic{ID: 7, ForumID: 3, Title: "Release planning"}
	posts := []store.Post{
		{ID: 1, FullText: "first post"},
		{ID: 2, FullText: "hidden", IsDeleted: true},
		{ID: 3, FullText: "second post"},
	}

	record := BuildTopicRecord("main", topic, posts)

	if record.ID != "main-7" {
		t.Errorf("expected record id main-7, got %s", record.ID)
	}
	if record.TopicID != 7 || record.ForumID != 3 {
		t.Errorf("unexpected ids: topic %d forum %d", record.TopicID, record.ForumID)
	}
	if record.Title != "Release planning" {
		t.Errorf("unexpected title %q", record.Title)
	}
	if record.Text != "first post\nsecond post" {
		t.Errorf("unexpected text %q", record.Text)
	}
}

func TestWorkerIndexesQueuedTopic(t *testing.T) {
	queue, _ := setupTestQueue(t)
	indexer := &fakeIndexer{healthy: true}
	st := &fakeWorkerStore{
		topics: map[int64]store.Topic{
			5: {ID: 5, ForumID: 2, Title: "Hello"},
		},
		posts: map[int64][]store.Post{
			5: {{ID: 1, FullText: "body"}},
		},
	}
	worker := &Worker{queue: queue, indexer: indexer, store: st, done: make(chan struct{})}

	worker.process(context.Background(), Payload{TenantID: "main", TopicID: 5})

	if len(indexer.indexed) != 1 {
		t.Fatalf("expected 1 indexed record, got %d", len(indexer.indexed))
	}
	if indexer.indexed[0].ID != "main-5" {
		t.Errorf("expected record id main-5, got %s", indexer.indexed[0].ID)
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("expected nothing requeued, got %d", n)
	}
}

func TestWorkerDeletesIndexEntryForDeletedTopic(t *testing.T) {
	queue, _ := setupTestQueue(t)
	indexer := &fakeIndexer{healthy: true}
	st := &fakeWorkerStore{
		topics: map[int64]store.Topic{
			8: {ID: 8, ForumID: 2, Title: "Gone", IsDeleted: true},
		},
	}
	worker := &Worker{queue: queue, indexer: indexer, store: st, done: make(chan struct{})}

	worker.process(context.Background(), Payload{TenantID: "main", TopicID: 8})

	if len(indexer.indexed) != 0 {
		t.Errorf("expected no index writes, got %d", len(indexer.indexed))
	}
	if len(indexer.deleted) != 1 || indexer.deleted[0] != "main-8" {
		t.Errorf("expected delete of main-8, got %v", indexer.deleted)
	}
}

func TestWorkerSkipsMissingTopic(t *testing.T) {
	queue, _ := setupTestQueue(t)
	indexer := &fakeIndexer{healthy: true}
	st := &fakeWorkerStore{topics: map[int64]store.Topic{}}
	worker := &Worker{queue: queue, indexer: indexer, store: st, done: make(chan struct{})}

	worker.process(context.Background(), Payload{TenantID: "main", TopicID: 99})

	if len(indexer.indexed) != 0 || len(indexer.deleted) != 0 {
		t.Error("expected no index activity for missing topic")
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("expected missing topic dropped, got %d requeued", n)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	queue, _ := setupTestQueue(t)
	indexer := &fakeIndexer{healthy: true}
	st := &fakeWorkerStore{
		topics: map[int64]store.Topic{
			1: {ID: 1, ForumID: 2, Title: "One"},
			2: {ID: 2, ForumID: 2, Title: "Two"},
		},
		posts: map[int64][]store.Post{},
	}

	ctx := context.Background()
	queue.Enqueue(ctx, Payload{TenantID: "main", TopicID: 1})
	queue.Enqueue(ctx, Payload{TenantID: "main", TopicID: 2})

	worker := NewWorker(queue, indexer, st)
	defer worker.Close()

	deadline := time.After(3 * time.Second)
	for indexer.indexedCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("worker indexed %d of 2 records before timeout", indexer.indexedCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
