package searchidx

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"quorum/api/internal/store"
)

type workerStore interface {
	GetTopic(ctx context.Context, topicID int64) (store.Topic, error)
	GetTopicPosts(ctx context.Context, topicID int64) ([]store.Post, error)
}

// Indexer is the destination for built topic records. *Meili satisfies it.
type Indexer interface {
	Healthy() bool
	IndexTopic(record TopicRecord) error
	DeleteTopic(id string) error
}

// Worker drains the index queue, loads the topic and its posts, and
// pushes the combined record to the search engine. Payloads are put
// back on the queue while the engine is unhealthy so nothing is lost
// across an outage.
type Worker struct {
	queue   *RedisQueue
	indexer Indexer
	store   workerStore
	done    chan struct{}
}

func NewWorker(queue *RedisQueue, indexer Indexer, st workerStore) *Worker {
	w := &Worker{
		queue:   queue,
		indexer: indexer,
		store:   st,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	ctx := context.Background()
	for {
		select {
		case <-w.done:
			return
		default:
		}
		payload, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				log.Printf("searchidx: dequeue: %v", err)
				time.Sleep(5 * time.Second)
			}
			continue
		}
		w.process(ctx, payload)
	}
}

func (w *Worker) process(ctx context.Context, payload Payload) {
	if !w.indexer.Healthy() {
		w.queue.Enqueue(ctx, payload)
		time.Sleep(10 * time.Second)
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	topic, err := w.store.GetTopic(loadCtx, payload.TopicID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("searchidx: topic %d gone, skipping", payload.TopicID)
		return
	}
	if err != nil {
		log.Printf("searchidx: load topic %d: %v", payload.TopicID, err)
		w.queue.Enqueue(ctx, payload)
		return
	}

	id := RecordID(payload.TenantID, topic.ID)
	if topic.IsDeleted {
		if err := w.indexer.DeleteTopic(id); err != nil {
			log.Printf("searchidx: delete topic %s: %v", id, err)
		}
		return
	}

	posts, err := w.store.GetTopicPosts(loadCtx, topic.ID)
	if err != nil {
		log.Printf("searchidx: load posts for topic %d: %v", topic.ID, err)
		w.queue.Enqueue(ctx, payload)
		return
	}

	record := BuildTopicRecord(payload.TenantID, topic, posts)
	if err := w.indexer.IndexTopic(record); err != nil {
		log.Printf("searchidx: index topic %s: %v", id, err)
		w.queue.Enqueue(ctx, payload)
	}
}

// BuildTopicRecord flattens a topic and its live posts into one document.
func BuildTopicRecord(tenantID string, topic store.Topic, posts []store.Post) TopicRecord {
	var b strings.Builder
	for _, post := range posts {
		if post.IsDeleted {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(post.FullText)
	}
	return TopicRecord{
		ID:       RecordID(tenantID, topic.ID),
		TenantID: tenantID,
		TopicID:  topic.ID,
		ForumID:  topic.ForumID,
		Title:    topic.Title,
		Text:     b.String(),
	}
}

// Close stops the drain loop.
func (w *Worker) Close() {
	close(w.done)
}
