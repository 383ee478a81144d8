package forum

import (
	"context"
	"log"
	"time"
)

type recountStore interface {
	GetTopicCountByForum(ctx context.Context, forumID int64, includeDeleted bool) (int, error)
	GetPostCountByForum(ctx context.Context, forumID int64, includeDeleted bool) (int, error)
	UpdateForumTopicAndPostCounts(ctx context.Context, forumID int64, topicCount, postCount int) error
}

// Recounter recomputes authoritative forum topic/post counts on its own
// worker goroutine. Callers enqueue and move on; failures are logged
// here, never surfaced to the trigger site.
type Recounter struct {
	store   recountStore
	queue   chan int64
	done    chan struct{}
	timeout time.Duration
}

func NewRecounter(recountStore recountStore) *Recounter {
	r := &Recounter{
		store:   recountStore,
		queue:   make(chan int64, 64),
		done:    make(chan struct{}),
		timeout: 30 * time.Second,
	}
	go r.run()
	return r
}

// Enqueue schedules a recount for the forum. If the queue is saturated
// the request is dropped; counts are advisory and the next successful
// recount makes them right.
func (r *Recounter) Enqueue(forumID int64) {
	select {
	case r.queue <- forumID:
	default:
		log.Printf("recount: queue full, dropping forum %d", forumID)
	}
}

// Close stops the worker after draining nothing further. Pending work in
// the queue is abandoned.
func (r *Recounter) Close() {
	close(r.done)
}

func (r *Recounter) run() {
	for {
		select {
		case <-r.done:
			return
		case forumID := <-r.queue:
			r.recount(forumID)
		}
	}
}

func (r *Recounter) recount(forumID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	topicCount, err := r.store.GetTopicCountByForum(ctx, forumID, false)
	if err != nil {
		log.Printf("recount: topic count for forum %d: %v", forumID, err)
		return
	}
	postCount, err := r.store.GetPostCountByForum(ctx, forumID, false)
	if err != nil {
		log.Printf("recount: post count for forum %d: %v", forumID, err)
		return
	}
	if err := r.store.UpdateForumTopicAndPostCounts(ctx, forumID, topicCount, postCount); err != nil {
		log.Printf("recount: update counts for forum %d: %v", forumID, err)
	}
}
