// Package events records user activity into Redis-backed feeds.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quorum/api/internal/store"
)

const (
	publicFeedKey = "quorum:feed"
	feedCap       = 50
)

const (
	KindNewTopic = "NewTopic"
	KindNewPost  = "NewPost"
)

func userFeedKey(userID int64) string {
	return fmt.Sprintf("quorum:feed:user:%d", userID)
}

// Event is one activity feed entry.
type Event struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	UserID       int64     `json:"userId"`
	UserName     string    `json:"userName"`
	EventKind    string    `json:"eventKind"`
	IsRestricted bool      `json:"isRestricted"`
	Time         time.Time `json:"time"`
}

// RedisFeed keeps a capped public activity feed plus one per user.
// Restricted events stay out of the public feed; they only land on the
// acting user's own feed.
type RedisFeed struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, now: time.Now}
}

// Publish appends an event. Failures are logged, not returned; the
// feed is not allowed to break posting.
func (f *RedisFeed) Publish(ctx context.Context, message string, user store.User, eventKind string, isRestricted bool) {
	event := Event{
		ID:           uuid.NewString(),
		Message:      message,
		UserID:       user.ID,
		UserName:     user.Name,
		EventKind:    eventKind,
		IsRestricted: isRestricted,
		Time:         f.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal event: %v", err)
		return
	}

	f.push(ctx, userFeedKey(user.ID), data)
	if !isRestricted {
		f.push(ctx, publicFeedKey, data)
	}
}

func (f *RedisFeed) push(ctx context.Context, key string, data []byte) {
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, feedCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("events: push to %s: %v", key, err)
	}
}

// PublicFeed returns the newest public events, most recent first.
func (f *RedisFeed) PublicFeed(ctx context.Context, limit int64) ([]Event, error) {
	return f.feed(ctx, publicFeedKey, limit)
}

// UserFeed returns the newest events for one user, restricted included.
func (f *RedisFeed) UserFeed(ctx context.Context, userID int64, limit int64) ([]Event, error) {
	return f.feed(ctx, userFeedKey(userID), limit)
}

func (f *RedisFeed) feed(ctx context.Context, key string, limit int64) ([]Event, error) {
	if limit <= 0 || limit > feedCap {
		limit = feedCap
	}
	raw, err := f.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", key, err)
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			log.Printf("events: decode feed entry in %s: %v", key, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
