// Package broker pushes live forum updates over Redis pub/sub so every
// API instance can fan them out to its connected clients.
package broker

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
	channelForums = "quorum:forums"
	channelRecent = "quorum:recent"
)

// ChannelForForum names the pub/sub channel carrying topic-list updates
// for one forum.
func ChannelForForum(forumID int64) string {
	return fmt.Sprintf("quorum:forum:%d", forumID)
}

// ChannelForTopic names the pub/sub channel carrying new-post
// notifications for one topic.
func ChannelForTopic(topicID int64) string {
	return fmt.Sprintf("quorum:topic:%d", topicID)
}

// Message is one live update. ID is unique per publish so clients can
// drop duplicates when they listen on overlapping channels.
type Message struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	ForumID      int64     `json:"forumId,omitempty"`
	TopicID      int64     `json:"topicId,omitempty"`
	PostID       int64     `json:"postId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Link         string    `json:"link,omitempty"`
	TopicCount   int       `json:"topicCount,omitempty"`
	PostCount    int       `json:"postCount,omitempty"`
	LastPostTime time.Time `json:"lastPostTime,omitempty"`
	LastPostName string    `json:"lastPostName,omitempty"`
}

const (
	KindForumUpdate = "forumUpdate"
	KindTopicUpdate = "topicUpdate"
	KindNewPost     = "newPost"
)

// RedisBroker publishes Messages to Redis channels. Publishing is
// best-effort; failures are logged and never surface to the authoring
// pipeline.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerWithClient wraps an existing client, sharing the
// connection pool with other Redis consumers.
func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// NotifyForumUpdate announces changed forum counters to the forum list.
func (b *RedisBroker) NotifyForumUpdate(ctx context.Context, forum store.Forum) {
	b.publish(ctx, channelForums, Message{
		Kind:         KindForumUpdate,
		ForumID:      forum.ID,
		Title:        forum.Title,
		TopicCount:   forum.TopicCount,
		PostCount:    forum.PostCount,
		LastPostTime: forum.LastPostTime,
		LastPostName: forum.LastPostName,
	})
}

// NotifyTopicUpdate announces a changed topic to the forum's topic list.
func (b *RedisBroker) NotifyTopicUpdate(ctx context.Context, topic store.Topic, forum store.Forum, link string) {
	b.publish(ctx, ChannelForForum(forum.ID), Message{
		Kind:         KindTopicUpdate,
		ForumID:      forum.ID,
		TopicID:      topic.ID,
		Title:        topic.Title,
		Link:         link,
		PostCount:    topic.ReplyCount + 1,
		LastPostTime: topic.LastPostTime,
		LastPostName: topic.LastPostName,
	})
}

// NotifyNewPost tells viewers of one topic that a post arrived.
func (b *RedisBroker) NotifyNewPost(ctx context.Context, topic store.Topic, postID int64) {
	b.publish(ctx, ChannelForTopic(topic.ID), Message{
		Kind:    KindNewPost,
		ForumID: topic.ForumID,
		TopicID: topic.ID,
		PostID:  postID,
		Title:   topic.Title,
	})
}

// NotifyNewPosts feeds the recent-topics view across all forums.
func (b *RedisBroker) NotifyNewPosts(ctx context.Context, topic store.Topic, postID int64) {
	b.publish(ctx, channelRecent, Message{
		Kind:         KindNewPost,
		ForumID:      topic.ForumID,
		TopicID:      topic.ID,
		PostID:       postID,
		Title:        topic.Title,
		LastPostTime: topic.LastPostTime,
		LastPostName: topic.LastPostName,
	})
}

func (b *RedisBroker) publish(ctx context.Context, channel string, msg Message) {
	msg.ID = uuid.NewString()
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broker: marshal message for %s: %v", channel, err)
		return
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("broker: publish to %s: %v", channel, err)
	}
}

// Listen subscribes to the given channels and decodes incoming
// messages until ctx is canceled. Malformed messages are dropped.
func (b *RedisBroker) Listen(ctx context.Context, channels ...string) <-chan Message {
	sub := b.client.Subscribe(ctx, channels...)
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.Channel():
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					log.Printf("broker: decode message on %s: %v", raw.Channel, err)
					continue
				}
				out <- msg
			}
		}
	}()
	return out
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
