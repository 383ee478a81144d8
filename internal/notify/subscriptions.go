// Package notify emails topic subscribers when new replies arrive.
package notify

import (
	"context"
	"log"

	"quorum/api/internal/email"
	"quorum/api/internal/store"
)

type subscriptionStore interface {
	Subscribe(ctx context.Context, topicID, userID int64) error
	Unsubscribe(ctx context.Context, topicID, userID int64) error
	GetSubscribedUsers(ctx context.Context, topicID, excludeUserID int64) ([]store.User, error)
}

type mailer interface {
	IsConfigured() bool
	SendNewReplyEmail(to string, data email.NewReplyData) error
}

// SubscribedTopicsService manages topic subscriptions and delivers
// new-reply notifications. Delivery failures are logged per recipient
// and never interrupt the rest of the batch.
type SubscribedTopicsService struct {
	store   subscriptionStore
	mailer  mailer
	appName string
}

func NewSubscribedTopicsService(st subscriptionStore, m mailer, appName string) *SubscribedTopicsService {
	return &SubscribedTopicsService{store: st, mailer: m, appName: appName}
}

// Subscribe adds a user to a topic's subscriber list.
func (s *SubscribedTopicsService) Subscribe(ctx context.Context, topicID, userID int64) error {
	return s.store.Subscribe(ctx, topicID, userID)
}

// Unsubscribe removes a user from a topic's subscriber list.
func (s *SubscribedTopicsService) Unsubscribe(ctx context.Context, topicID, userID int64) error {
	return s.store.Unsubscribe(ctx, topicID, userID)
}

// NotifySubscribers emails everyone subscribed to the topic except the
// poster. Each recipient gets their own unsubscribe link.
func (s *SubscribedTopicsService) NotifySubscribers(ctx context.Context, topic store.Topic, postingUser store.User, topicLink string, unsubscribeLinkGenerator func(store.User) string) {
	if !s.mailer.IsConfigured() {
		return
	}
	subscribers, err := s.store.GetSubscribedUsers(ctx, topic.ID, postingUser.ID)
	if err != nil {
		log.Printf("notify: load subscribers for topic %d: %v", topic.ID, err)
		return
	}
	for _, subscriber := range subscribers {
		if subscriber.Email == "" {
			continue
		}
		data := email.NewReplyData{
			AppName:        s.appName,
			UserName:       subscriber.Name,
			PosterName:     postingUser.Name,
			TopicTitle:     topic.Title,
			TopicURL:       topicLink,
			UnsubscribeURL: unsubscribeLinkGenerator(subscriber),
		}
		if err := s.mailer.SendNewReplyEmail(subscriber.Email, data); err != nil {
			log.Printf("notify: send to %s for topic %d: %v", subscriber.Email, topic.ID, err)
		}
	}
}
