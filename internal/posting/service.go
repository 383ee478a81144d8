// Package posting orchestrates topic, reply, and edit authoring: content
// persistence followed by a fixed sequence of downstream effects
// (counters, events, live updates, search indexing, subscriber email).
package posting

import (
	"context"
	"fmt"
	"log"
	"time"

	"quorum/api/internal/forum"
	"quorum/api/internal/searchidx"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// Event kinds published on authoring actions.
const (
	EventNewTopic = "NewTopic"
	EventNewPost  = "NewPost"
)

// NewPost carries raw submitted content for a topic or reply.
type NewPost struct {
	Title            string
	FullText         string
	IncludeSignature bool
	IsPlainText      bool
}

// PostEdit carries an edit to an existing post, with the editor's
// moderation comment.
type PostEdit struct {
	Title       string
	FullText    string
	ShowSig     bool
	IsPlainText bool
	Comment     string
}

// AuthorizationError is returned when the supplied permission context
// does not allow the attempted action.
type AuthorizationError struct {
	UserName   string
	ForumTitle string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s can't post to forum %s", e.UserName, e.ForumTitle)
}

type postingStore interface {
	GetForum(ctx context.Context, forumID int64) (store.Forum, error)
	GetForumViewRoles(ctx context.Context, forumID int64) ([]string, error)
	UpdateForumLastTimeAndUser(ctx context.Context, forumID int64, lastTime time.Time, lastName string) error
	IncrementForumPostCount(ctx context.Context, forumID int64) error
	IncrementForumPostAndTopicCount(ctx context.Context, forumID int64) error
	GetTopic(ctx context.Context, topicID int64) (store.Topic, error)
	CreateTopic(ctx context.Context, topic store.Topic) (int64, error)
	GetTopicURLNamesThatStartWith(ctx context.Context, forumID int64, prefix string) ([]string, error)
	IncrementTopicReplyCount(ctx context.Context, topicID int64) error
	UpdateTopicLastTimeAndUser(ctx context.Context, topicID, userID int64, name string, postTime time.Time) error
	CreatePost(ctx context.Context, post store.Post) (int64, error)
	UpdatePost(ctx context.Context, post store.Post) error
	SetLastPostID(ctx context.Context, userID, postID int64) error
}

// TextParser sanitizes and converts submitted text.
type TextParser interface {
	Censor(text string) string
	PlainToRendered(text string) string
	RichToSanitized(text string) string
}

// EventPublisher fans an authoring event out to scoring and activity
// feeds. isRestricted hides the event from public feeds.
type EventPublisher interface {
	Publish(ctx context.Context, message string, user store.User, eventKind string, isRestricted bool)
}

// Broker pushes live updates to connected clients.
type Broker interface {
	NotifyForumUpdate(ctx context.Context, forum store.Forum)
	NotifyTopicUpdate(ctx context.Context, topic store.Topic, forum store.Forum, link string)
	NotifyNewPost(ctx context.Context, topic store.Topic, postID int64)
	NotifyNewPosts(ctx context.Context, topic store.Topic, postID int64)
}

// SearchIndexQueue accepts reindex work; ownership of the payload
// transfers on enqueue.
type SearchIndexQueue interface {
	Enqueue(ctx context.Context, payload searchidx.Payload)
}

// TenantResolver names the tenant for queued work.
type TenantResolver interface {
	CurrentTenant() string
}

// StaticTenant resolves every request to one fixed tenant, for
// single-tenant deployments.
type StaticTenant string

func (t StaticTenant) CurrentTenant() string { return string(t) }

// SubscriberNotifier emails topic subscribers about a new reply.
type SubscriberNotifier interface {
	NotifySubscribers(ctx context.Context, topic store.Topic, postingUser store.User, topicLink string, unsubscribeLinkGenerator func(store.User) string)
}

// ModerationLog records moderation actions with the pre-action text.
type ModerationLog interface {
	LogPost(ctx context.Context, editor store.User, actionKind string, post store.Post, comment, oldText string) error
}

// Service runs the authoring pipeline.
type Service struct {
	store       postingStore
	text        TextParser
	events      EventPublisher
	broker      Broker
	searchQueue SearchIndexQueue
	tenant      TenantResolver
	subscribers SubscriberNotifier
	modLog      ModerationLog
}

func NewService(postingStore postingStore, text TextParser, events EventPublisher, broker Broker, searchQueue SearchIndexQueue, tenant TenantResolver, subscribers SubscriberNotifier, modLog ModerationLog) *Service {
	return &Service{
		store:       postingStore,
		text:        text,
		events:      events,
		broker:      broker,
		searchQueue: searchQueue,
		tenant:      tenant,
		subscribers: subscribers,
		modLog:      modLog,
	}
}

// PostNewTopic creates a topic and its initiating post, then fans out
// counters, events, live updates, and a search-index job. The permission
// context must allow both viewing and posting.
func (s *Service) PostNewTopic(ctx context.Context, f store.Forum, user store.User, permission forum.PermissionContext, newPost NewPost, ip, userURL string, topicLinkGenerator func(store.Topic) string) (store.Topic, error) {
	if !permission.UserCanPost || !permission.UserCanView {
		return store.Topic{}, &AuthorizationError{UserName: user.Name, ForumTitle: f.Title}
	}

	newPost.Title = s.text.Censor(newPost.Title)
	newPost.FullText = s.renderBody(newPost)
	existing, err := s.store.GetTopicURLNamesThatStartWith(ctx, f.ID, util.ToURLName(newPost.Title))
	if err != nil {
		return store.Topic{}, err
	}
	urlName := util.ToUniqueURLName(newPost.Title, existing)
	timeStamp := time.Now().UTC()

	topic := store.Topic{
		ForumID:         f.ID,
		Title:           newPost.Title,
		URLName:         urlName,
		StartedByUserID: user.ID,
		StartedByName:   user.Name,
		LastPostUserID:  user.ID,
		LastPostName:    user.Name,
		LastPostTime:    timeStamp,
	}
	topicID, err := s.store.CreateTopic(ctx, topic)
	if err != nil {
		return store.Topic{}, err
	}
	topic.ID = topicID

	postID, err := s.store.CreatePost(ctx, store.Post{
		TopicID:        topicID,
		ParentPostID:   store.NoParentPostID,
		UserID:         user.ID,
		Name:           user.Name,
		Title:          newPost.Title,
		FullText:       newPost.FullText,
		IP:             ip,
		ShowSig:        newPost.IncludeSignature,
		PostTime:       timeStamp,
		LastEditName:   user.Name,
		IsFirstInTopic: true,
	})
	if err != nil {
		return store.Topic{}, err
	}

	if err := s.store.UpdateForumLastTimeAndUser(ctx, f.ID, timeStamp, user.Name); err != nil {
		return store.Topic{}, err
	}
	if err := s.store.IncrementForumPostAndTopicCount(ctx, f.ID); err != nil {
		return store.Topic{}, err
	}
	if err := s.store.SetLastPostID(ctx, user.ID, postID); err != nil {
		return store.Topic{}, err
	}

	topicLink := topicLinkGenerator(topic)
	message := fmt.Sprintf(`<a href="%s">%s</a> started a new topic: <a href="%s">%s</a>`, userURL, user.Name, topicLink, topic.Title)
	restricted := s.forumHasViewRestrictions(ctx, f.ID)
	s.events.Publish(ctx, message, user, EventNewTopic, restricted)
	s.events.Publish(ctx, "", user, EventNewPost, true)

	freshForum := s.refetchForum(ctx, f)
	s.broker.NotifyForumUpdate(ctx, freshForum)
	s.broker.NotifyTopicUpdate(ctx, topic, freshForum, topicLink)
	s.searchQueue.Enqueue(ctx, searchidx.Payload{TenantID: s.tenant.CurrentTenant(), TopicID: topic.ID})
	return topic, nil
}

// PostReply appends a post to a topic and fans out counters, search
// indexing, subscriber notification, events, and live updates. Passing a
// nil unsubscribeLinkGenerator suppresses subscriber notification
// entirely, which is how silent system replies avoid email.
func (s *Service) PostReply(ctx context.Context, topic store.Topic, user store.User, parentPostID int64, ip string, isFirstInTopic bool, newPost NewPost, postTime time.Time, topicLink string, unsubscribeLinkGenerator func(store.User) string, userURL string, postLinkGenerator func(store.Post) string) (store.Post, error) {
	newPost.Title = s.text.Censor(newPost.Title)
	newPost.FullText = s.renderBody(newPost)

	post := store.Post{
		TopicID:        topic.ID,
		ParentPostID:   parentPostID,
		UserID:         user.ID,
		Name:           user.Name,
		Title:          newPost.Title,
		FullText:       newPost.FullText,
		IP:             ip,
		ShowSig:        newPost.IncludeSignature,
		PostTime:       postTime,
		LastEditName:   user.Name,
		IsFirstInTopic: isFirstInTopic,
	}
	postID, err := s.store.CreatePost(ctx, post)
	if err != nil {
		return store.Post{}, err
	}
	post.ID = postID

	if err := s.store.IncrementTopicReplyCount(ctx, topic.ID); err != nil {
		return store.Post{}, err
	}
	if err := s.store.UpdateTopicLastTimeAndUser(ctx, topic.ID, user.ID, user.Name, postTime); err != nil {
		return store.Post{}, err
	}
	if err := s.store.UpdateForumLastTimeAndUser(ctx, topic.ForumID, postTime, user.Name); err != nil {
		return store.Post{}, err
	}
	if err := s.store.IncrementForumPostCount(ctx, topic.ForumID); err != nil {
		return store.Post{}, err
	}
	s.searchQueue.Enqueue(ctx, searchidx.Payload{TenantID: s.tenant.CurrentTenant(), TopicID: topic.ID})
	if err := s.store.SetLastPostID(ctx, user.ID, postID); err != nil {
		return store.Post{}, err
	}

	if unsubscribeLinkGenerator != nil {
		s.subscribers.NotifySubscribers(ctx, topic, user, topicLink, unsubscribeLinkGenerator)
	}

	message := fmt.Sprintf(`<a href="%s">%s</a> made a post in the topic: <a href="%s">%s</a>`, userURL, user.Name, postLinkGenerator(post), topic.Title)
	restricted := s.forumHasViewRestrictions(ctx, topic.ForumID)
	s.events.Publish(ctx, message, user, EventNewPost, restricted)

	s.broker.NotifyNewPosts(ctx, topic, post.ID)
	s.broker.NotifyNewPost(ctx, topic, post.ID)

	freshForum, err := s.store.GetForum(ctx, topic.ForumID)
	if err != nil {
		log.Printf("posting: refetch forum %d: %v", topic.ForumID, err)
		return post, nil
	}
	s.broker.NotifyForumUpdate(ctx, freshForum)
	freshTopic, err := s.store.GetTopic(ctx, topic.ID)
	if err != nil {
		log.Printf("posting: refetch topic %d: %v", topic.ID, err)
		return post, nil
	}
	s.broker.NotifyTopicUpdate(ctx, freshTopic, freshForum, topicLink)
	return post, nil
}

// EditPost rewrites a post's content, stamps edit metadata, records a
// moderation-log entry carrying the old text, and queues a reindex.
// Callers must have authorized the edit already; no permission check
// happens here.
func (s *Service) EditPost(ctx context.Context, post store.Post, postEdit PostEdit, editingUser store.User) error {
	oldText := post.FullText
	post.Title = s.text.Censor(postEdit.Title)
	if postEdit.IsPlainText {
		post.FullText = s.text.PlainToRendered(postEdit.FullText)
	} else {
		post.FullText = s.text.RichToSanitized(postEdit.FullText)
	}
	post.ShowSig = postEdit.ShowSig
	now := time.Now().UTC()
	post.LastEditTime = &now
	post.LastEditName = editingUser.Name
	post.IsEdited = true

	if err := s.store.UpdatePost(ctx, post); err != nil {
		return err
	}
	if err := s.modLog.LogPost(ctx, editingUser, store.ModerationPostEdit, post, postEdit.Comment, oldText); err != nil {
		log.Printf("posting: moderation log for post %d: %v", post.ID, err)
	}
	s.searchQueue.Enqueue(ctx, searchidx.Payload{TenantID: s.tenant.CurrentTenant(), TopicID: post.TopicID})
	return nil
}

func (s *Service) renderBody(newPost NewPost) string {
	if newPost.IsPlainText {
		return s.text.PlainToRendered(newPost.FullText)
	}
	return s.text.RichToSanitized(newPost.FullText)
}

func (s *Service) forumHasViewRestrictions(ctx context.Context, forumID int64) bool {
	roles, err := s.store.GetForumViewRoles(ctx, forumID)
	if err != nil {
		log.Printf("posting: view roles for forum %d: %v", forumID, err)
		return true
	}
	return len(roles) > 0
}

func (s *Service) refetchForum(ctx context.Context, f store.Forum) store.Forum {
	fresh, err := s.store.GetForum(ctx, f.ID)
	if err != nil {
		log.Printf("posting: refetch forum %d: %v", f.ID, err)
		return f
	}
	return fresh
}
