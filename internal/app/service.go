// Package app exposes the forum over HTTP: a thin routing layer on top
// of the forum, posting, search, and feed services.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"quorum/api/internal/events"
	"quorum/api/internal/forum"
	"quorum/api/internal/posting"
	"quorum/api/internal/rbac"
	"quorum/api/internal/searchidx"
	"quorum/api/internal/store"
)

// Store is the slice of the repository the HTTP layer reads directly.
type Store interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, userID int64) (store.User, error)
	GetForum(ctx context.Context, forumID int64) (store.Forum, error)
	GetTopic(ctx context.Context, topicID int64) (store.Topic, error)
	GetTopicByURLName(ctx context.Context, forumID int64, urlName string) (store.Topic, error)
	GetTopicsByForum(ctx context.Context, forumID int64, includeDeleted bool, offset, limit int) ([]store.Topic, error)
	GetTopicCountByForum(ctx context.Context, forumID int64, includeDeleted bool) (int, error)
	GetTopicPosts(ctx context.Context, topicID int64) ([]store.Post, error)
	GetPost(ctx context.Context, postID int64) (store.Post, error)
	IncrementTopicViewCount(ctx context.Context, topicID int64) error
}

// Searcher queries the full-text index.
type Searcher interface {
	Healthy() bool
	Search(tenantID, query string, limit int64) ([]searchidx.TopicRecord, error)
}

// Feed reads the public activity stream.
type Feed interface {
	PublicFeed(ctx context.Context, limit int64) ([]events.Event, error)
}

// Subscriptions manages a user's topic subscriptions.
type Subscriptions interface {
	Subscribe(ctx context.Context, topicID, userID int64) error
	Unsubscribe(ctx context.Context, topicID, userID int64) error
}

// Avatars keeps profile images in object storage. Optional; avatar
// routes report unavailable when nil.
type Avatars interface {
	Save(ctx context.Context, userID int64, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, userID int64, expirySeconds int) (*url.URL, error)
	Remove(ctx context.Context, userID int64) error
}

const topicPageSize = 20

// Service glues the domain services together for the HTTP layer.
type Service struct {
	store         Store
	forums        *forum.Service
	posting       *posting.Service
	subscriptions Subscriptions
	searcher      Searcher
	feed          Feed
	avatars       Avatars
	tenantID      string
	baseURL       string
}

func NewService(st Store, forums *forum.Service, postingSvc *posting.Service, subscriptions Subscriptions, searcher Searcher, feed Feed, tenantID, baseURL string) *Service {
	return &Service{
		store:         st,
		forums:        forums,
		posting:       postingSvc,
		subscriptions: subscriptions,
		searcher:      searcher,
		feed:          feed,
		tenantID:      tenantID,
		baseURL:       baseURL,
	}
}

// SetAvatarStore enables the avatar routes.
func (s *Service) SetAvatarStore(avatars Avatars) {
	s.avatars = avatars
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CurrentTenant implements posting.TenantResolver.
func (s *Service) CurrentTenant() string {
	return s.tenantID
}

// userFromID resolves an optional caller. Zero means anonymous.
func (s *Service) userFromID(ctx context.Context, userID int64) (*store.User, error) {
	if userID == 0 {
		return nil, nil
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusUnauthorized, "UNKNOWN_USER", "Unknown user", nil)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) requireUser(ctx context.Context, userID int64) (store.User, error) {
	if userID == 0 {
		return store.User{}, domainError(http.StatusUnauthorized, "LOGIN_REQUIRED", "You must be logged in", nil)
	}
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	return *user, nil
}

func (s *Service) requireRole(ctx context.Context, userID int64, role string) (store.User, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if !rbac.NewSet(user.Roles...).Has(role) {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return user, nil
}

// ForumIndex lists categories and the forums the caller may view.
func (s *Service) ForumIndex(ctx context.Context, userID int64) ([]forum.CategoryContainer, error) {
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.forums.GetCategoryContainersForUser(ctx, user)
}

// TopicPage is one page of a forum's topic list.
type TopicPage struct {
	Forum      store.Forum
	Permission forum.PermissionContext
	Topics     []store.Topic
	Pager      forum.PagerContext
}

// ForumTopics pages over a forum's topics, honoring view restrictions.
func (s *Service) ForumTopics(ctx context.Context, urlName string, userID int64, pageIndex int) (TopicPage, error) {
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return TopicPage{}, err
	}
	f, err := s.forums.GetByURLName(ctx, urlName)
	if errors.Is(err, store.ErrNotFound) {
		return TopicPage{}, domainError(http.StatusNotFound, "NOT_FOUND", "Forum not found", nil)
	}
	if err != nil {
		return TopicPage{}, err
	}
	permission, err := s.forums.GetPermissionContext(ctx, f, user, nil)
	if err != nil {
		return TopicPage{}, err
	}
	if !permission.UserCanView {
		return TopicPage{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if pageIndex < 1 {
		pageIndex = 1
	}
	includeDeleted := permission.UserCanModerate
	offset := (pageIndex - 1) * topicPageSize
	topics, err := s.store.GetTopicsByForum(ctx, f.ID, includeDeleted, offset, topicPageSize)
	if err != nil {
		return TopicPage{}, err
	}
	total, err := s.store.GetTopicCountByForum(ctx, f.ID, includeDeleted)
	if err != nil {
		return TopicPage{}, err
	}
	return TopicPage{
		Forum:      f,
		Permission: permission,
		Topics:     topics,
		Pager: forum.PagerContext{
			PageCount: (total + topicPageSize - 1) / topicPageSize,
			PageIndex: pageIndex,
			PageSize:  topicPageSize,
		},
	}, nil
}

// TopicView loads a topic with all its posts, applying the permission
// engine and bumping the view counter. When the forum runs in Q&A mode
// the posts come back projected into question and ranked answers.
type TopicView struct {
	Container *forum.TopicContainer
	QA        *forum.TopicContainerForQA
}

func (s *Service) TopicView(ctx context.Context, topicID, userID int64) (TopicView, error) {
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return TopicView{}, err
	}
	topic, err := s.store.GetTopic(ctx, topicID)
	if errors.Is(err, store.ErrNotFound) {
		return TopicView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Topic not found", nil)
	}
	if err != nil {
		return TopicView{}, err
	}
	f, err := s.store.GetForum(ctx, topic.ForumID)
	if err != nil {
		return TopicView{}, err
	}
	return s.viewTopic(ctx, f, topic, user)
}

// TopicViewBySlug resolves a topic by forum and topic URL names, the
// address scheme topic links use.
func (s *Service) TopicViewBySlug(ctx context.Context, forumURLName, topicURLName string, userID int64) (TopicView, error) {
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return TopicView{}, err
	}
	f, err := s.forums.GetByURLName(ctx, forumURLName)
	if errors.Is(err, store.ErrNotFound) {
		return TopicView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Forum not found", nil)
	}
	if err != nil {
		return TopicView{}, err
	}
	topic, err := s.store.GetTopicByURLName(ctx, f.ID, topicURLName)
	if errors.Is(err, store.ErrNotFound) {
		return TopicView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Topic not found", nil)
	}
	if err != nil {
		return TopicView{}, err
	}
	return s.viewTopic(ctx, f, topic, user)
}

func (s *Service) viewTopic(ctx context.Context, f store.Forum, topic store.Topic, user *store.User) (TopicView, error) {
	permission, err := s.forums.GetPermissionContext(ctx, f, user, &topic)
	if err != nil {
		return TopicView{}, err
	}
	if !permission.UserCanView {
		return TopicView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Topic not found", nil)
	}
	if err := s.store.IncrementTopicViewCount(ctx, topic.ID); err != nil {
		return TopicView{}, err
	}
	posts, err := s.store.GetTopicPosts(ctx, topic.ID)
	if err != nil {
		return TopicView{}, err
	}
	container := forum.TopicContainer{
		Forum:             f,
		Topic:             topic,
		Posts:             posts,
		PermissionContext: permission,
	}
	if f.IsQAForum {
		qa, err := forum.MapTopicContainerForQA(container)
		if err != nil {
			var integrity *forum.IntegrityError
			if errors.As(err, &integrity) {
				return TopicView{}, domainError(http.StatusInternalServerError, "DATA_INTEGRITY", integrity.Error(), nil)
			}
			return TopicView{}, err
		}
		return TopicView{QA: &qa}, nil
	}
	return TopicView{Container: &container}, nil
}

// StartTopic runs the full new-topic pipeline for the caller.
func (s *Service) StartTopic(ctx context.Context, forumID, userID int64, newPost posting.NewPost, ip string) (store.Topic, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return store.Topic{}, err
	}
	f, err := s.store.GetForum(ctx, forumID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Topic{}, domainError(http.StatusNotFound, "NOT_FOUND", "Forum not found", nil)
	}
	if err != nil {
		return store.Topic{}, err
	}
	permission, err := s.forums.GetPermissionContext(ctx, f, &user, nil)
	if err != nil {
		return store.Topic{}, err
	}
	topic, err := s.posting.PostNewTopic(ctx, f, user, permission, newPost, ip, s.userURL(user), func(t store.Topic) string {
		return s.topicURL(f, t)
	})
	var authErr *posting.AuthorizationError
	if errors.As(err, &authErr) {
		return store.Topic{}, domainError(http.StatusForbidden, "FORBIDDEN", permission.DenialReason(), nil)
	}
	if err != nil {
		return store.Topic{}, err
	}
	return topic, nil
}

// Reply runs the reply pipeline, enforcing the permission engine first.
func (s *Service) Reply(ctx context.Context, topicID, userID, parentPostID int64, newPost posting.NewPost, ip string) (store.Post, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return store.Post{}, err
	}
	topic, err := s.store.GetTopic(ctx, topicID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Post{}, domainError(http.StatusNotFound, "NOT_FOUND", "Topic not found", nil)
	}
	if err != nil {
		return store.Post{}, err
	}
	f, err := s.store.GetForum(ctx, topic.ForumID)
	if err != nil {
		return store.Post{}, err
	}
	permission, err := s.forums.GetPermissionContext(ctx, f, &user, &topic)
	if err != nil {
		return store.Post{}, err
	}
	if !permission.UserCanPost || !permission.UserCanView {
		return store.Post{}, domainError(http.StatusForbidden, "FORBIDDEN", permission.DenialReason(), nil)
	}
	topicLink := s.topicURL(f, topic)
	return s.posting.PostReply(ctx, topic, user, parentPostID, ip, false, newPost, time.Now().UTC(), topicLink,
		s.unsubscribeLinkGenerator(topic), s.userURL(user), func(p store.Post) string {
			return fmt.Sprintf("%s#post-%d", topicLink, p.ID)
		})
}

// Edit rewrites a post. The author may edit their own posts; everyone
// else needs moderator capability on the forum.
func (s *Service) Edit(ctx context.Context, postID, userID int64, edit posting.PostEdit) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Post not found", nil)
	}
	if err != nil {
		return err
	}
	if post.UserID != user.ID {
		topic, err := s.store.GetTopic(ctx, post.TopicID)
		if err != nil {
			return err
		}
		f, err := s.store.GetForum(ctx, topic.ForumID)
		if err != nil {
			return err
		}
		permission, err := s.forums.GetPermissionContext(ctx, f, &user, &topic)
		if err != nil {
			return err
		}
		if !permission.UserCanModerate {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}
	return s.posting.EditPost(ctx, post, edit, user)
}

func (s *Service) Subscribe(ctx context.Context, topicID, userID int64) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.subscriptions.Subscribe(ctx, topicID, user.ID)
}

func (s *Service) Unsubscribe(ctx context.Context, topicID, userID int64) error {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.subscriptions.Unsubscribe(ctx, topicID, user.ID)
}

// SaveAvatar stores a profile image. Users manage their own avatar;
// moderators may replace anyone's.
func (s *Service) SaveAvatar(ctx context.Context, callerID, targetID int64, r io.Reader, size int64, contentType string) error {
	user, err := s.requireUser(ctx, callerID)
	if err != nil {
		return err
	}
	if s.avatars == nil {
		return domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	if user.ID != targetID && !rbac.NewSet(user.Roles...).Has(rbac.RoleModerator) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.avatars.Save(ctx, targetID, r, size, contentType)
}

// AvatarURL returns a short-lived direct link to a user's avatar so
// clients fetch the image from object storage, not through the API.
func (s *Service) AvatarURL(ctx context.Context, targetID int64) (*url.URL, error) {
	if s.avatars == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	return s.avatars.PresignedURL(ctx, targetID, 0)
}

// RemoveAvatar deletes a user's avatar, with the same policy as SaveAvatar.
func (s *Service) RemoveAvatar(ctx context.Context, callerID, targetID int64) error {
	user, err := s.requireUser(ctx, callerID)
	if err != nil {
		return err
	}
	if s.avatars == nil {
		return domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	if user.ID != targetID && !rbac.NewSet(user.Roles...).Has(rbac.RoleModerator) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.avatars.Remove(ctx, targetID)
}

// RecentTopics pages over recent activity the caller may view.
func (s *Service) RecentTopics(ctx context.Context, userID int64, pageIndex int) ([]store.Topic, forum.PagerContext, error) {
	user, err := s.userFromID(ctx, userID)
	if err != nil {
		return nil, forum.PagerContext{}, err
	}
	return s.forums.GetRecentTopics(ctx, user, false, pageIndex, topicPageSize)
}

// Search queries the topic index for the current tenant.
func (s *Service) Search(ctx context.Context, query string) ([]searchidx.TopicRecord, error) {
	if s.searcher == nil || !s.searcher.Healthy() {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not available", nil)
	}
	return s.searcher.Search(s.tenantID, query, 20)
}

// ActivityFeed returns the newest public events.
func (s *Service) ActivityFeed(ctx context.Context) ([]events.Event, error) {
	return s.feed.PublicFeed(ctx, 50)
}

// Stats reports board-wide aggregate counts.
type Stats struct {
	TopicCount int `json:"topicCount"`
	PostCount  int `json:"postCount"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	topics, err := s.forums.GetAggregateTopicCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	posts, err := s.forums.GetAggregatePostCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TopicCount: topics, PostCount: posts}, nil
}

// Admin operations.

type ForumInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CategoryID  *int64 `json:"categoryId"`
	IsVisible   bool   `json:"isVisible"`
	IsArchived  bool   `json:"isArchived"`
	AdapterName string `json:"adapterName"`
	IsQAForum   bool   `json:"isQAForum"`
}

func (s *Service) CreateForum(ctx context.Context, userID int64, input ForumInput) (store.Forum, error) {
	if _, err := s.requireRole(ctx, userID, rbac.RoleAdmin); err != nil {
		return store.Forum{}, err
	}
	return s.forums.Create(ctx, store.Forum{
		Title:            input.Title,
		Description:      input.Description,
		CategoryID:       input.CategoryID,
		IsVisible:        input.IsVisible,
		IsArchived:       input.IsArchived,
		ForumAdapterName: input.AdapterName,
		IsQAForum:        input.IsQAForum,
	})
}

func (s *Service) UpdateForum(ctx context.Context, userID, forumID int64, input ForumInput) error {
	if _, err := s.requireRole(ctx, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	f, err := s.store.GetForum(ctx, forumID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Forum not found", nil)
	}
	if err != nil {
		return err
	}
	return s.forums.Update(ctx, f, input.Title, input.Description, input.CategoryID, input.IsVisible, input.IsArchived, input.AdapterName, input.IsQAForum)
}

func (s *Service) MoveForum(ctx context.Context, userID, forumID int64, up bool) error {
	if _, err := s.requireRole(ctx, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	if up {
		return s.forums.MoveForumUp(ctx, forumID)
	}
	return s.forums.MoveForumDown(ctx, forumID)
}

// RecountForum queues a background recomputation of a forum's counters.
func (s *Service) RecountForum(ctx context.Context, userID, forumID int64) error {
	if _, err := s.requireRole(ctx, userID, rbac.RoleModerator); err != nil {
		return err
	}
	f, err := s.store.GetForum(ctx, forumID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Forum not found", nil)
	}
	if err != nil {
		return err
	}
	s.forums.UpdateCounts(f)
	return nil
}

var roleModifications = map[string]forum.ModifyType{
	"addPost":       forum.ModifyAddPost,
	"removePost":    forum.ModifyRemovePost,
	"addView":       forum.ModifyAddView,
	"removeView":    forum.ModifyRemoveView,
	"removeAllPost": forum.ModifyRemoveAllPost,
	"removeAllView": forum.ModifyRemoveAllView,
}

func (s *Service) ModifyForumRoles(ctx context.Context, userID, forumID int64, modification, role string) error {
	if _, err := s.requireRole(ctx, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	modifyType, ok := roleModifications[modification]
	if !ok {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role modification", nil)
	}
	return s.forums.ModifyForumRoles(ctx, forumID, modifyType, role)
}

func (s *Service) topicURL(f store.Forum, t store.Topic) string {
	return fmt.Sprintf("%s/forum/%s/%s", s.baseURL, f.URLName, t.URLName)
}

func (s *Service) userURL(u store.User) string {
	return fmt.Sprintf("%s/user/%d", s.baseURL, u.ID)
}

func (s *Service) unsubscribeLinkGenerator(t store.Topic) func(store.User) string {
	return func(u store.User) string {
		return fmt.Sprintf("%s/unsubscribe?topic=%d&user=%d", s.baseURL, t.ID, u.ID)
	}
}
