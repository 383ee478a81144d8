package posting

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"quorum/api/internal/forum"
	"quorum/api/internal/store"
)

func allowAll() forum.PermissionContext {
	return forum.PermissionContext{UserCanView: true, UserCanPost: true}
}

func TestPostNewTopicSideEffectOrder(t *testing.T) {
	h := newHarness()
	h.store.forum = store.Forum{ID: 2, Title: "General", PostCount: 10}

	f := store.Forum{ID: 2, Title: "General"}
	user := store.User{ID: 5, Name: "diane"}
	newPost := NewPost{Title: "Release planning", FullText: "let's talk dates", IsPlainText: true}

	topic, err := h.service.PostNewTopic(context.Background(), f, user, allowAll(), newPost, "10.0.0.1", "/user/diane", func(t store.Topic) string {
		return "/forum/general/" + t.URLName
	})
	if err != nil {
		t.Fatalf("PostNewTopic failed: %v", err)
	}

	wantOrder := []string{
		"GetTopicURLNamesThatStartWith",
		"CreateTopic",
		"CreatePost",
		"UpdateForumLastTimeAndUser",
		"IncrementForumPostAndTopicCount",
		"SetLastPostID",
		"GetForumViewRoles",
		"Publish:" + EventNewTopic,
		"Publish:" + EventNewPost,
		"GetForum",
		"NotifyForumUpdate",
		"NotifyTopicUpdate",
		"SearchEnqueue",
	}
	if !reflect.DeepEqual(h.log.calls, wantOrder) {
		t.Errorf("side effect order mismatch:\n got %v\nwant %v", h.log.calls, wantOrder)
	}

	if topic.ID == 0 {
		t.Error("expected assigned topic ID")
	}
	if topic.URLName != "release-planning" {
		t.Errorf("unexpected url name %q", topic.URLName)
	}
	if len(h.store.createdPosts) != 1 {
		t.Fatalf("expected 1 created post, got %d", len(h.store.createdPosts))
	}
	first := h.store.createdPosts[0]
	if !first.IsFirstInTopic {
		t.Error("expected initiating post flagged first in topic")
	}
	if first.ParentPostID != store.NoParentPostID {
		t.Errorf("expected no parent, got %d", first.ParentPostID)
	}
	if first.FullText != "<p>let's talk dates</p>" {
		t.Errorf("expected rendered plain text, got %q", first.FullText)
	}

	if len(h.queue.payloads) != 1 {
		t.Fatalf("expected 1 search payload, got %d", len(h.queue.payloads))
	}
	if h.queue.payloads[0].TenantID != "main" || h.queue.payloads[0].TopicID != topic.ID {
		t.Errorf("unexpected search payload %+v", h.queue.payloads[0])
	}
}

func TestPostNewTopicDeniedWithoutPermission(t *testing.T) {
	cases := []struct {
		name       string
		permission forum.PermissionContext
	}{
		{"cannot post", forum.PermissionContext{UserCanView: true}},
		{"cannot view", forum.PermissionContext{UserCanPost: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			f := store.Forum{ID: 2, Title: "General"}
			user := store.User{ID: 5, Name: "diane"}

			_, err := h.service.PostNewTopic(context.Background(), f, user, tc.permission, NewPost{Title: "x"}, "", "", func(store.Topic) string { return "" })

			var authErr *AuthorizationError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthorizationError, got %v", err)
			}
			if authErr.UserName != "diane" || authErr.ForumTitle != "General" {
				t.Errorf("unexpected error detail %+v", authErr)
			}
			if len(h.log.calls) != 0 {
				t.Errorf("expected no side effects, got %v", h.log.calls)
			}
		})
	}
}

func TestPostNewTopicURLNameCollision(t *testing.T) {
	h := newHarness()
	h.store.urlNames = []string{"release-planning"}

	topic, err := h.service.PostNewTopic(context.Background(), store.Forum{ID: 2}, store.User{ID: 5, Name: "diane"}, allowAll(),
		NewPost{Title: "Release planning", FullText: "x", IsPlainText: true}, "", "", func(store.Topic) string { return "" })
	if err != nil {
		t.Fatalf("PostNewTopic failed: %v", err)
	}
	if topic.URLName != "release-planning2" {
		t.Errorf("expected suffixed url name, got %q", topic.URLName)
	}
}

func TestPostNewTopicCensorsTitle(t *testing.T) {
	h := newHarness()

	topic, err := h.service.PostNewTopic(context.Background(), store.Forum{ID: 2}, store.User{ID: 5, Name: "diane"}, allowAll(),
		NewPost{Title: "darn good plan", FullText: "x", IsPlainText: true}, "", "", func(store.Topic) string { return "" })
	if err != nil {
		t.Fatalf("PostNewTopic failed: %v", err)
	}
	if topic.Title != "**** good plan" {
		t.Errorf("expected censored title, got %q", topic.Title)
	}
}

func TestPostNewTopicRestrictedForum(t *testing.T) {
	h := newHarness()
	h.store.viewRoles = []string{"Trusted"}

	_, err := h.service.PostNewTopic(context.Background(), store.Forum{ID: 2}, store.User{ID: 5, Name: "diane"}, allowAll(),
		NewPost{Title: "t", FullText: "x", IsPlainText: true}, "", "", func(store.Topic) string { return "" })
	if err != nil {
		t.Fatalf("PostNewTopic failed: %v", err)
	}

	if len(h.events.published) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.events.published))
	}
	if !h.events.published[0].isRestricted {
		t.Error("expected topic event restricted for role-gated forum")
	}
	if !h.events.published[1].isRestricted {
		t.Error("expected point event always restricted")
	}
	if h.events.published[1].message != "" {
		t.Errorf("expected empty point event message, got %q", h.events.published[1].message)
	}
}

func TestPostReplySideEffectOrder(t *testing.T) {
	h := newHarness()
	h.store.forum = store.Forum{ID: 2, Title: "General"}
	h.store.topic = store.Topic{ID: 7, ForumID: 2, Title: "Hello", ReplyCount: 3}

	topic := store.Topic{ID: 7, ForumID: 2, Title: "Hello"}
	user := store.User{ID: 5, Name: "diane"}
	postTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	post, err := h.service.PostReply(context.Background(), topic, user, store.NoParentPostID, "10.0.0.1", false,
		NewPost{Title: "Re: Hello", FullText: "agreed", IsPlainText: true}, postTime, "/forum/general/hello",
		func(store.User) string { return "/unsubscribe" }, "/user/diane",
		func(p store.Post) string { return "/post/1" })
	if err != nil {
		t.Fatalf("PostReply failed: %v", err)
	}

	wantOrder := []string{
		"CreatePost",
		"IncrementTopicReplyCount",
		"UpdateTopicLastTimeAndUser",
		"UpdateForumLastTimeAndUser",
		"IncrementForumPostCount",
		"SearchEnqueue",
		"SetLastPostID",
		"NotifySubscribers",
		"GetForumViewRoles",
		"Publish:" + EventNewPost,
		"NotifyNewPosts",
		"NotifyNewPost",
		"GetForum",
		"NotifyForumUpdate",
		"GetTopic",
		"NotifyTopicUpdate",
	}
	if !reflect.DeepEqual(h.log.calls, wantOrder) {
		t.Errorf("side effect order mismatch:\n got %v\nwant %v", h.log.calls, wantOrder)
	}

	if post.ID == 0 {
		t.Error("expected assigned post ID")
	}
	if post.PostTime != postTime {
		t.Errorf("expected caller-supplied post time, got %v", post.PostTime)
	}
	if len(h.store.lastPostSets) != 1 || h.store.lastPostSets[0] != [2]int64{5, post.ID} {
		t.Errorf("unexpected last post bookkeeping %v", h.store.lastPostSets)
	}
}

func TestPostReplyNilUnsubscribeSuppressesNotification(t *testing.T) {
	h := newHarness()
	h.store.topic = store.Topic{ID: 7, ForumID: 2}

	_, err := h.service.PostReply(context.Background(), store.Topic{ID: 7, ForumID: 2}, store.User{ID: 5, Name: "diane"},
		store.NoParentPostID, "", false, NewPost{FullText: "x", IsPlainText: true}, time.Now(), "", nil, "",
		func(store.Post) string { return "" })
	if err != nil {
		t.Fatalf("PostReply failed: %v", err)
	}

	if h.notifier.calls != 0 {
		t.Errorf("expected no subscriber notification, got %d", h.notifier.calls)
	}
}

func TestPostReplyNotifiesSubscribersExactlyOnce(t *testing.T) {
	h := newHarness()
	h.store.topic = store.Topic{ID: 7, ForumID: 2}

	_, err := h.service.PostReply(context.Background(), store.Topic{ID: 7, ForumID: 2}, store.User{ID: 5, Name: "diane"},
		store.NoParentPostID, "", false, NewPost{FullText: "x", IsPlainText: true}, time.Now(), "",
		func(store.User) string { return "/u" }, "", func(store.Post) string { return "" })
	if err != nil {
		t.Fatalf("PostReply failed: %v", err)
	}

	if h.notifier.calls != 1 {
		t.Errorf("expected exactly one notification pass, got %d", h.notifier.calls)
	}
}

func TestPostReplySanitizesRichText(t *testing.T) {
	h := newHarness()
	h.store.topic = store.Topic{ID: 7, ForumID: 2}

	_, err := h.service.PostReply(context.Background(), store.Topic{ID: 7, ForumID: 2}, store.User{ID: 5, Name: "diane"},
		store.NoParentPostID, "", false, NewPost{FullText: "<b>hi</b><script>alert(1)</script>", IsPlainText: false},
		time.Now(), "", nil, "", func(store.Post) string { return "" })
	if err != nil {
		t.Fatalf("PostReply failed: %v", err)
	}

	if got := h.store.createdPosts[0].FullText; got != "<b>hi</b>alert(1)</script>" {
		t.Errorf("expected sanitized body, got %q", got)
	}
}

func TestPostReplyForumRefetchFailureStillReturnsPost(t *testing.T) {
	h := newHarness()
	h.store.forumErr = errors.New("db down")

	post, err := h.service.PostReply(context.Background(), store.Topic{ID: 7, ForumID: 2}, store.User{ID: 5, Name: "diane"},
		store.NoParentPostID, "", false, NewPost{FullText: "x", IsPlainText: true}, time.Now(), "", nil, "",
		func(store.Post) string { return "" })
	if err != nil {
		t.Fatalf("PostReply failed: %v", err)
	}
	if post.ID == 0 {
		t.Error("expected created post despite refetch failure")
	}

	for _, call := range h.log.calls {
		if call == "NotifyTopicUpdate" {
			t.Error("expected no topic update after forum refetch failure")
		}
	}
}

func TestEditPost(t *testing.T) {
	h := newHarness()
	post := store.Post{ID: 9, TopicID: 7, FullText: "old body", Title: "Old"}
	edit := PostEdit{Title: "New darn title", FullText: "new body", ShowSig: true, IsPlainText: true, Comment: "typo fix"}
	editor := store.User{ID: 3, Name: "mod"}

	if err := h.service.EditPost(context.Background(), post, edit, editor); err != nil {
		t.Fatalf("EditPost failed: %v", err)
	}

	wantOrder := []string{"UpdatePost", "LogPost", "SearchEnqueue"}
	if !reflect.DeepEqual(h.log.calls, wantOrder) {
		t.Errorf("side effect order mismatch:\n got %v\nwant %v", h.log.calls, wantOrder)
	}

	if len(h.store.updatedPosts) != 1 {
		t.Fatalf("expected 1 updated post, got %d", len(h.store.updatedPosts))
	}
	updated := h.store.updatedPosts[0]
	if updated.Title != "New **** title" {
		t.Errorf("expected censored title, got %q", updated.Title)
	}
	if updated.FullText != "<p>new body</p>" {
		t.Errorf("expected rendered body, got %q", updated.FullText)
	}
	if !updated.IsEdited || updated.LastEditName != "mod" || updated.LastEditTime == nil {
		t.Errorf("expected edit metadata stamped, got %+v", updated)
	}
	if !updated.ShowSig {
		t.Error("expected signature flag from edit")
	}

	if len(h.modLog.entries) != 1 {
		t.Fatalf("expected 1 moderation entry, got %d", len(h.modLog.entries))
	}
	entry := h.modLog.entries[0]
	if entry.actionKind != store.ModerationPostEdit {
		t.Errorf("unexpected action kind %q", entry.actionKind)
	}
	if entry.oldText != "old body" {
		t.Errorf("expected pre-edit text preserved, got %q", entry.oldText)
	}
	if entry.comment != "typo fix" {
		t.Errorf("unexpected comment %q", entry.comment)
	}

	if len(h.queue.payloads) != 1 || h.queue.payloads[0].TopicID != 7 {
		t.Errorf("expected one reindex for topic 7, got %v", h.queue.payloads)
	}
}

func TestEditPostModerationLogFailureDoesNotBlock(t *testing.T) {
	h := newHarness()
	h.modLog.err = errors.New("log table gone")

	err := h.service.EditPost(context.Background(), store.Post{ID: 9, TopicID: 7}, PostEdit{FullText: "x", IsPlainText: true}, store.User{ID: 3, Name: "mod"})
	if err != nil {
		t.Fatalf("expected edit to survive log failure, got %v", err)
	}
	if len(h.queue.payloads) != 1 {
		t.Errorf("expected reindex even after log failure, got %d", len(h.queue.payloads))
	}
}
