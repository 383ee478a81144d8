package forum

import (
	"context"
	"errors"
	"strings"

	"quorum/api/internal/rbac"
	"quorum/api/internal/store"
)

// Denial reason messages, accumulated in check order.
const (
	ReasonLoginToPost   = "You must be logged in to post."
	ReasonNotVerified   = "You can't post until you have verified your account."
	ReasonForumNoPost   = "You don't have permission to post in this forum."
	ReasonTopicClosed   = "This topic is closed."
	ReasonTopicDeleted  = "Topic is deleted."
	ReasonForumArchived = "This forum is archived."
)

// PermissionContext is the per-request capability set for one forum,
// user, and optional topic. It is never cached; it depends on live role
// and topic state.
type PermissionContext struct {
	UserCanView     bool
	UserCanPost     bool
	UserCanModerate bool
	// DenialReasons holds one message per failed check, in check order.
	// Later checks append regardless of earlier outcomes, so a moderator
	// viewing a deleted topic still carries the deleted reason.
	DenialReasons []string
}

// DenialReason joins the accumulated reasons for display.
func (c PermissionContext) DenialReason() string {
	return strings.Join(c.DenialReasons, " ")
}

// GetPermissionContext evaluates view, post, and moderate capability for
// a user (nil for anonymous) against a forum and optional topic. The
// returned error reflects only repository failure; lack of permission is
// expressed through the context, never an error.
func (s *Service) GetPermissionContext(ctx context.Context, forum store.Forum, user *store.User, topic *store.Topic) (PermissionContext, error) {
	viewRoles, err := s.store.GetForumViewRoles(ctx, forum.ID)
	if err != nil {
		return PermissionContext{}, err
	}
	postRoles, err := s.store.GetForumPostRoles(ctx, forum.ID)
	if err != nil {
		return PermissionContext{}, err
	}
	return evaluate(forum, user, topic, viewRoles, postRoles), nil
}

func evaluate(forum store.Forum, user *store.User, topic *store.Topic, viewRoles, postRoles []string) PermissionContext {
	context := PermissionContext{}
	roles := userRoleSet(user)

	// view
	if len(viewRoles) == 0 {
		context.UserCanView = true
	} else if user != nil && roles.HasAny(viewRoles) {
		context.UserCanView = true
	}

	// post
	switch {
	case user == nil || !context.UserCanView:
		context.DenialReasons = append(context.DenialReasons, ReasonLoginToPost)
	case !user.IsApproved:
		context.DenialReasons = append(context.DenialReasons, ReasonNotVerified)
	case len(postRoles) == 0 || roles.HasAny(postRoles):
		context.UserCanPost = true
	default:
		context.DenialReasons = append(context.DenialReasons, ReasonForumNoPost)
	}

	if topic != nil && topic.IsClosed {
		context.UserCanPost = false
		context.DenialReasons = append(context.DenialReasons, ReasonTopicClosed)
	}

	if topic != nil && topic.IsDeleted {
		if user == nil || !roles.Has(rbac.RoleModerator) {
			context.UserCanView = false
		}
		// The deleted reason is appended even for a moderator who can
		// still view; callers relying on the reason text expect it.
		context.DenialReasons = append(context.DenialReasons, ReasonTopicDeleted)
	}

	if forum.IsArchived {
		context.UserCanPost = false
		context.DenialReasons = append(context.DenialReasons, ReasonForumArchived)
	}

	// moderate
	if user != nil && (roles.Has(rbac.RoleAdmin) || roles.Has(rbac.RoleModerator)) {
		context.UserCanModerate = true
	}

	return context
}

func userRoleSet(user *store.User) rbac.Set {
	if user == nil {
		return rbac.NewSet()
	}
	return rbac.NewSet(user.Roles...)
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
