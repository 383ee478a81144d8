// Package forum holds the forum-level domain logic: the permission
// engine, forum ordering, advisory count recomputation, and the Q&A
// topic projection.
package forum

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// sortOrderSpacing is the gap between adjacent sort keys after a
// renumbering pass. moveDelta is applied to a forum before renumbering;
// it exceeds the spacing so the forum lands strictly past its neighbor.
const (
	sortOrderSpacing = 2
	moveDelta        = 3
)

// noTopicsLastPostTime is the last-activity stamp for a forum whose
// topics have all been removed.
var noTopicsLastPostTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type forumStore interface {
	GetForum(ctx context.Context, forumID int64) (store.Forum, error)
	GetForumByURLName(ctx context.Context, urlName string) (store.Forum, error)
	GetAllForums(ctx context.Context) ([]store.Forum, error)
	GetVisibleForums(ctx context.Context) ([]store.Forum, error)
	GetForumsInCategory(ctx context.Context, categoryID *int64) ([]store.Forum, error)
	GetForumURLNamesThatStartWith(ctx context.Context, prefix string) ([]string, error)
	CreateForum(ctx context.Context, forum store.Forum) (int64, error)
	UpdateForum(ctx context.Context, forum store.Forum) error
	UpdateForumSortOrder(ctx context.Context, forumID int64, sortOrder int) error
	UpdateForumLastTimeAndUser(ctx context.Context, forumID int64, lastTime time.Time, lastName string) error
	GetForumViewRoles(ctx context.Context, forumID int64) ([]string, error)
	GetForumPostRoles(ctx context.Context, forumID int64) ([]string, error)
	GetViewRestrictionRoleGraph(ctx context.Context) (map[int64][]string, error)
	AddForumViewRole(ctx context.Context, forumID int64, role string) error
	AddForumPostRole(ctx context.Context, forumID int64, role string) error
	RemoveForumViewRole(ctx context.Context, forumID int64, role string) error
	RemoveForumPostRole(ctx context.Context, forumID int64, role string) error
	RemoveAllForumViewRoles(ctx context.Context, forumID int64) error
	RemoveAllForumPostRoles(ctx context.Context, forumID int64) error
	GetAllForumTitles(ctx context.Context) (map[int64]string, error)
	GetAggregateTopicCount(ctx context.Context) (int, error)
	GetAggregatePostCount(ctx context.Context) (int, error)
	GetAllCategories(ctx context.Context) ([]store.Category, error)
	GetLastUpdatedTopic(ctx context.Context, forumID int64) (store.Topic, error)
	GetRecentTopics(ctx context.Context, includeDeleted bool, excludedForumIDs []int64, offset, limit int) ([]store.Topic, error)
	GetRecentTopicCount(ctx context.Context, includeDeleted bool, excludedForumIDs []int64) (int, error)
}

// Service implements forum-level operations against the store.
type Service struct {
	store     forumStore
	recounter *Recounter
}

func NewService(forumStore forumStore, recounter *Recounter) *Service {
	return &Service{store: forumStore, recounter: recounter}
}

func (s *Service) Get(ctx context.Context, forumID int64) (store.Forum, error) {
	return s.store.GetForum(ctx, forumID)
}

func (s *Service) GetByURLName(ctx context.Context, urlName string) (store.Forum, error) {
	return s.store.GetForumByURLName(ctx, urlName)
}

// Create inserts a forum with a collision-free URL name, then renumbers
// every forum's sort key so spacing stays uniform.
func (s *Service) Create(ctx context.Context, forum store.Forum) (store.Forum, error) {
	existing, err := s.store.GetForumURLNamesThatStartWith(ctx, util.ToURLName(forum.Title))
	if err != nil {
		return store.Forum{}, err
	}
	forum.URLName = util.ToUniqueURLName(forum.Title, existing)
	id, err := s.store.CreateForum(ctx, forum)
	if err != nil {
		return store.Forum{}, err
	}
	forum.ID = id

	forums, err := s.store.GetAllForums(ctx)
	if err != nil {
		return store.Forum{}, err
	}
	if err := s.sortAndUpdateForums(ctx, forums); err != nil {
		return store.Forum{}, err
	}
	return forum, nil
}

// Update persists forum metadata, deriving a fresh URL name when the
// title changed.
func (s *Service) Update(ctx context.Context, forum store.Forum, title, description string, categoryID *int64, isVisible, isArchived bool, adapterName string, isQAForum bool) error {
	urlName := forum.URLName
	if forum.Title != title {
		existing, err := s.store.GetForumURLNamesThatStartWith(ctx, util.ToURLName(title))
		if err != nil {
			return err
		}
		urlName = util.ToUniqueURLName(title, existing)
	}
	forum.Title = title
	forum.Description = description
	forum.CategoryID = categoryID
	forum.IsVisible = isVisible
	forum.IsArchived = isArchived
	forum.ForumAdapterName = adapterName
	forum.IsQAForum = isQAForum
	forum.URLName = urlName
	return s.store.UpdateForum(ctx, forum)
}

// UpdateLast re-derives a forum's last-activity stamp from its most
// recently active topic, falling back to the empty marker when the
// forum has none.
func (s *Service) UpdateLast(ctx context.Context, forum store.Forum) error {
	topic, err := s.store.GetLastUpdatedTopic(ctx, forum.ID)
	if err != nil {
		if errorsIsNotFound(err) {
			return s.store.UpdateForumLastTimeAndUser(ctx, forum.ID, noTopicsLastPostTime, "")
		}
		return err
	}
	return s.store.UpdateForumLastTimeAndUser(ctx, forum.ID, topic.LastPostTime, topic.LastPostName)
}

// UpdateCounts schedules a background recomputation of the forum's
// authoritative topic and post counts. The caller gets no result; counts
// are advisory and eventually consistent.
func (s *Service) UpdateCounts(forum store.Forum) {
	s.recounter.Enqueue(forum.ID)
}

// MoveForumUp moves a forum one position earlier within its category.
func (s *Service) MoveForumUp(ctx context.Context, forumID int64) error {
	return s.moveForum(ctx, forumID, -moveDelta)
}

// MoveForumDown moves a forum one position later within its category.
func (s *Service) MoveForumDown(ctx context.Context, forumID int64) error {
	return s.moveForum(ctx, forumID, moveDelta)
}

func (s *Service) moveForum(ctx context.Context, forumID int64, delta int) error {
	forum, err := s.store.GetForum(ctx, forumID)
	if err != nil {
		return fmt.Errorf("forum %d doesn't exist, can't move it: %w", forumID, err)
	}
	forums, err := s.store.GetForumsInCategory(ctx, forum.CategoryID)
	if err != nil {
		return err
	}
	for i := range forums {
		if forums[i].ID == forumID {
			forums[i].SortOrder += delta
			break
		}
	}
	return s.sortAndUpdateForums(ctx, forums)
}

// sortAndUpdateForums renumbers the given forums to evenly spaced,
// strictly increasing sort keys, persisting every key.
func (s *Service) sortAndUpdateForums(ctx context.Context, forums []store.Forum) error {
	sort.SliceStable(forums, func(i, j int) bool {
		return forums[i].SortOrder < forums[j].SortOrder
	})
	for i := range forums {
		forums[i].SortOrder = i * sortOrderSpacing
		if err := s.store.UpdateForumSortOrder(ctx, forums[i].ID, forums[i].SortOrder); err != nil {
			return err
		}
	}
	return nil
}

// ModifyType selects the role-set mutation applied by ModifyForumRoles.
type ModifyType int

const (
	ModifyAddPost ModifyType = iota
	ModifyRemovePost
	ModifyAddView
	ModifyRemoveView
	ModifyRemoveAllPost
	ModifyRemoveAllView
)

func (s *Service) ModifyForumRoles(ctx context.Context, forumID int64, modifyType ModifyType, role string) error {
	forum, err := s.store.GetForum(ctx, forumID)
	if err != nil {
		return fmt.Errorf("forum %d not found: %w", forumID, err)
	}
	switch modifyType {
	case ModifyAddPost:
		return s.store.AddForumPostRole(ctx, forum.ID, role)
	case ModifyRemovePost:
		return s.store.RemoveForumPostRole(ctx, forum.ID, role)
	case ModifyAddView:
		return s.store.AddForumViewRole(ctx, forum.ID, role)
	case ModifyRemoveView:
		return s.store.RemoveForumViewRole(ctx, forum.ID, role)
	case ModifyRemoveAllPost:
		return s.store.RemoveAllForumPostRoles(ctx, forum.ID)
	case ModifyRemoveAllView:
		return s.store.RemoveAllForumViewRoles(ctx, forum.ID)
	default:
		return fmt.Errorf("unknown forum role modification %d", modifyType)
	}
}

func (s *Service) GetForumViewRoles(ctx context.Context, forum store.Forum) ([]string, error) {
	return s.store.GetForumViewRoles(ctx, forum.ID)
}

func (s *Service) GetForumPostRoles(ctx context.Context, forum store.Forum) ([]string, error) {
	return s.store.GetForumPostRoles(ctx, forum.ID)
}

// GetNonViewableForumIDs lists every forum the user cannot view because
// of view-restriction roles. A nil user fails every restricted forum.
func (s *Service) GetNonViewableForumIDs(ctx context.Context, user *store.User) ([]int64, error) {
	graph, err := s.store.GetViewRestrictionRoleGraph(ctx)
	if err != nil {
		return nil, err
	}
	nonViewable := make([]int64, 0)
	for forumID, roles := range graph {
		if len(roles) == 0 {
			continue
		}
		if user == nil || !userRoleSet(user).HasAny(roles) {
			nonViewable = append(nonViewable, forumID)
		}
	}
	sort.Slice(nonViewable, func(i, j int) bool { return nonViewable[i] < nonViewable[j] })
	return nonViewable, nil
}

// GetViewableForumIDs lists visible forums the user may view.
func (s *Service) GetViewableForumIDs(ctx context.Context, user *store.User) ([]int64, error) {
	nonViewable, err := s.GetNonViewableForumIDs(ctx, user)
	if err != nil {
		return nil, err
	}
	excluded := make(map[int64]struct{}, len(nonViewable))
	for _, id := range nonViewable {
		excluded[id] = struct{}{}
	}
	forums, err := s.store.GetVisibleForums(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(forums))
	for _, forum := range forums {
		if _, ok := excluded[forum.ID]; !ok {
			ids = append(ids, forum.ID)
		}
	}
	return ids, nil
}

// CategoryContainer groups a category with its forums in sort order.
type CategoryContainer struct {
	Category store.Category
	Forums   []store.Forum
}

// GetCategoryContainers groups all forums by category, uncategorized
// forums first, each group ordered by sort key.
func (s *Service) GetCategoryContainers(ctx context.Context) ([]CategoryContainer, error) {
	forums, err := s.store.GetAllForums(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.store.GetAllCategories(ctx)
	if err != nil {
		return nil, err
	}
	return groupByCategory(categories, forums), nil
}

// GetCategoryContainersForUser is GetCategoryContainers restricted to
// visible forums the user may view.
func (s *Service) GetCategoryContainersForUser(ctx context.Context, user *store.User) ([]CategoryContainer, error) {
	nonViewable, err := s.GetNonViewableForumIDs(ctx, user)
	if err != nil {
		return nil, err
	}
	excluded := make(map[int64]struct{}, len(nonViewable))
	for _, id := range nonViewable {
		excluded[id] = struct{}{}
	}
	visible, err := s.store.GetVisibleForums(ctx)
	if err != nil {
		return nil, err
	}
	forums := make([]store.Forum, 0, len(visible))
	for _, forum := range visible {
		if _, ok := excluded[forum.ID]; !ok {
			forums = append(forums, forum)
		}
	}
	categories, err := s.store.GetAllCategories(ctx)
	if err != nil {
		return nil, err
	}
	return groupByCategory(categories, forums), nil
}

func groupByCategory(categories []store.Category, forums []store.Forum) []CategoryContainer {
	containers := make([]CategoryContainer, 0, len(categories)+1)
	uncategorized := make([]store.Forum, 0)
	byCategory := make(map[int64][]store.Forum)
	for _, forum := range forums {
		if forum.CategoryID == nil {
			uncategorized = append(uncategorized, forum)
			continue
		}
		byCategory[*forum.CategoryID] = append(byCategory[*forum.CategoryID], forum)
	}
	if len(uncategorized) > 0 {
		sortForums(uncategorized)
		containers = append(containers, CategoryContainer{Category: store.Category{Title: "Uncategorized"}, Forums: uncategorized})
	}
	for _, category := range categories {
		group := byCategory[category.ID]
		sortForums(group)
		containers = append(containers, CategoryContainer{Category: category, Forums: group})
	}
	return containers
}

func sortForums(forums []store.Forum) {
	sort.SliceStable(forums, func(i, j int) bool {
		return forums[i].SortOrder < forums[j].SortOrder
	})
}

// PagerContext describes one page of a larger result set.
type PagerContext struct {
	PageCount int
	PageIndex int
	PageSize  int
}

// GetRecentTopics pages over recent topics across all forums the user
// may view. pageIndex is 1-based.
func (s *Service) GetRecentTopics(ctx context.Context, user *store.User, includeDeleted bool, pageIndex, pageSize int) ([]store.Topic, PagerContext, error) {
	nonViewable, err := s.GetNonViewableForumIDs(ctx, user)
	if err != nil {
		return nil, PagerContext{}, err
	}
	if pageIndex < 1 {
		pageIndex = 1
	}
	offset := (pageIndex - 1) * pageSize
	topics, err := s.store.GetRecentTopics(ctx, includeDeleted, nonViewable, offset, pageSize)
	if err != nil {
		return nil, PagerContext{}, err
	}
	total, err := s.store.GetRecentTopicCount(ctx, includeDeleted, nonViewable)
	if err != nil {
		return nil, PagerContext{}, err
	}
	pageCount := (total + pageSize - 1) / pageSize
	return topics, PagerContext{PageCount: pageCount, PageIndex: pageIndex, PageSize: pageSize}, nil
}

func (s *Service) GetAllForumTitles(ctx context.Context) (map[int64]string, error) {
	return s.store.GetAllForumTitles(ctx)
}

func (s *Service) GetAggregateTopicCount(ctx context.Context) (int, error) {
	return s.store.GetAggregateTopicCount(ctx)
}

func (s *Service) GetAggregatePostCount(ctx context.Context) (int, error) {
	return s.store.GetAggregatePostCount(ctx)
}
