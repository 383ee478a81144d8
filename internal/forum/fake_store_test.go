package forum

import (
	"context"
	"time"

	"quorum/api/internal/store"
)

// fakeForumStore is an in-memory forumStore plus recountStore used
// across the package tests.
type fakeForumStore struct {
	forums     map[int64]store.Forum
	viewRoles  map[int64][]string
	postRoles  map[int64][]string
	categories []store.Category
	nextID     int64

	lastUpdatedTopic map[int64]store.Topic
	recentTopics     []store.Topic

	topicCounts map[int64]int
	postCounts  map[int64]int

	sortOrderWrites  []int64
	lastTimeWrites   map[int64]time.Time
	lastNameWrites   map[int64]string
	countWrites      map[int64][2]int
	forumURLNames    []string
	roleChanges      []string
	getForumErr      error
	updatedForums    []store.Forum
}

func newFakeForumStore() *fakeForumStore {
	return &fakeForumStore{
		forums:           make(map[int64]store.Forum),
		viewRoles:        make(map[int64][]string),
		postRoles:        make(map[int64][]string),
		lastUpdatedTopic: make(map[int64]store.Topic),
		topicCounts:      make(map[int64]int),
		postCounts:       make(map[int64]int),
		lastTimeWrites:   make(map[int64]time.Time),
		lastNameWrites:   make(map[int64]string),
		countWrites:      make(map[int64][2]int),
		nextID:           1,
	}
}

func (f *fakeForumStore) addForum(forum store.Forum) store.Forum {
	if forum.ID == 0 {
		forum.ID = f.nextID
		f.nextID++
	} else if forum.ID >= f.nextID {
		f.nextID = forum.ID + 1
	}
	f.forums[forum.ID] = forum
	return forum
}

func (f *fakeForumStore) GetForum(_ context.Context, forumID int64) (store.Forum, error) {
	if f.getForumErr != nil {
		return store.Forum{}, f.getForumErr
	}
	forum, ok := f.forums[forumID]
	if !ok {
		return store.Forum{}, store.ErrNotFound
	}
	return forum, nil
}

func (f *fakeForumStore) GetForumByURLName(_ context.Context, urlName string) (store.Forum, error) {
	for _, forum := range f.forums {
		if forum.URLName == urlName {
			return forum, nil
		}
	}
	return store.Forum{}, store.ErrNotFound
}

func (f *fakeForumStore) GetAllForums(context.Context) ([]store.Forum, error) {
	items := make([]store.Forum, 0, len(f.forums))
	for id := int64(0); id < f.nextID; id++ {
		if forum, ok := f.forums[id]; ok {
			items = append(items, forum)
		}
	}
	return items, nil
}

func (f *fakeForumStore) GetVisibleForums(ctx context.Context) ([]store.Forum, error) {
	all, _ := f.GetAllForums(ctx)
	items := make([]store.Forum, 0, len(all))
	for _, forum := range all {
		if forum.IsVisible {
			items = append(items, forum)
		}
	}
	return items, nil
}

func (f *fakeForumStore) GetForumsInCategory(ctx context.Context, categoryID *int64) ([]store.Forum, error) {
	all, _ := f.GetAllForums(ctx)
	items := make([]store.Forum, 0)
	for _, forum := range all {
		switch {
		case categoryID == nil && forum.CategoryID == nil:
			items = append(items, forum)
		case categoryID != nil && forum.CategoryID != nil && *categoryID == *forum.CategoryID:
			items = append(items, forum)
		}
	}
	return items, nil
}

func (f *fakeForumStore) GetForumURLNamesThatStartWith(context.Context, string) ([]string, error) {
	return f.forumURLNames, nil
}

func (f *fakeForumStore) CreateForum(_ context.Context, forum store.Forum) (int64, error) {
	created := f.addForum(forum)
	return created.ID, nil
}

func (f *fakeForumStore) UpdateForum(_ context.Context, forum store.Forum) error {
	f.forums[forum.ID] = forum
	f.updatedForums = append(f.updatedForums, forum)
	return nil
}

func (f *fakeForumStore) UpdateForumSortOrder(_ context.Context, forumID int64, sortOrder int) error {
	forum := f.forums[forumID]
	forum.SortOrder = sortOrder
	f.forums[forumID] = forum
	f.sortOrderWrites = append(f.sortOrderWrites, forumID)
	return nil
}

func (f *fakeForumStore) UpdateForumLastTimeAndUser(_ context.Context, forumID int64, lastTime time.Time, lastName string) error {
	f.lastTimeWrites[forumID] = lastTime
	f.lastNameWrites[forumID] = lastName
	return nil
}

func (f *fakeForumStore) GetForumViewRoles(_ context.Context, forumID int64) ([]string, error) {
	return f.viewRoles[forumID], nil
}

func (f *fakeForumStore) GetForumPostRoles(_ context.Context, forumID int64) ([]string, error) {
	return f.postRoles[forumID], nil
}

func (f *fakeForumStore) GetViewRestrictionRoleGraph(context.Context) (map[int64][]string, error) {
	graph := make(map[int64][]string, len(f.forums))
	for id := range f.forums {
		graph[id] = f.viewRoles[id]
	}
	return graph, nil
}

func (f *fakeForumStore) AddForumViewRole(_ context.Context, forumID int64, role string) error {
	f.viewRoles[forumID] = append(f.viewRoles[forumID], role)
	f.roleChanges = append(f.roleChanges, "addView:"+role)
	return nil
}

func (f *fakeForumStore) AddForumPostRole(_ context.Context, forumID int64, role string) error {
	f.postRoles[forumID] = append(f.postRoles[forumID], role)
	f.roleChanges = append(f.roleChanges, "addPost:"+role)
	return nil
}

func (f *fakeForumStore) RemoveForumViewRole(_ context.Context, forumID int64, role string) error {
	f.roleChanges = append(f.roleChanges, "removeView:"+role)
	return nil
}

func (f *fakeForumStore) RemoveForumPostRole(_ context.Context, forumID int64, role string) error {
	f.roleChanges = append(f.roleChanges, "removePost:"+role)
	return nil
}

func (f *fakeForumStore) RemoveAllForumViewRoles(_ context.Context, forumID int64) error {
	f.viewRoles[forumID] = nil
	f.roleChanges = append(f.roleChanges, "removeAllView")
	return nil
}

func (f *fakeForumStore) RemoveAllForumPostRoles(_ context.Context, forumID int64) error {
	f.postRoles[forumID] = nil
	f.roleChanges = append(f.roleChanges, "removeAllPost")
	return nil
}

func (f *fakeForumStore) GetAllForumTitles(context.Context) (map[int64]string, error) {
	titles := make(map[int64]string, len(f.forums))
	for id, forum := range f.forums {
		titles[id] = forum.Title
	}
	return titles, nil
}

func (f *fakeForumStore) GetAggregateTopicCount(context.Context) (int, error) {
	total := 0
	for _, forum := range f.forums {
		total += forum.TopicCount
	}
	return total, nil
}

func (f *fakeForumStore) GetAggregatePostCount(context.Context) (int, error) {
	total := 0
	for _, forum := range f.forums {
		total += forum.PostCount
	}
	return total, nil
}

func (f *fakeForumStore) GetAllCategories(context.Context) ([]store.Category, error) {
	return f.categories, nil
}

func (f *fakeForumStore) GetLastUpdatedTopic(_ context.Context, forumID int64) (store.Topic, error) {
	topic, ok := f.lastUpdatedTopic[forumID]
	if !ok {
		return store.Topic{}, store.ErrNotFound
	}
	return topic, nil
}

func (f *fakeForumStore) GetRecentTopics(_ context.Context, includeDeleted bool, excludedForumIDs []int64, offset, limit int) ([]store.Topic, error) {
	items := f.filterRecent(includeDeleted, excludedForumIDs)
	if offset >= len(items) {
		return nil, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nil
}

func (f *fakeForumStore) GetRecentTopicCount(_ context.Context, includeDeleted bool, excludedForumIDs []int64) (int, error) {
	return len(f.filterRecent(includeDeleted, excludedForumIDs)), nil
}

func (f *fakeForumStore) filterRecent(includeDeleted bool, excludedForumIDs []int64) []store.Topic {
	excluded := make(map[int64]struct{}, len(excludedForumIDs))
	for _, id := range excludedForumIDs {
		excluded[id] = struct{}{}
	}
	items := make([]store.Topic, 0, len(f.recentTopics))
	for _, topic := range f.recentTopics {
		if topic.IsDeleted && !includeDeleted {
			continue
		}
		if _, ok := excluded[topic.ForumID]; ok {
			continue
		}
		items = append(items, topic)
	}
	return items
}

func (f *fakeForumStore) GetTopicCountByForum(_ context.Context, forumID int64, includeDeleted bool) (int, error) {
	return f.topicCounts[forumID], nil
}

func (f *fakeForumStore) GetPostCountByForum(_ context.Context, forumID int64, includeDeleted bool) (int, error) {
	return f.postCounts[forumID], nil
}

func (f *fakeForumStore) UpdateForumTopicAndPostCounts(_ context.Context, forumID int64, topicCount, postCount int) error {
	f.countWrites[forumID] = [2]int{topicCount, postCount}
	return nil
}
