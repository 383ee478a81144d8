package posting

import (
	"context"
	"strings"
	"time"

	"quorum/api/internal/searchidx"
	"quorum/api/internal/store"
)

// callLog records the order in which collaborators are hit, across all
// fakes sharing it.
type callLog struct {
	calls []string
}

func (l *callLog) add(name string) {
	l.calls = append(l.calls, name)
}

type fakePostingStore struct {
	log *callLog

	urlNames     []string
	urlNamesErr  error
	forum        store.Forum
	forumErr     error
	topic        store.Topic
	topicErr     error
	viewRoles    []string
	viewRolesErr error

	nextTopicID int64
	nextPostID  int64

	createdTopics []store.Topic
	createdPosts  []store.Post
	updatedPosts  []store.Post
	lastPostSets  [][2]int64
}

func newFakePostingStore(log *callLog) *fakePostingStore {
	return &fakePostingStore{log: log, nextTopicID: 100, nextPostID: 500}
}

func (f *fakePostingStore) GetForum(_ context.Context, forumID int64) (store.Forum, error) {
	f.log.add("GetForum")
	if f.forumErr != nil {
		return store.Forum{}, f.forumErr
	}
	return f.forum, nil
}

func (f *fakePostingStore) GetForumViewRoles(_ context.Context, _ int64) ([]string, error) {
	f.log.add("GetForumViewRoles")
	return f.viewRoles, f.viewRolesErr
}

func (f *fakePostingStore) UpdateForumLastTimeAndUser(_ context.Context, _ int64, _ time.Time, _ string) error {
	f.log.add("UpdateForumLastTimeAndUser")
	return nil
}

func (f *fakePostingStore) IncrementForumPostCount(_ context.Context, _ int64) error {
	f.log.add("IncrementForumPostCount")
	return nil
}

func (f *fakePostingStore) IncrementForumPostAndTopicCount(_ context.Context, _ int64) error {
	f.log.add("IncrementForumPostAndTopicCount")
	return nil
}

func (f *fakePostingStore) GetTopic(_ context.Context, _ int64) (store.Topic, error) {
	f.log.add("GetTopic")
	if f.topicErr != nil {
		return store.Topic{}, f.topicErr
	}
	return f.topic, nil
}

func (f *fakePostingStore) CreateTopic(_ context.Context, topic store.Topic) (int64, error) {
	f.log.add("CreateTopic")
	f.nextTopicID++
	f.createdTopics = append(f.createdTopics, topic)
	return f.nextTopicID, nil
}

func (f *fakePostingStore) GetTopicURLNamesThatStartWith(_ context.Context, _ int64, _ string) ([]string, error) {
	f.log.add("GetTopicURLNamesThatStartWith")
	return f.urlNames, f.urlNamesErr
}

func (f *fakePostingStore) IncrementTopicReplyCount(_ context.Context, _ int64) error {
	f.log.add("IncrementTopicReplyCount")
	return nil
}

func (f *fakePostingStore) UpdateTopicLastTimeAndUser(_ context.Context, _, _ int64, _ string, _ time.Time) error {
	f.log.add("UpdateTopicLastTimeAndUser")
	return nil
}

func (f *fakePostingStore) CreatePost(_ context.Context, post store.Post) (int64, error) {
	f.log.add("CreatePost")
	f.nextPostID++
	f.createdPosts = append(f.createdPosts, post)
	return f.nextPostID, nil
}

func (f *fakePostingStore) UpdatePost(_ context.Context, post store.Post) error {
	f.log.add("UpdatePost")
	f.updatedPosts = append(f.updatedPosts, post)
	return nil
}

func (f *fakePostingStore) SetLastPostID(_ context.Context, userID, postID int64) error {
	f.log.add("SetLastPostID")
	f.lastPostSets = append(f.lastPostSets, [2]int64{userID, postID})
	return nil
}

type fakeTextParser struct{}

func (fakeTextParser) Censor(text string) string {
	return strings.ReplaceAll(text, "darn", "****")
}

func (fakeTextParser) PlainToRendered(text string) string {
	return "<p>" + text + "</p>"
}

func (fakeTextParser) RichToSanitized(text string) string {
	return strings.ReplaceAll(text, "<script>", "")
}

type publishedEvent struct {
	message      string
	eventKind    string
	isRestricted bool
}

type fakeEvents struct {
	log       *callLog
	published []publishedEvent
}

func (f *fakeEvents) Publish(_ context.Context, message string, _ store.User, eventKind string, isRestricted bool) {
	f.log.add("Publish:" + eventKind)
	f.published = append(f.published, publishedEvent{message: message, eventKind: eventKind, isRestricted: isRestricted})
}

type fakeBroker struct {
	log *callLog
}

func (f *fakeBroker) NotifyForumUpdate(_ context.Context, _ store.Forum) {
	f.log.add("NotifyForumUpdate")
}

func (f *fakeBroker) NotifyTopicUpdate(_ context.Context, _ store.Topic, _ store.Forum, _ string) {
	f.log.add("NotifyTopicUpdate")
}

func (f *fakeBroker) NotifyNewPost(_ context.Context, _ store.Topic, _ int64) {
	f.log.add("NotifyNewPost")
}

func (f *fakeBroker) NotifyNewPosts(_ context.Context, _ store.Topic, _ int64) {
	f.log.add("NotifyNewPosts")
}

type fakeSearchQueue struct {
	log      *callLog
	payloads []searchidx.Payload
}

func (f *fakeSearchQueue) Enqueue(_ context.Context, payload searchidx.Payload) {
	f.log.add("SearchEnqueue")
	f.payloads = append(f.payloads, payload)
}

type fakeTenant struct{}

func (fakeTenant) CurrentTenant() string { return "main" }

type fakeNotifier struct {
	log   *callLog
	calls int
}

func (f *fakeNotifier) NotifySubscribers(_ context.Context, _ store.Topic, _ store.User, _ string, _ func(store.User) string) {
	f.log.add("NotifySubscribers")
	f.calls++
}

type loggedModeration struct {
	actionKind string
	post       store.Post
	comment    string
	oldText    string
}

type fakeModLog struct {
	log     *callLog
	err     error
	entries []loggedModeration
}

func (f *fakeModLog) LogPost(_ context.Context, _ store.User, actionKind string, post store.Post, comment, oldText string) error {
	f.log.add("LogPost")
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, loggedModeration{actionKind: actionKind, post: post, comment: comment, oldText: oldText})
	return nil
}

type harness struct {
	log      *callLog
	store    *fakePostingStore
	events   *fakeEvents
	broker   *fakeBroker
	queue    *fakeSearchQueue
	notifier *fakeNotifier
	modLog   *fakeModLog
	service  *Service
}

func newHarness() *harness {
	log := &callLog{}
	st := newFakePostingStore(log)
	events := &fakeEvents{log: log}
	broker := &fakeBroker{log: log}
	queue := &fakeSearchQueue{log: log}
	notifier := &fakeNotifier{log: log}
	modLog := &fakeModLog{log: log}
	service := NewService(st, fakeTextParser{}, events, broker, queue, fakeTenant{}, notifier, modLog)
	return &harness{
		log:      log,
		store:    st,
		events:   events,
		broker:   broker,
		queue:    queue,
		notifier: notifier,
		modLog:   modLog,
		service:  service,
	}
}
