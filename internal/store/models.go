package store

import "time"

// NoParentPostID is the sentinel for a top-level post in a topic.
const NoParentPostID int64 = 0

type Forum struct {
	ID               int64
	CategoryID       *int64
	Title            string
	Description      string
	IsVisible        bool
	IsArchived       bool
	SortOrder        int
	URLName          string
	TopicCount       int
	PostCount        int
	LastPostTime     time.Time
	LastPostName     string
	ForumAdapterName string
	IsQAForum        bool
}

type Category struct {
	ID        int64
	Title     string
	SortOrder int
}

type Topic struct {
	ID              int64
	ForumID         int64
	Title           string
	URLName         string
	ReplyCount      int
	ViewCount       int
	StartedByUserID int64
	StartedByName   string
	LastPostUserID  int64
	LastPostName    string
	LastPostTime    time.Time
	IsClosed        bool
	IsPinned        bool
	IsDeleted       bool
	AnswerPostID    *int64
}

type Post struct {
	ID             int64
	TopicID        int64
	ParentPostID   int64
	UserID         int64
	Name           string
	Title          string
	FullText       string
	IP             string
	ShowSig        bool
	PostTime       time.Time
	IsEdited       bool
	LastEditName   string
	LastEditTime   *time.Time
	IsDeleted      bool
	Votes          int
	IsFirstInTopic bool
}

type User struct {
	ID         int64
	Name       string
	Email      string
	IsApproved bool
	Roles      []string
}

// ModerationLogEntry records a moderation action against a post or topic.
// OldText preserves the pre-edit body so edits are fully auditable.
type ModerationLogEntry struct {
	ID             int64
	TimeStamp      time.Time
	UserID         int64
	UserName       string
	ModerationType string
	ForumID        int64
	TopicID        int64
	PostID         int64
	Comment        string
	OldText        string
}

// Moderation action kinds.
const (
	ModerationPostEdit   = "PostEdit"
	ModerationPostDelete = "PostDelete"
)
