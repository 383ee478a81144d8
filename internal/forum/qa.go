package forum

import (
	"fmt"
	"sort"
	"time"

	"quorum/api/internal/store"
)

// IntegrityError reports a topic whose posts violate the single
// first-in-topic invariant. It indicates upstream corruption and is
// never silently recovered.
type IntegrityError struct {
	TopicID int64
	Count   int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("topic %d has %d posts marked first in topic, want exactly 1", e.TopicID, e.Count)
}

// TopicContainer carries a topic and its full post list for rendering.
type TopicContainer struct {
	Forum             store.Forum
	Topic             store.Topic
	Posts             []store.Post
	PermissionContext PermissionContext
	IsSubscribed      bool
	LastReadTime      *time.Time
}

// PostWithChildren pairs a post with its direct comment replies.
type PostWithChildren struct {
	Post         store.Post
	Children     []store.Post
	LastReadTime *time.Time
}

// TopicContainerForQA is the question/answers/comments projection of a
// topic for forums operating in question-and-answer mode.
type TopicContainerForQA struct {
	TopicContainer
	QuestionPostWithComments PostWithChildren
	AnswersWithComments      []PostWithChildren
}

// MapTopicContainerForQA projects a flat post list into question,
// ordered answers, and per-post comments. Answers sort by votes then
// recency, with the accepted answer (if any) forced to the front.
func MapTopicContainerForQA(container TopicContainer) (TopicContainerForQA, error) {
	result := TopicContainerForQA{TopicContainer: container}

	var question *store.Post
	firstCount := 0
	for i := range container.Posts {
		if container.Posts[i].IsFirstInTopic {
			firstCount++
			question = &container.Posts[i]
		}
	}
	if firstCount != 1 {
		return TopicContainerForQA{}, &IntegrityError{TopicID: container.Topic.ID, Count: firstCount}
	}

	result.QuestionPostWithComments = PostWithChildren{
		Post:         *question,
		Children:     childrenOf(container.Posts, question.ID),
		LastReadTime: container.LastReadTime,
	}

	answers := make([]store.Post, 0)
	for _, post := range container.Posts {
		if !post.IsFirstInTopic && post.ParentPostID == store.NoParentPostID {
			answers = append(answers, post)
		}
	}
	sort.SliceStable(answers, func(i, j int) bool {
		if answers[i].Votes != answers[j].Votes {
			return answers[i].Votes > answers[j].Votes
		}
		return answers[i].PostTime.After(answers[j].PostTime)
	})
	if container.Topic.AnswerPostID != nil {
		for i, answer := range answers {
			if answer.ID == *container.Topic.AnswerPostID {
				accepted := answers[i]
				answers = append(answers[:i], answers[i+1:]...)
				answers = append([]store.Post{accepted}, answers...)
				break
			}
		}
	}

	result.AnswersWithComments = make([]PostWithChildren, 0, len(answers))
	for _, answer := range answers {
		result.AnswersWithComments = append(result.AnswersWithComments, PostWithChildren{
			Post:         answer,
			Children:     childrenOf(container.Posts, answer.ID),
			LastReadTime: container.LastReadTime,
		})
	}
	return result, nil
}

func childrenOf(posts []store.Post, parentID int64) []store.Post {
	children := make([]store.Post, 0)
	for _, post := range posts {
		if post.ParentPostID == parentID {
			children = append(children, post)
		}
	}
	return children
}
