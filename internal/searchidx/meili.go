package searchidx

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTopics = "quorum_topics"

// TopicRecord is the searchable document for one topic: its title plus
// the text of every non-deleted post.
type TopicRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TopicID  int64  `json:"topicId"`
	ForumID  int64  `json:"forumId"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// RecordID builds the index primary key for a tenant/topic pair.
func RecordID(tenantID string, topicID int64) string {
	return tenantID + "-" + strconv.FormatInt(topicID, 10)
}

// Meili indexes topic records into Meilisearch. Returns unhealthy rather
// than failing when the server is unreachable; the worker requeues.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a client and configures the topics index. The worker
// proceeds without indexing while the server is down.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))
	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}
	if _, err := client.Health(); err != nil {
		log.Printf("searchidx: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTopics,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("searchidx: create index %s (may already exist): %v", idxTopics, err)
	}
	index := m.client.Index(idxTopics)
	filterable := []interface{}{"tenantId", "forumId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("searchidx: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("searchidx: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("searchidx: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Healthy reports whether the last health probe succeeded.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexTopic upserts one topic record.
func (m *Meili) IndexTopic(record TopicRecord) error {
	_, err := m.client.Index(idxTopics).AddDocuments([]TopicRecord{record}, nil)
	return err
}

// Search runs a full-text query scoped to a tenant.
func (m *Meili) Search(tenantID, query string, limit int64) ([]TopicRecord, error) {
	response, err := m.client.Index(idxTopics).Search(query, &meili.SearchRequest{
		Filter: []string{"tenantId = " + strconv.Quote(tenantID)},
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	records := make([]TopicRecord, 0, len(response.Hits))
	for _, hit := range response.Hits {
		record := TopicRecord{
			ID:       decodeString(hit, "id"),
			TenantID: decodeString(hit, "tenantId"),
			TopicID:  decodeInt(hit, "topicId"),
			ForumID:  decodeInt(hit, "forumId"),
			Title:    decodeString(hit, "title"),
			Text:     strings.TrimSpace(decodeString(hit, "text")),
		}
		if record.ID == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// DeleteTopic removes a topic record from the index.
func (m *Meili) DeleteTopic(id string) error {
	_, err := m.client.Index(idxTopics).DeleteDocument(id)
	return err
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}
