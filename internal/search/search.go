// Package search mirrors the workspace's visible tasks into an Elasticsearch index and runs
// free-text queries over them.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/pipeline"
	"github.com/olivere/elastic/v7"
)

const mapping = `{
	"settings": {"number_of_shards": 1, "number_of_replicas": 0},
	"mappings": {
		"properties": {
			"title":       {"type": "text"},
			"description": {"type": "text"},
			"comments":    {"type": "text"},
			"tags":        {"type": "keyword"},
			"status":      {"type": "keyword"},
			"priority":    {"type": "keyword"},
			"group_id":    {"type": "keyword"},
			"assigned_to": {"type": "keyword"},
			"completed":   {"type": "boolean"},
			"due_date":    {"type": "date"},
			"updated_at":  {"type": "date"}
		}
	}
}`

// DefaultLimit caps a search when the caller passes no limit.
const DefaultLimit = 20

type document struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Comments    []string   `json:"comments,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	GroupID     string     `json:"group_id,omitempty"`
	AssignedTo  string     `json:"assigned_to"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toDocument(t *domain.Task) document {
	d := document{
		Title:       t.Title,
		Description: t.Description,
		Tags:        t.Tags,
		Status:      string(t.Status),
		Priority:    t.Priority.String(),
		GroupID:     t.GroupID,
		AssignedTo:  t.AssignedTo,
		Completed:   t.IsCompleted,
		DueDate:     t.DueDate,
		UpdatedAt:   t.UpdatedAt,
	}
	for _, c := range t.Comments {
		d.Comments = append(d.Comments, c.Content)
	}
	return d
}

// Hit is one search match.
type Hit struct {
	TaskID string  `json:"task_id"`
	Score  float64 `json:"score"`
	Title  string  `json:"title"`
}

// Indexer writes task documents into one index.
type Indexer struct {
	client *elastic.Client
	index  string

	mu sync.Mutex
	// indexed is the UpdatedAt of every document last written, by task id.
	indexed map[string]time.Time
}

// NewClient connects without sniffing, which suits single-node and proxied clusters.
func NewClient(url string, httpClient *http.Client) (*elastic.Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if httpClient != nil {
		opts = append(opts, elastic.SetHttpClient(httpClient))
	}
	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return client, nil
}

// NewIndexer returns an Indexer on index.
func NewIndexer(client *elastic.Client, index string) *Indexer {
	return &Indexer{client: client, index: index, indexed: make(map[string]time.Time)}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := ix.client.IndexExists(ix.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("check index %s: %w", ix.index, err)
	}
	if exists {
		return nil
	}
	if _, err := ix.client.CreateIndex(ix.index).BodyString(mapping).Do(ctx); err != nil {
		return fmt.Errorf("create index %s: %w", ix.index, err)
	}
	logger.InfoLog(ctx, fmt.Sprintf("created search index %s", ix.index))
	return nil
}

// Sync makes the index mirror tasks: changed tasks are written, tasks no longer present are
// removed. Unchanged tasks are skipped.
func (ix *Indexer) Sync(ctx context.Context, tasks []domain.Task) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	bulk := ix.client.Bulk().Index(ix.index)
	seen := make(map[string]bool, len(tasks))
	next := make(map[string]time.Time, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		seen[t.ID] = true
		next[t.ID] = t.UpdatedAt
		if at, ok := ix.indexed[t.ID]; ok && at.Equal(t.UpdatedAt) {
			continue
		}
		bulk.Add(elastic.NewBulkIndexRequest().Id(t.ID).Doc(toDocument(t)))
	}
	for id := range ix.indexed {
		if !seen[id] {
			bulk.Add(elastic.NewBulkDeleteRequest().Id(id))
		}
	}
	if bulk.NumberOfActions() == 0 {
		return nil
	}

	res, err := bulk.Do(ctx)
	if err != nil {
		return fmt.Errorf("sync search index: %w", err)
	}
	for _, item := range res.Failed() {
		if item.Status == http.StatusNotFound {
			continue
		}
		// keep the old entry so the next sync retries this document
		if at, ok := ix.indexed[item.Id]; ok {
			next[item.Id] = at
		} else {
			delete(next, item.Id)
		}
		logger.WarnLog(ctx, fmt.Sprintf("index task %s: status %d", item.Id, item.Status))
	}
	ix.indexed = next
	return nil
}

// Search runs text over title, description, comments and tags, restricted to the ids in
// visible. Hits come back best match first.
func (ix *Indexer) Search(ctx context.Context, text string, visible []string, limit int) ([]Hit, error) {
	if len(visible) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := elastic.NewBoolQuery().
		Must(elastic.NewMultiMatchQuery(text, "title^3", "description", "comments", "tags^2").Fuzziness("AUTO")).
		Filter(elastic.NewIdsQuery().Ids(visible...))

	res, err := ix.client.Search().
		Index(ix.index).
		Query(query).
		Size(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		var doc document
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			return nil, fmt.Errorf("decode hit %s: %w", h.Id, err)
		}
		hit := Hit{TaskID: h.Id, Title: doc.Title}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// TaskSource is the part of the workspace the mirror reads.
type TaskSource interface {
	Tasks() []domain.Task
}

// Mirror keeps the index in step with a task source on its own worker, so a slow cluster
// never holds up the caller. Signals that arrive while a sync is already queued fold into it.
type Mirror struct {
	ix     *Indexer
	source TaskSource
	block  *pipeline.ActionBlock
}

// NewMirror starts a Mirror reading from source.
func (ix *Indexer) NewMirror(ctx context.Context, source TaskSource) *Mirror {
	m := &Mirror{ix: ix, source: source}
	m.block = pipeline.NewActionBlock(func(interface{}) error {
		return ix.Sync(ctx, source.Tasks())
	},
		pipeline.WithBufferSize(1),
		pipeline.WithErrorHandler(func(_ interface{}, err error) {
			logger.ErrorLog(ctx, err.Error())
		}),
	)
	return m
}

// TasksChanged is the workspace change hook. It never blocks.
func (m *Mirror) TasksChanged(changed bool) {
	if !changed {
		return
	}
	// a full buffer means a sync is queued and will read the latest tasks
	m.block.Post(struct{}{})
}

// Close drains the queued sync and stops the worker.
func (m *Mirror) Close() {
	m.block.Complete()
	_ = m.block.Wait()
}
