package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultList ResultType = "list"
	ResultTask ResultType = "task"
)

// Result is a single search hit returned to the caller. Hits are always
// scoped to the querying owner; no result ever crosses accounts.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Snippet   string     `json:"snippet"`
	NodeID    string     `json:"nodeId,omitempty"`
	Completed bool       `json:"completed,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	Owner      string
	FilterType ResultType // empty = lists and tasks
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexList(l ListRecord) error
	IndexTask(t TaskRecord) error
	DeleteList(id string) error
	DeleteTask(id string) error
}

// ListRecord is the data we index for a list.
type ListRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	IsDefault bool   `json:"isDefault"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	NodeID    string `json:"nodeId"`
	Completed bool   `json:"completed"`
}
