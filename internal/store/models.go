package store

import "time"

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Node is a named task list. TaskIDs mirrors the ids of the Task rows whose
// NodeID points back here; the two sides are kept consistent transactionally.
type Node struct {
	ID        string
	Owner     string
	Name      string
	TaskIDs   []string
	IsDefault bool
	CreatedAt time.Time
}

type Task struct {
	ID        string
	Owner     string
	NodeID    string
	Name      string
	Completed bool
	CreatedAt time.Time
}

// TaskFilter narrows and orders a task listing. A nil Completed means both
// completed and pending tasks.
type TaskFilter struct {
	Completed *bool
	SortBy    string
	Order     string
}
