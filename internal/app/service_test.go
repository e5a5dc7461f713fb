package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskmap/api/internal/config"
	"taskmap/api/internal/search"
	"taskmap/api/internal/store"
)

type fakeStore struct {
	ensureUserByEmailFn func(context.Context, string) (store.User, bool, error)
	getUserByIDFn       func(context.Context, string) (store.User, error)
	listNodesFn         func(context.Context, string) ([]store.Node, error)
	getNodeFn           func(context.Context, string, string) (store.Node, error)
	insertNodeFn        func(context.Context, store.Node) (store.Node, error)
	updateNodeNameFn    func(context.Context, string, string, string) (store.Node, error)
	deleteNodeCascadeFn func(context.Context, string, string) ([]string, error)
	listTasksFn         func(context.Context, string, string, store.TaskFilter) ([]store.Task, error)
	getTaskFn           func(context.Context, string, string) (store.Task, error)
	insertTaskFn        func(context.Context, store.Task) (store.Task, error)
	updateTaskFn        func(context.Context, string, string, *string, *bool) (store.Task, error)
	deleteTaskFn        func(context.Context, string, string) (store.Task, error)
	lookupRefreshFn     func(context.Context, string) (store.User, error)
	pingFn              func(context.Context) error
}

func (f *fakeStore) EnsureUserByEmail(ctx context.Context, email string) (store.User, bool, error) {
	if f.ensureUserByEmailFn != nil {
		return f.ensureUserByEmailFn(ctx, email)
	}
	return store.User{ID: "usr_1", Email: email}, false, nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Email: "avery@example.com"}, nil
}
func (f *fakeStore) ListNodes(ctx context.Context, owner string) ([]store.Node, error) {
	if f.listNodesFn != nil {
		return f.listNodesFn(ctx, owner)
	}
	return nil, nil
}
func (f *fakeStore) GetNode(ctx context.Context, owner, nodeID string) (store.Node, error) {
	if f.getNodeFn != nil {
		return f.getNodeFn(ctx, owner, nodeID)
	}
	return store.Node{}, sql.ErrNoRows
}
func (f *fakeStore) InsertNode(ctx context.Context, node store.Node) (store.Node, error) {
	if f.insertNodeFn != nil {
		return f.insertNodeFn(ctx, node)
	}
	node.CreatedAt = time.Now()
	node.TaskIDs = []string{}
	return node, nil
}
func (f *fakeStore) UpdateNodeName(ctx context.Context, owner, nodeID, name string) (store.Node, error) {
	if f.updateNodeNameFn != nil {
		return f.updateNodeNameFn(ctx, owner, nodeID, name)
	}
	return store.Node{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteNodeCascade(ctx context.Context, owner, nodeID string) ([]string, error) {
	if f.deleteNodeCascadeFn != nil {
		return f.deleteNodeCascadeFn(ctx, owner, nodeID)
	}
	return nil, sql.ErrNoRows
}
func (f *fakeStore) ListTasks(ctx context.Context, owner, nodeID string, filter store.TaskFilter) ([]store.Task, error) {
	if f.listTasksFn != nil {
		return f.listTasksFn(ctx, owner, nodeID, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetTask(ctx context.Context, owner, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, owner, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) (store.Task, error) {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	task.CreatedAt = time.Now()
	return task, nil
}
func (f *fakeStore) UpdateTask(ctx context.Context, owner, taskID string, name *string, completed *bool) (store.Task, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, owner, taskID, name, completed)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteTask(ctx context.Context, owner, taskID string) (store.Task, error) {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, owner, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSearch struct {
	indexedLists []search.ListRecord
	indexedTasks []search.TaskRecord
	deletedLists []string
	deletedTasks []string
	searchFn     func(search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexList(l search.ListRecord) { f.indexedLists = append(f.indexedLists, l) }
func (f *fakeSearch) IndexTask(t search.TaskRecord) { f.indexedTasks = append(f.indexedTasks, t) }
func (f *fakeSearch) DeleteList(id string)          { f.deletedLists = append(f.deletedLists, id) }
func (f *fakeSearch) DeleteTask(id string)          { f.deletedTasks = append(f.deletedTasks, id) }
func (f *fakeSearch) DeleteTasks(ids []string)      { f.deletedTasks = append(f.deletedTasks, ids...) }

func newTestService(fs *fakeStore, sr *fakeSearch) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Hour,
			RefreshTTL:  24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		search:   sr,
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	var ensured string
	fs := &fakeStore{
		ensureUserByEmailFn: func(_ context.Context, email string) (store.User, bool, error) {
			ensured = email
			return store.User{ID: "usr_1", Email: email}, true, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	session, err := svc.Login(context.Background(), "  Avery@Example.COM  ")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if ensured != "avery@example.com" {
		t.Fatalf("expected lowercased trimmed email, got %q", ensured)
	}
	if !session.IsNewUser {
		t.Fatalf("expected IsNewUser for first sign-in")
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued")
	}
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	ensureCalls := 0
	fs := &fakeStore{
		ensureUserByEmailFn: func(context.Context, string) (store.User, bool, error) {
			ensureCalls++
			return store.User{}, false, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	_, err := svc.Login(context.Background(), "not-an-email")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
	if ensureCalls != 0 {
		t.Fatalf("expected no user creation on invalid email")
	}
}

func TestCreateNodeRejectsBlankName(t *testing.T) {
	insertCalls := 0
	fs := &fakeStore{
		insertNodeFn: func(_ context.Context, node store.Node) (store.Node, error) {
			insertCalls++
			return node, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	_, err := svc.CreateNode(context.Background(), "avery@example.com", CreateNodeInput{ListName: "   "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "List name is required" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
	if insertCalls != 0 {
		t.Fatalf("expected nothing persisted on validation failure")
	}
}

func TestCreateNodeRejectsOversizeName(t *testing.T) {
	long := make([]byte, 61)
	for i := range long {
		long[i] = 'x'
	}
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.CreateNode(context.Background(), "avery@example.com", CreateNodeInput{ListName: string(long)})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "List name cannot exceed 60 characters" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestCreateNodeTrimsAndIndexes(t *testing.T) {
	fs := &fakeStore{
		insertNodeFn: func(_ context.Context, node store.Node) (store.Node, error) {
			if node.Name != "Groceries" {
				t.Fatalf("expected trimmed name, got %q", node.Name)
			}
			if node.Owner != "avery@example.com" {
				t.Fatalf("expected owner on inserted node, got %q", node.Owner)
			}
			node.CreatedAt = time.Now()
			node.TaskIDs = []string{}
			return node, nil
		},
	}
	sr := &fakeSearch{}
	svc := newTestService(fs, sr)

	payload, err := svc.CreateNode(context.Background(), "avery@example.com", CreateNodeInput{ListName: "  Groceries  "})
	if err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if payload["listName"] != "Groceries" {
		t.Fatalf("expected listName Groceries, got %v", payload["listName"])
	}
	if payload["isDefault"] != false {
		t.Fatalf("expected isDefault false, got %v", payload["isDefault"])
	}
	if len(sr.indexedLists) != 1 || sr.indexedLists[0].Name != "Groceries" {
		t.Fatalf("expected one indexed list, got %+v", sr.indexedLists)
	}
}

func TestRenameDefaultNodeIsSilentNoOp(t *testing.T) {
	updateCalls := 0
	fs := &fakeStore{
		getNodeFn: func(_ context.Context, owner, nodeID string) (store.Node, error) {
			return store.Node{ID: nodeID, Owner: owner, Name: "Inbox", IsDefault: true, TaskIDs: []string{}}, nil
		},
		updateNodeNameFn: func(context.Context, string, string, string) (store.Node, error) {
			updateCalls++
			return store.Node{}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	payload, err := svc.RenameNode(context.Background(), "avery@example.com", "node_1", RenameNodeInput{ListName: "Junk"})
	if err != nil {
		t.Fatalf("RenameNode() error = %v", err)
	}
	if payload["listName"] != "Inbox" {
		t.Fatalf("expected default name preserved, got %v", payload["listName"])
	}
	if updateCalls != 0 {
		t.Fatalf("expected no update for default list, got %d calls", updateCalls)
	}
}

func TestRenameNodeNotOwnedReturnsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.RenameNode(context.Background(), "intruder@example.com", "node_1", RenameNodeInput{ListName: "Mine now"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", domainErr.Code)
	}
	if domainErr.Message != "Node not found or not owned by user" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestDeleteDefaultNodeForbidden(t *testing.T) {
	fs := &fakeStore{
		deleteNodeCascadeFn: func(context.Context, string, string) ([]string, error) {
			return nil, store.ErrDefaultNode
		},
	}
	sr := &fakeSearch{}
	svc := newTestService(fs, sr)

	err := svc.DeleteNode(context.Background(), "avery@example.com", "node_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
	if domainErr.Message != "Cannot delete default node" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
	if len(sr.deletedLists) != 0 {
		t.Fatalf("expected no de-indexing when delete is refused")
	}
}

func TestDeleteNodeRemovesCascadedTasksFromIndex(t *testing.T) {
	fs := &fakeStore{
		deleteNodeCascadeFn: func(_ context.Context, owner, nodeID string) ([]string, error) {
			if owner != "avery@example.com" {
				t.Fatalf("expected owner scoping, got %q", owner)
			}
			return []string{"task_1", "task_2"}, nil
		},
	}
	sr := &fakeSearch{}
	svc := newTestService(fs, sr)

	if err := svc.DeleteNode(context.Background(), "avery@example.com", "node_1"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if len(sr.deletedLists) != 1 || sr.deletedLists[0] != "node_1" {
		t.Fatalf("expected list de-indexed, got %v", sr.deletedLists)
	}
	if len(sr.deletedTasks) != 2 {
		t.Fatalf("expected both cascaded tasks de-indexed, got %v", sr.deletedTasks)
	}
}

func TestCreateTaskRequiresNodeID(t *testing.T) {
	insertCalls := 0
	fs := &fakeStore{
		insertTaskFn: func(_ context.Context, task store.Task) (store.Task, error) {
			insertCalls++
			return task, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	_, err := svc.CreateTask(context.Background(), "avery@example.com", CreateTaskInput{TaskName: "Buy milk"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "Node ID is required" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
	if insertCalls != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestCreateTaskRejectsOversizeName(t *testing.T) {
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.CreateTask(context.Background(), "avery@example.com", CreateTaskInput{
		NodeID:   "node_1",
		TaskName: string(long),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "Task name cannot exceed 100 characters" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestCreateTaskMissingNodeReturnsNotFound(t *testing.T) {
	fs := &fakeStore{
		insertTaskFn: func(context.Context, store.Task) (store.Task, error) {
			return store.Task{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	_, err := svc.CreateTask(context.Background(), "avery@example.com", CreateTaskInput{
		NodeID:   "node_missing",
		TaskName: "Buy milk",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "Node not found or not owned by user" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestCreateTaskIndexesResult(t *testing.T) {
	fs := &fakeStore{
		insertTaskFn: func(_ context.Context, task store.Task) (store.Task, error) {
			task.CreatedAt = time.Now()
			return task, nil
		},
	}
	sr := &fakeSearch{}
	svc := newTestService(fs, sr)

	payload, err := svc.CreateTask(context.Background(), "avery@example.com", CreateTaskInput{
		NodeID:   "node_1",
		TaskName: "  Buy milk  ",
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if payload["taskName"] != "Buy milk" {
		t.Fatalf("expected trimmed taskName, got %v", payload["taskName"])
	}
	if payload["completed"] != false {
		t.Fatalf("expected new task incomplete, got %v", payload["completed"])
	}
	if len(sr.indexedTasks) != 1 || sr.indexedTasks[0].NodeID != "node_1" {
		t.Fatalf("expected task indexed with node, got %+v", sr.indexedTasks)
	}
}

func TestUpdateTaskPassesPartialFields(t *testing.T) {
	completed := true
	fs := &fakeStore{
		updateTaskFn: func(_ context.Context, owner, taskID string, name *string, done *bool) (store.Task, error) {
			if name != nil {
				t.Fatalf("expected nil name when only completed changes")
			}
			if done == nil || !*done {
				t.Fatalf("expected completed=true to pass through")
			}
			return store.Task{ID: taskID, Owner: owner, NodeID: "node_1", Name: "Buy milk", Completed: *done, CreatedAt: time.Now()}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	payload, err := svc.UpdateTask(context.Background(), "avery@example.com", "task_1", UpdateTaskInput{Completed: &completed})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if payload["completed"] != true {
		t.Fatalf("expected completed true, got %v", payload["completed"])
	}
}

func TestUpdateTaskValidatesName(t *testing.T) {
	blank := "   "
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.UpdateTask(context.Background(), "avery@example.com", "task_1", UpdateTaskInput{TaskName: &blank})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "Task name is required" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestUpdateTaskNotOwnedReturnsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	completed := true
	_, err := svc.UpdateTask(context.Background(), "intruder@example.com", "task_1", UpdateTaskInput{Completed: &completed})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Message != "Task not found or not owned by user" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestUpdateTaskRejectsEmptyUpdate(t *testing.T) {
	fs := &fakeStore{
		updateTaskFn: func(_ context.Context, owner, taskID string, name *string, done *bool) (store.Task, error) {
			t.Fatalf("store must not be reached for an empty update")
			return store.Task{}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	_, err := svc.UpdateTask(context.Background(), "avery@example.com", "task_1", UpdateTaskInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" || domainErr.Message != "No valid fields to update" {
		t.Fatalf("unexpected error: %q %q", domainErr.Code, domainErr.Message)
	}
}

func TestUpdateTaskRepeatedCompletionIsIdempotent(t *testing.T) {
	fs := &fakeStore{
		updateTaskFn: func(_ context.Context, owner, taskID string, name *string, done *bool) (store.Task, error) {
			return store.Task{ID: taskID, Owner: owner, NodeID: "node_1", Name: "Buy milk", Completed: *done}, nil
		},
	}
	svc := newTestService(fs, &fakeSearch{})

	completed := true
	input := UpdateTaskInput{Completed: &completed}
	first, err := svc.UpdateTask(context.Background(), "avery@example.com", "task_1", input)
	if err != nil {
		t.Fatalf("first UpdateTask() error = %v", err)
	}
	second, err := svc.UpdateTask(context.Background(), "avery@example.com", "task_1", input)
	if err != nil {
		t.Fatalf("second UpdateTask() error = %v", err)
	}
	if first["completed"] != true || second["completed"] != true {
		t.Fatalf("expected completed true both times, got %v then %v", first["completed"], second["completed"])
	}
}

func TestDeleteTaskRemovesFromIndex(t *testing.T) {
	fs := &fakeStore{
		deleteTaskFn: func(_ context.Context, owner, taskID string) (store.Task, error) {
			return store.Task{ID: taskID, Owner: owner, NodeID: "node_1", Name: "Buy milk"}, nil
		},
	}
	sr := &fakeSearch{}
	svc := newTestService(fs, sr)

	if err := svc.DeleteTask(context.Background(), "avery@example.com", "task_1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if len(sr.deletedTasks) != 1 || sr.deletedTasks[0] != "task_1" {
		t.Fatalf("expected task de-indexed, got %v", sr.deletedTasks)
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.Search("avery@example.com", "   ", "", 20, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestSearchScopesQueryToOwner(t *testing.T) {
	sr := &fakeSearch{
		searchFn: func(q search.Query) search.Response {
			if q.Owner != "avery@example.com" {
				t.Fatalf("expected owner filter on search query, got %q", q.Owner)
			}
			if q.FilterType != search.ResultTask {
				t.Fatalf("expected task filter, got %q", q.FilterType)
			}
			return search.Response{Results: []search.Result{}, Query: q.Text}
		},
	}
	svc := newTestService(&fakeStore{}, sr)

	if _, err := svc.Search("avery@example.com", "milk", "task", 20, 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
}

func TestSearchRejectsUnknownType(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSearch{})

	_, err := svc.Search("avery@example.com", "milk", "document", 20, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}
