package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"taskmap/api/internal/auth"
	"taskmap/api/internal/config"
	"taskmap/api/internal/search"
	"taskmap/api/internal/store"
	"taskmap/api/internal/util"
	"taskmap/api/internal/validate"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	IsNewUser    bool
	JTI          string
	ExpiresAt    time.Time
}

type CreateNodeInput struct {
	ListName string `json:"listName"`
}

type RenameNodeInput struct {
	ListName string `json:"listName"`
}

type CreateTaskInput struct {
	NodeID   string `json:"nodeId"`
	TaskName string `json:"taskName"`
}

type UpdateTaskInput struct {
	TaskName  *string `json:"taskName"`
	Completed *bool   `json:"completed"`
}

type dataStore interface {
	EnsureUserByEmail(context.Context, string) (store.User, bool, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListNodes(context.Context, string) ([]store.Node, error)
	GetNode(context.Context, string, string) (store.Node, error)
	InsertNode(context.Context, store.Node) (store.Node, error)
	UpdateNodeName(context.Context, string, string, string) (store.Node, error)
	DeleteNodeCascade(context.Context, string, string) ([]string, error)
	ListTasks(context.Context, string, string, store.TaskFilter) ([]store.Task, error)
	GetTask(context.Context, string, string) (store.Task, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, string, string, *string, *bool) (store.Task, error)
	DeleteTask(context.Context, string, string) (store.Task, error)
	SaveRefreshSession(context.Context, string, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Redis serves this in production;
// the Postgres store stands in when no Redis is configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, email string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexList(l search.ListRecord)
	IndexTask(t search.TaskRecord)
	DeleteList(id string)
	DeleteTask(id string)
	DeleteTasks(ids []string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchService
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		search:   searchSvc,
	}
}

// NewWithSessionStore builds a service whose refresh sessions live in a
// dedicated store (Redis) instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
	}
}

// Login resolves the OAuth-verified email to a local account, creating it
// and seeding the default lists on first sign-in, then issues a session.
func (s *Service) Login(ctx context.Context, email string) (Session, error) {
	normalized, err := validate.Email(email)
	if err != nil {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}

	user, created, err := s.store.EnsureUserByEmail(ctx, normalized)
	if err != nil {
		return Session{}, err
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	session.IsNewUser = created
	return session, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.Email, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ListNodes(ctx context.Context, owner string) ([]map[string]any, error) {
	nodes, err := s.store.ListNodes(ctx, owner)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, nodePayload(node))
	}
	return items, nil
}

func (s *Service) GetNode(ctx context.Context, owner, nodeID string) (map[string]any, error) {
	node, err := s.store.GetNode(ctx, owner, nodeID)
	if err != nil {
		return nil, nodeStoreError(err)
	}
	return nodePayload(node), nil
}

func (s *Service) CreateNode(ctx context.Context, owner string, input CreateNodeInput) (map[string]any, error) {
	name, err := validate.Text(input.ListName, "List name", validate.MaxListNameLength)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}

	node, err := s.store.InsertNode(ctx, store.Node{
		ID:    util.NewID("node"),
		Owner: owner,
		Name:  name,
	})
	if err != nil {
		return nil, err
	}

	s.search.IndexList(listRecord(node))
	return nodePayload(node), nil
}

// RenameNode updates a list's name. Renaming a default list is silently
// ignored; the unchanged list is returned.
func (s *Service) RenameNode(ctx context.Context, owner, nodeID string, input RenameNodeInput) (map[string]any, error) {
	name, err := validate.Text(input.ListName, "List name", validate.MaxListNameLength)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}

	node, err := s.store.GetNode(ctx, owner, nodeID)
	if err != nil {
		return nil, nodeStoreError(err)
	}
	if node.IsDefault {
		return nodePayload(node), nil
	}

	updated, err := s.store.UpdateNodeName(ctx, owner, nodeID, name)
	if err != nil {
		return nil, nodeStoreError(err)
	}

	s.search.IndexList(listRecord(updated))
	return nodePayload(updated), nil
}

// DeleteNode removes a list and every task in it in one transaction.
// Default lists cannot be deleted.
func (s *Service) DeleteNode(ctx context.Context, owner, nodeID string) error {
	taskIDs, err := s.store.DeleteNodeCascade(ctx, owner, nodeID)
	if err != nil {
		if errors.Is(err, store.ErrDefaultNode) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Cannot delete default node", nil)
		}
		return nodeStoreError(err)
	}

	s.search.DeleteList(nodeID)
	s.search.DeleteTasks(taskIDs)
	return nil
}

func (s *Service) ListTasks(ctx context.Context, owner, nodeID string, filter store.TaskFilter) ([]map[string]any, error) {
	if _, err := s.store.GetNode(ctx, owner, nodeID); err != nil {
		return nil, nodeStoreError(err)
	}
	tasks, err := s.store.ListTasks(ctx, owner, nodeID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task))
	}
	return items, nil
}

// CreateTask inserts a task and appends its ID to the parent list in one
// transaction, so the list's task set and the task rows never diverge.
func (s *Service) CreateTask(ctx context.Context, owner string, input CreateTaskInput) (map[string]any, error) {
	name, err := validate.Text(input.TaskName, "Task name", validate.MaxTaskNameLength)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	nodeID := strings.TrimSpace(input.NodeID)
	if nodeID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Node ID is required", nil)
	}

	task, err := s.store.InsertTask(ctx, store.Task{
		ID:     util.NewID("task"),
		Owner:  owner,
		NodeID: nodeID,
		Name:   name,
	})
	if err != nil {
		return nil, nodeStoreError(err)
	}

	s.search.IndexTask(taskRecord(task))
	return taskPayload(task), nil
}

func (s *Service) UpdateTask(ctx context.Context, owner, taskID string, input UpdateTaskInput) (map[string]any, error) {
	if input.TaskName == nil && input.Completed == nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No valid fields to update", nil)
	}
	var name *string
	if input.TaskName != nil {
		validated, err := validate.Text(*input.TaskName, "Task name", validate.MaxTaskNameLength)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		}
		name = &validated
	}

	task, err := s.store.UpdateTask(ctx, owner, taskID, name, input.Completed)
	if err != nil {
		return nil, taskStoreError(err)
	}

	s.search.IndexTask(taskRecord(task))
	return taskPayload(task), nil
}

// DeleteTask removes a task and pulls its ID out of the parent list in
// one transaction.
func (s *Service) DeleteTask(ctx context.Context, owner, taskID string) error {
	if _, err := s.store.DeleteTask(ctx, owner, taskID); err != nil {
		return taskStoreError(err)
	}
	s.search.DeleteTask(taskID)
	return nil
}

func (s *Service) Search(owner, text, filterType string, limit, offset int) (search.Response, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return search.Response{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Search query is required", nil)
	}
	rtyp := search.ResultType(strings.ToLower(strings.TrimSpace(filterType)))
	switch rtyp {
	case "", search.ResultList, search.ResultTask:
	default:
		return search.Response{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "type must be 'list' or 'task'", nil)
	}
	return s.search.Search(search.Query{
		Text:       query,
		Owner:      owner,
		FilterType: rtyp,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func nodeStoreError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Node not found or not owned by user", nil)
	}
	return err
}

func taskStoreError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Task not found or not owned by user", nil)
	}
	return err
}

func nodePayload(node store.Node) map[string]any {
	tasks := node.TaskIDs
	if tasks == nil {
		tasks = []string{}
	}
	return map[string]any{
		"id":        node.ID,
		"listName":  node.Name,
		"tasks":     tasks,
		"isDefault": node.IsDefault,
		"createdAt": node.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func taskPayload(task store.Task) map[string]any {
	return map[string]any{
		"id":        task.ID,
		"nodeId":    task.NodeID,
		"taskName":  task.Name,
		"completed": task.Completed,
		"createdAt": task.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func listRecord(node store.Node) search.ListRecord {
	return search.ListRecord{
		ID:        node.ID,
		Name:      node.Name,
		Owner:     node.Owner,
		IsDefault: node.IsDefault,
	}
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:        task.ID,
		Name:      task.Name,
		Owner:     task.Owner,
		NodeID:    task.NodeID,
		Completed: task.Completed,
	}
}
