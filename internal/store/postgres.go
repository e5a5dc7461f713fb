package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmap/api/internal/util"
)

// ErrDefaultNode is returned when a delete targets a seeded default list.
var ErrDefaultNode = errors.New("default node cannot be deleted")

// DefaultListNames are the lists every account starts with. They are seeded
// once at first sign-in and never renamed or deleted afterwards.
var DefaultListNames = []string{"Inbox", "Today", "Upcoming"}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUserByEmail looks up a user by normalized email, creating the user
// together with its default lists in one transaction on first sign-in. The
// boolean reports whether the account was created by this call.
func (s *PostgresStore) EnsureUserByEmail(ctx context.Context, email string) (User, bool, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_at FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, false, fmt.Errorf("lookup user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, false, fmt.Errorf("begin signup tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user.ID = util.NewID("usr")
	user.Email = email
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		RETURNING created_at
	`, user.ID, user.Email).Scan(&user.CreatedAt); err != nil {
		return User{}, false, fmt.Errorf("insert user: %w", err)
	}

	for _, name := range DefaultListNames {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, owner_email, name, task_ids, is_default)
			VALUES ($1, $2, $3, '[]'::jsonb, TRUE)
		`, util.NewID("node"), email, name); err != nil {
			return User{}, false, fmt.Errorf("seed default node %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, false, fmt.Errorf("commit signup tx: %w", err)
	}
	return user, true, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context, owner string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_email, name, task_ids, is_default, created_at
		FROM nodes
		WHERE owner_email=$1
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	items := make([]Node, 0)
	for rows.Next() {
		item, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNode(ctx context.Context, owner, nodeID string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_email, name, task_ids, is_default, created_at
		FROM nodes
		WHERE id=$1 AND owner_email=$2
	`, nodeID, owner)
	return scanNode(row)
}

func (s *PostgresStore) InsertNode(ctx context.Context, node Node) (Node, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO nodes (id, owner_email, name, task_ids, is_default)
		VALUES ($1, $2, $3, '[]'::jsonb, $4)
		RETURNING created_at
	`, node.ID, node.Owner, node.Name, node.IsDefault).Scan(&node.CreatedAt)
	if err != nil {
		return Node{}, fmt.Errorf("insert node: %w", err)
	}
	node.TaskIDs = []string{}
	return node, nil
}

// UpdateNodeName renames a non-default node. Callers are expected to have
// checked IsDefault first; the is_default guard here is the backstop that
// keeps seeded list names immutable even under races.
func (s *PostgresStore) UpdateNodeName(ctx context.Context, owner, nodeID, name string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE nodes
		SET name=$3
		WHERE id=$1 AND owner_email=$2 AND is_default=FALSE
		RETURNING id, owner_email, name, task_ids, is_default, created_at
	`, nodeID, owner, name)
	return scanNode(row)
}

// DeleteNodeCascade removes a node and every task under it in a single
// transaction. It returns the ids of the deleted tasks so callers can clean
// up derived state such as search indexes.
func (s *PostgresStore) DeleteNodeCascade(ctx context.Context, owner, nodeID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete node tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var isDefault bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_default FROM nodes WHERE id=$1 AND owner_email=$2 FOR UPDATE
	`, nodeID, owner).Scan(&isDefault)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock node for delete: %w", err)
	}
	if isDefault {
		return nil, ErrDefaultNode
	}

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM tasks WHERE node_id=$1 AND owner_email=$2 RETURNING id
	`, nodeID, owner)
	if err != nil {
		return nil, fmt.Errorf("delete node tasks: %w", err)
	}
	taskIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted task id: %w", err)
		}
		taskIDs = append(taskIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate deleted task ids: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id=$1 AND owner_email=$2`, nodeID, owner); err != nil {
		return nil, fmt.Errorf("delete node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete node tx: %w", err)
	}
	return taskIDs, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, owner, nodeID string, filter TaskFilter) ([]Task, error) {
	query := `
		SELECT id, owner_email, node_id, name, completed, created_at
		FROM tasks
		WHERE owner_email=$1 AND node_id=$2
	`
	args := []any{owner, nodeID}
	if filter.Completed != nil {
		query += ` AND completed=$3`
		args = append(args, *filter.Completed)
	}
	query += ` ORDER BY ` + taskSortColumn(filter.SortBy) + ` ` + sortDirection(filter.Order) + `, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.Owner, &item.NodeID, &item.Name, &item.Completed, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, owner, taskID string) (Task, error) {
	var item Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_email, node_id, name, completed, created_at
		FROM tasks
		WHERE id=$1 AND owner_email=$2
	`, taskID, owner).Scan(&item.ID, &item.Owner, &item.NodeID, &item.Name, &item.Completed, &item.CreatedAt)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

// InsertTask writes the task and appends its id to the owning node's task_ids
// in one transaction. The node row is locked first, so a concurrent delete of
// the node cannot leave an orphan task behind.
func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin insert task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nodeExists bool
	err = tx.QueryRowContext(ctx, `
		SELECT TRUE FROM nodes WHERE id=$1 AND owner_email=$2 FOR UPDATE
	`, task.NodeID, task.Owner).Scan(&nodeExists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, sql.ErrNoRows
		}
		return Task{}, fmt.Errorf("lock node for insert: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO tasks (id, owner_email, node_id, name, completed)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`, task.ID, task.Owner, task.NodeID, task.Name).Scan(&task.CreatedAt); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE nodes
		SET task_ids = task_ids || to_jsonb($3::text)
		WHERE id=$1 AND owner_email=$2
	`, task.NodeID, task.Owner, task.ID); err != nil {
		return Task{}, fmt.Errorf("append task to node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit insert task tx: %w", err)
	}
	task.Completed = false
	return task, nil
}

// UpdateTask applies a partial update; nil fields are left untouched.
func (s *PostgresStore) UpdateTask(ctx context.Context, owner, taskID string, name *string, completed *bool) (Task, error) {
	var item Task
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET name = COALESCE($3::text, name),
			completed = COALESCE($4::boolean, completed)
		WHERE id=$1 AND owner_email=$2
		RETURNING id, owner_email, node_id, name, completed, created_at
	`, taskID, owner, name, completed).Scan(&item.ID, &item.Owner, &item.NodeID, &item.Name, &item.Completed, &item.CreatedAt)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

// DeleteTask pulls the task id out of the owning node's task_ids and deletes
// the task row in one transaction.
func (s *PostgresStore) DeleteTask(ctx context.Context, owner, taskID string) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin delete task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var item Task
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_email, node_id, name, completed, created_at
		FROM tasks
		WHERE id=$1 AND owner_email=$2
		FOR UPDATE
	`, taskID, owner).Scan(&item.ID, &item.Owner, &item.NodeID, &item.Name, &item.Completed, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, sql.ErrNoRows
		}
		return Task{}, fmt.Errorf("lock task for delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE nodes
		SET task_ids = (
			SELECT COALESCE(jsonb_agg(el), '[]'::jsonb)
			FROM jsonb_array_elements_text(nodes.task_ids) el
			WHERE el <> $3
		)
		WHERE id=$1 AND owner_email=$2
	`, item.NodeID, owner, taskID); err != nil {
		return Task{}, fmt.Errorf("pull task from node: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND owner_email=$2`, taskID, owner); err != nil {
		return Task{}, fmt.Errorf("delete task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit delete task tx: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID, email string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, email, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, email=EXCLUDED.email, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, email, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (Node, error) {
	var item Node
	var rawTaskIDs []byte
	err := row.Scan(&item.ID, &item.Owner, &item.Name, &rawTaskIDs, &item.IsDefault, &item.CreatedAt)
	if err != nil {
		return Node{}, err
	}
	if err := json.Unmarshal(rawTaskIDs, &item.TaskIDs); err != nil {
		return Node{}, fmt.Errorf("unmarshal task ids: %w", err)
	}
	if item.TaskIDs == nil {
		item.TaskIDs = []string{}
	}
	return item, nil
}

func taskSortColumn(sortBy string) string {
	switch sortBy {
	case "taskName":
		return "name"
	case "completed":
		return "completed"
	default:
		return "created_at"
	}
}

func sortDirection(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}
