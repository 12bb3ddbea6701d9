package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema mirrors GetMigrations with SQLite types
const sqliteSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'private',
		is_archived BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE boards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL REFERENCES workspaces(id),
		name TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'workspace',
		member_manage_policy TEXT NOT NULL DEFAULT 'admins_only',
		is_closed BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE lists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id INTEGER NOT NULL REFERENCES boards(id),
		name TEXT NOT NULL
	);

	CREATE TABLE cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_id INTEGER NOT NULL REFERENCES lists(id),
		title TEXT NOT NULL
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		description TEXT,
		scope TEXT NOT NULL
	);

	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE role_permissions (
		role_id INTEGER NOT NULL,
		permission_id INTEGER NOT NULL,
		PRIMARY KEY (role_id, permission_id)
	);

	CREATE TABLE workspace_memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		workspace_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		UNIQUE(user_id, workspace_id)
	);

	CREATE TABLE board_memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		board_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		UNIQUE(user_id, board_id)
	);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(sqliteSchema); err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}
	if err := SeedCatalog(context.Background(), db); err != nil {
		t.Fatalf("Failed to seed catalog: %v", err)
	}
	return db
}

// fixture builds workspaces, boards and memberships for resolver tests
type fixture struct {
	t     *testing.T
	db    *sql.DB
	store *SQLStore
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	return &fixture{t: t, db: db, store: NewSQLStore(db)}
}

func (f *fixture) insert(query string, args ...interface{}) int64 {
	f.t.Helper()
	result, err := f.db.Exec(query, args...)
	if err != nil {
		f.t.Fatalf("insert failed: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		f.t.Fatalf("LastInsertId failed: %v", err)
	}
	return id
}

func (f *fixture) exec(query string, args ...interface{}) {
	f.t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		f.t.Fatalf("exec failed: %v", err)
	}
}

func (f *fixture) user(name string) int64 {
	return f.insert(`INSERT INTO users (username, email) VALUES ($1, $2)`, name, name+"@example.com")
}

func (f *fixture) workspace(visibility Visibility) int64 {
	return f.insert(`INSERT INTO workspaces (name, visibility) VALUES ($1, $2)`, "ws", string(visibility))
}

func (f *fixture) board(workspaceID int64, visibility Visibility) int64 {
	return f.insert(`INSERT INTO boards (workspace_id, name, visibility) VALUES ($1, $2, $3)`,
		workspaceID, "board", string(visibility))
}

func (f *fixture) list(boardID int64) int64 {
	return f.insert(`INSERT INTO lists (board_id, name) VALUES ($1, $2)`, boardID, "todo")
}

func (f *fixture) card(listID int64) int64 {
	return f.insert(`INSERT INTO cards (list_id, title) VALUES ($1, $2)`, listID, "card")
}

func (f *fixture) joinWorkspace(userID, workspaceID int64, role Role) {
	f.exec(`
		INSERT INTO workspace_memberships (user_id, workspace_id, role_id)
		SELECT $1, $2, id FROM roles WHERE name = $3
	`, userID, workspaceID, string(role))
}

func (f *fixture) joinBoard(userID, boardID int64, role Role) {
	f.exec(`
		INSERT INTO board_memberships (user_id, board_id, role_id)
		SELECT $1, $2, id FROM roles WHERE name = $3
	`, userID, boardID, string(role))
}

func (f *fixture) leaveBoard(userID, boardID int64) {
	f.exec(`DELETE FROM board_memberships WHERE user_id = $1 AND board_id = $2`, userID, boardID)
}

func (f *fixture) leaveWorkspace(userID, workspaceID int64) {
	f.exec(`DELETE FROM workspace_memberships WHERE user_id = $1 AND workspace_id = $2`, userID, workspaceID)
}

func (f *fixture) setBoard(boardID int64, column string, value interface{}) {
	f.exec(`UPDATE boards SET `+column+` = $1 WHERE id = $2`, value, boardID)
}
