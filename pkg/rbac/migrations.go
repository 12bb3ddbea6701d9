package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the PostgreSQL schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and api_tokens tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					full_name VARCHAR(255),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					name VARCHAR(255) NOT NULL,
					expires_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create workspace, board, list and card tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					visibility VARCHAR(20) NOT NULL DEFAULT 'private'
						CHECK (visibility IN ('private', 'public')),
					is_archived BOOLEAN NOT NULL DEFAULT FALSE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS boards (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					visibility VARCHAR(20) NOT NULL DEFAULT 'workspace'
						CHECK (visibility IN ('private', 'workspace', 'public')),
					member_manage_policy VARCHAR(20) NOT NULL DEFAULT 'admins_only'
						CHECK (member_manage_policy IN ('admins_only', 'all_members')),
					is_closed BOOLEAN NOT NULL DEFAULT FALSE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_boards_workspace_id ON boards(workspace_id);

				CREATE TABLE IF NOT EXISTS lists (
					id BIGSERIAL PRIMARY KEY,
					board_id BIGINT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_lists_board_id ON lists(board_id);

				CREATE TABLE IF NOT EXISTS cards (
					id BIGSERIAL PRIMARY KEY,
					list_id BIGINT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
					title VARCHAR(512) NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_cards_list_id ON cards(list_id);
			`,
		},
		{
			Version:     3,
			Description: "Create role catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					scope VARCHAR(20) NOT NULL CHECK (scope IN ('workspace', 'board'))
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_memberships (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, workspace_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_memberships_workspace_id ON workspace_memberships(workspace_id);

				CREATE TABLE IF NOT EXISTS board_memberships (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					board_id BIGINT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, board_id)
				);

				CREATE INDEX IF NOT EXISTS idx_board_memberships_board_id ON board_memberships(board_id);
			`,
		},
		{
			Version:     5,
			Description: "Create invitations and join_links tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id BIGSERIAL PRIMARY KEY,
					token VARCHAR(64) NOT NULL UNIQUE,
					scope VARCHAR(20) NOT NULL CHECK (scope IN ('workspace', 'board')),
					resource_id BIGINT NOT NULL,
					email VARCHAR(255) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					accepted_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_expires_at ON invitations(expires_at);

				CREATE TABLE IF NOT EXISTS join_links (
					id BIGSERIAL PRIMARY KEY,
					token VARCHAR(64) NOT NULL UNIQUE,
					board_id BIGINT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					max_uses INT NOT NULL DEFAULT 0,
					use_count INT NOT NULL DEFAULT 0,
					revoked_at TIMESTAMPTZ
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS corkboard_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM corkboard_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO corkboard_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		log.Info("Migration completed")
	}

	return nil
}

// SeedCatalog upserts the built-in roles, every known permission and the
// role -> permission mapping. It is idempotent, and the mapping of each
// built-in role is replaced so the database always mirrors BuiltInRoles.
func SeedCatalog(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, perm := range AllPermissions() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permissions (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			string(perm),
		); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm, err)
		}
	}

	for _, role := range BuiltInRoles() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roles (name, display_name, description, scope)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE
			SET display_name = excluded.display_name, description = excluded.description
		`, string(role.Name), role.DisplayName, role.Description, string(role.Name.Scope())); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = (SELECT id FROM roles WHERE name = $1)`,
			string(role.Name),
		); err != nil {
			return fmt.Errorf("failed to reset permissions of %s: %w", role.Name, err)
		}

		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT r.id, p.id FROM roles r, permissions p
				WHERE r.name = $1 AND p.name = $2
				ON CONFLICT DO NOTHING
			`, string(role.Name), string(perm)); err != nil {
				return fmt.Errorf("failed to map %s to %s: %w", perm, role.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog seed: %w", err)
	}
	return nil
}
