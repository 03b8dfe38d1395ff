package database

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
)

//go:embed migrations/01_create_users.up.sql
var createUsersUp string

//go:embed migrations/02_create_organizations.up.sql
var createOrganizationsUp string

//go:embed migrations/03_create_tasks.up.sql
var createTasksUp string

// Migrate 执行建表脚本. Every statement is idempotent.
func (p *PostgresDatabase) Migrate(ctx context.Context) error {
	p.log.Debug("running migrations")

	steps := []struct {
		name string
		sql  string
	}{
		{"users", createUsersUp},
		{"organizations", createOrganizationsUp},
		{"tasks", createTasksUp},
	}
	for _, step := range steps {
		if _, err := p.db.ExecContext(ctx, step.sql); err != nil {
			return fmt.Errorf("apply %s migration: %w", step.name, err)
		}
		p.log.Debug("migration applied", zap.String("name", step.name))
	}

	p.log.Debug("migrations finished")
	return nil
}
