// internal/dedup/postgres.go
package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Postgres keeps the greeted-user set in a keyed table so at-most-once
// greeting holds across restarts and multiple workers.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) IsKnown(ctx context.Context, userID int64) (bool, error) {
	var known bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM greeted_users WHERE user_id = $1)`,
		userID,
	).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("failed to check greeted set: %w", err)
	}
	return known, nil
}

// MarkKnown inserts the id; ON CONFLICT DO NOTHING makes the insert the
// race arbiter — exactly one concurrent caller sees a new row.
func (p *Postgres) MarkKnown(ctx context.Context, userID int64) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO greeted_users (user_id, greeted_at) VALUES ($1, NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark user as greeted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
