// internal/ledger/postgres.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"cashback-bot/internal/models"
)

// Column whitelists keep the per-field UPDATE statements parameterizable
// without string interpolation of user input.
var stepColumns = map[models.Step]string{
	models.StepAgree:     "agree",
	models.StepSubscribe: "subscribe",
	models.StepOrder:     "order_step",
	models.StepReceive:   "receive",
	models.StepFeedback:  "feedback",
	models.StepShk:       "shk",
}

var requisiteColumns = map[models.RequisiteField]string{
	models.FieldCard:   "card_number",
	models.FieldPhone:  "phone",
	models.FieldAmount: "amount",
	models.FieldBank:   "bank",
}

// Config holds the connection pool settings.
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// Postgres implements the ledger contract on a buyers table. Every write is
// a single-column statement, which is what makes per-field atomicity hold
// under overlapping deliveries.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(cfg Config) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Pool exposes the underlying pool so the dedup guard can share it.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// CreateBuyer inserts the record once; re-deliveries of the same first
// contact are absorbed by ON CONFLICT DO NOTHING, so the article reference
// is bound exactly once.
func (p *Postgres) CreateBuyer(ctx context.Context, userID int64, username, article string) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO buyers (user_id, username, article, first_contact_at, last_contact_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        ON CONFLICT (user_id) DO NOTHING
    `, userID, username, article)
	if err != nil {
		return fmt.Errorf("failed to create buyer: %w", err)
	}
	return nil
}

func (p *Postgres) Buyer(ctx context.Context, userID int64) (*models.Buyer, error) {
	query := `
        SELECT user_id, username, article, first_contact_at, last_contact_at,
               agree, subscribe, order_step, receive, feedback, shk,
               card_number, phone, amount, bank,
               payout_tag_accepted, completed
        FROM buyers
        WHERE user_id = $1
    `

	var (
		b     models.Buyer
		flags [6]string
	)
	err := p.pool.QueryRow(ctx, query, userID).Scan(
		&b.UserID, &b.Username, &b.Article, &b.FirstContactAt, &b.LastContactAt,
		&flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5],
		&b.Requisites.Card, &b.Requisites.Phone, &b.Requisites.Amount, &b.Requisites.Bank,
		&b.PayoutAccepted, &b.Completed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}

	b.Flags = make(map[models.Step]models.Flag, len(models.Steps))
	for i, step := range models.Steps {
		b.Flags[step] = models.Flag(flags[i])
	}
	return &b, nil
}

func (p *Postgres) StepFlags(ctx context.Context, userID int64) (map[models.Step]models.Flag, error) {
	b, err := p.Buyer(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.Flags, nil
}

// SetStepFlag writes one flag column. The store refuses to move a flag off
// "yes", so a late or repeated "no" can never erase a confirmation.
func (p *Postgres) SetStepFlag(ctx context.Context, userID int64, step models.Step, flag models.Flag) error {
	col, ok := stepColumns[step]
	if !ok {
		return fmt.Errorf("unknown step %q", step)
	}
	query := fmt.Sprintf(`
        UPDATE buyers SET %s = $2, last_contact_at = NOW()
        WHERE user_id = $1 AND %s <> 'yes'
    `, col, col)
	if flag == models.FlagYes {
		query = fmt.Sprintf(`
            UPDATE buyers SET %s = $2, last_contact_at = NOW()
            WHERE user_id = $1
        `, col)
	}
	if _, err := p.pool.Exec(ctx, query, userID, string(flag)); err != nil {
		return fmt.Errorf("failed to set step flag %s: %w", step, err)
	}
	return nil
}

func (p *Postgres) TouchLastContact(ctx context.Context, userID int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE buyers SET last_contact_at = NOW() WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last contact: %w", err)
	}
	return nil
}

func (p *Postgres) SetRequisiteField(ctx context.Context, userID int64, field models.RequisiteField, value string) error {
	col, ok := requisiteColumns[field]
	if !ok {
		return fmt.Errorf("unknown requisite field %q", field)
	}
	query := fmt.Sprintf(`UPDATE buyers SET %s = $2 WHERE user_id = $1`, col)
	if _, err := p.pool.Exec(ctx, query, userID, value); err != nil {
		return fmt.Errorf("failed to set requisite %s: %w", field, err)
	}
	return nil
}

func (p *Postgres) RemainingSteps(ctx context.Context, userID int64) ([]models.Step, error) {
	flags, err := p.StepFlags(ctx, userID)
	if err != nil {
		return nil, err
	}
	var remaining []models.Step
	for _, step := range models.Steps {
		if flags[step] != models.FlagYes {
			remaining = append(remaining, step)
		}
	}
	return remaining, nil
}

func (p *Postgres) SetPayoutAccepted(ctx context.Context, userID int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE buyers SET payout_tag_accepted = TRUE WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set payout accepted: %w", err)
	}
	return nil
}

// SetCompleted closes the flow for a buyer. This is the operator-driven
// transition to the terminal state; the controller only ever reads it.
func (p *Postgres) SetCompleted(ctx context.Context, userID int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE buyers SET completed = TRUE WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set completed: %w", err)
	}
	return nil
}
