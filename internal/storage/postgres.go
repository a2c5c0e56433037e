package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
    id           TEXT PRIMARY KEY,
    symbol       TEXT NOT NULL,
    target_price DOUBLE PRECISION NOT NULL CHECK (target_price > 0),
    direction    TEXT NOT NULL,
    triggered    BOOLEAN NOT NULL DEFAULT FALSE,
    channel_key  TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    triggered_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS alerts_symbol_triggered_idx ON alerts (symbol, triggered);
`

const alertColumns = `id, symbol, target_price, direction, triggered, channel_key, created_at, triggered_at`

// Postgres is the durable AlertStore. The trigger CAS is a conditional UPDATE,
// so several processes may evaluate the same symbol safely.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects, tunes the pool and applies the schema.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log := logger.WithComponent("storage")
	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("postgres alert store ready")

	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, a *models.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `)
        VALUES (:id, :symbol, :target_price, :direction, :triggered, :channel_key, :created_at, :triggered_at)`

	if _, err := p.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func (p *Postgres) Find(ctx context.Context, f Filter) ([]*models.Alert, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Symbol != nil {
		args = append(args, *f.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if f.Triggered != nil {
		args = append(args, *f.Triggered)
		conds = append(conds, fmt.Sprintf("triggered = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at`

	alerts := []*models.Alert{}
	if err := p.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("find alerts: %w", err)
	}
	return alerts, nil
}

func (p *Postgres) UpdateTriggeredFlag(ctx context.Context, id string, triggered bool) error {
	var triggeredAt *time.Time
	if triggered {
		now := time.Now().UTC()
		triggeredAt = &now
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE alerts SET triggered = $2, triggered_at = $3 WHERE id = $1`,
		id, triggered, triggeredAt)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkTriggered(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE alerts SET triggered = TRUE, triggered_at = $2 WHERE id = $1 AND triggered = FALSE`,
		id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark alert %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark alert %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}

	// Zero rows: either someone else won or the alert is gone
	var exists bool
	if err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("mark alert %s: %w", id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	return nil
}

// Ping is used by the health endpoint
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
