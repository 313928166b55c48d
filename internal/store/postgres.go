package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/common"
)

// schema is applied at startup. One row per (prefix, phone); the whole user
// document lives in a JSONB column, mirroring the Firestore layout.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	prefix     TEXT NOT NULL,
	phone      TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (prefix, phone)
);
`

// Postgres persists user documents as JSONB rows.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres applies the schema and wraps the pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// GetUser implements rides.UserStore.
func (p *Postgres) GetUser(ctx context.Context, prefix, phone string) (*rides.User, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM users WHERE prefix = $1 AND phone = $2`,
		prefix, phone,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", phone, err)
	}

	var u rides.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", phone, err)
	}
	return &u, nil
}

// SaveUser implements rides.UserStore.
func (p *Postgres) SaveUser(ctx context.Context, prefix string, user *rides.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.PhoneNumber, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO users (prefix, phone, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (prefix, phone)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		prefix, user.PhoneNumber, raw,
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", user.PhoneNumber, err)
	}
	return nil
}

// DeleteUser implements rides.UserStore.
func (p *Postgres) DeleteUser(ctx context.Context, prefix, phone string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM users WHERE prefix = $1 AND phone = $2`,
		prefix, phone,
	); err != nil {
		return fmt.Errorf("delete user %s: %w", phone, err)
	}
	return nil
}

// ListUsers implements rides.UserStore.
func (p *Postgres) ListUsers(ctx context.Context, prefix string) ([]*rides.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM users WHERE prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*rides.User
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}

		var u rides.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Ping implements rides.UserStore.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements rides.UserStore.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
