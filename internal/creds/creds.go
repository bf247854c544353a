// Package creds stores calendar credentials sealed at rest and turns them
// into authenticated calendar service handles.
package creds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"herald/internal/calendar"
)

const clientTimeout = 15 * time.Second

// Provider resolves pooled and guild-owned credentials into calendar
// service handles.
type Provider struct {
	db  *sql.DB
	box *box
}

// NewProvider creates a Provider. key must be 32 bytes.
func NewProvider(db *sql.DB, key []byte) (*Provider, error) {
	b, err := newBox(key)
	if err != nil {
		return nil, err
	}
	return &Provider{db: db, box: b}, nil
}

// Migrate creates the credentials table.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id   TEXT,
			pool_index INTEGER UNIQUE,
			token      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`); err != nil {
		return fmt.Errorf("credentials migration: %w", err)
	}
	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_credentials_guild ON credentials(guild_id);`); err != nil {
		return fmt.Errorf("credentials index migration: %w", err)
	}
	return nil
}

// PooledCount returns how many shared pool slots exist.
func (p *Provider) PooledCount(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE pool_index IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pooled credentials: %w", err)
	}
	return n, nil
}

// PooledService builds a service handle for one pool slot.
func (p *Provider) PooledService(ctx context.Context, index int) (calendar.Service, error) {
	var sealed []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT token FROM credentials WHERE pool_index = ?`, index).Scan(&sealed)
	if err != nil {
		return calendar.Service{}, fmt.Errorf("pooled credential %d: %w", index, err)
	}
	return p.service(sealed)
}

// ExternalService builds a service handle from the guild's own credential.
// A guild without a stored credential gets an unauthenticated client, which
// is enough for public feeds.
func (p *Provider) ExternalService(ctx context.Context, rec calendar.Record) (calendar.Service, error) {
	var sealed []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT token FROM credentials WHERE guild_id = ?`, rec.GuildID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Service{Client: &http.Client{Timeout: clientTimeout}}, nil
	}
	if err != nil {
		return calendar.Service{}, fmt.Errorf("guild credential %s: %w", rec.GuildID, err)
	}
	return p.service(sealed)
}

// AddPooled seals a token into the next free pool slot and returns its
// index.
func (p *Provider) AddPooled(ctx context.Context, token string) (int, error) {
	sealed, err := p.box.seal([]byte(token))
	if err != nil {
		return 0, err
	}
	var next sql.NullInt64
	if err := p.db.QueryRowContext(ctx,
		`SELECT MAX(pool_index) FROM credentials WHERE pool_index IS NOT NULL`).Scan(&next); err != nil {
		return 0, fmt.Errorf("next pool slot: %w", err)
	}
	index := 0
	if next.Valid {
		index = int(next.Int64) + 1
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO credentials (pool_index, token) VALUES (?, ?)`, index, sealed)
	if err != nil {
		return 0, fmt.Errorf("add pooled credential: %w", err)
	}
	return index, nil
}

// SetGuildCredential seals and stores a guild-owned token, replacing any
// previous one.
func (p *Provider) SetGuildCredential(ctx context.Context, guildID, token string) error {
	sealed, err := p.box.seal([]byte(token))
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credentials WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("replace guild credential: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (guild_id, token) VALUES (?, ?)`, guildID, sealed); err != nil {
		return fmt.Errorf("store guild credential: %w", err)
	}
	return tx.Commit()
}

func (p *Provider) service(sealed []byte) (calendar.Service, error) {
	token, err := p.box.open(sealed)
	if err != nil {
		return calendar.Service{}, fmt.Errorf("unseal credential: %w", err)
	}
	client := &http.Client{Timeout: clientTimeout}
	if len(token) > 0 {
		client.Transport = &authTransport{token: string(token)}
	}
	return calendar.Service{Client: client}, nil
}

// authTransport adds the bearer token to every feed request.
type authTransport struct {
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(clone)
}
