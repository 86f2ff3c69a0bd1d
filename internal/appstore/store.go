// Package appstore persists Apps and ApiKey hashes (spec §4.C, §6.5
// "apps" / "app_api_keys" collections) in Postgres via pgx.
package appstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/model"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("appstore: not found")

// Store is the Postgres-backed API-key registry and app directory.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("appstore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("appstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the apps/app_api_keys schema if absent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS apps (
	id         UUID PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, name)
);
CREATE TABLE IF NOT EXISTS app_api_keys (
	key_hash   TEXT PRIMARY KEY,
	index_key  TEXT NOT NULL,
	app_id     UUID NOT NULL REFERENCES apps(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS app_api_keys_app_id_idx ON app_api_keys (app_id);
CREATE UNIQUE INDEX IF NOT EXISTS app_api_keys_index_key_idx ON app_api_keys (index_key) WHERE revoked_at IS NULL;
`)
	if err != nil {
		return fmt.Errorf("appstore: migrate: %w", err)
	}
	return nil
}

// CreateOrGetApp returns the owner's app with the given name, creating
// it if absent. Names are unique per owner; collisions reuse the
// existing row (§4.I complete step 2).
func (s *Store) CreateOrGetApp(ctx context.Context, ownerID, name string) (model.App, error) {
	var app model.App
	err := s.pool.QueryRow(ctx, `
INSERT INTO apps (id, owner_id, name) VALUES ($1, $2, $3)
ON CONFLICT (owner_id, name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, owner_id, name, created_at`,
		uuid.NewString(), ownerID, name,
	).Scan(&app.ID, &app.OwnerID, &app.Name, &app.CreatedAt)
	if err != nil {
		return model.App{}, fmt.Errorf("appstore: create or get app: %w", err)
	}
	return app, nil
}

// GetApp fetches an app by id.
func (s *Store) GetApp(ctx context.Context, appID string) (model.App, error) {
	var app model.App
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, created_at FROM apps WHERE id = $1`, appID,
	).Scan(&app.ID, &app.OwnerID, &app.Name, &app.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.App{}, ErrNotFound
	}
	if err != nil {
		return model.App{}, fmt.Errorf("appstore: get app: %w", err)
	}
	return app, nil
}

// CreateAPIKey persists a new key hash bound to appID, indexed by
// indexKey for O(1) lookup on the cache-miss path. The caller holds
// the plaintext only long enough to hash it and hand it back once
// (§3 ApiKey invariant).
func (s *Store) CreateAPIKey(ctx context.Context, appID, indexKey, keyHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_api_keys (key_hash, index_key, app_id) VALUES ($1, $2, $3)`, keyHash, indexKey, appID)
	if err != nil {
		return fmt.Errorf("appstore: create api key: %w", err)
	}
	return nil
}

// GetActiveKeyByIndex resolves a presented key's index to its
// (app_id, key_hash), or apikey.ErrIndexNotFound if no active key
// matches — the authoritative cold lookup path (§4.G step 2) hits this
// index instead of scanning every active hash.
func (s *Store) GetActiveKeyByIndex(ctx context.Context, indexKey string) (appID, keyHash string, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT app_id, key_hash FROM app_api_keys WHERE index_key = $1 AND revoked_at IS NULL`,
		indexKey,
	).Scan(&appID, &keyHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", apikey.ErrIndexNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("appstore: get active key by index: %w", err)
	}
	return appID, keyHash, nil
}

// RevokeKey marks a key hash as revoked. Revoked keys are never
// re-issued for the same hash (§3 ApiKey invariant).
func (s *Store) RevokeKey(ctx context.Context, keyHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE app_api_keys SET revoked_at = now() WHERE key_hash = $1 AND revoked_at IS NULL`, keyHash)
	if err != nil {
		return fmt.Errorf("appstore: revoke key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
