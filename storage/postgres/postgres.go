// Package postgres provides a Postgres-backed connection store using pgx,
// with embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/marketloop/socialvault/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// defaultQueryTimeout bounds individual queries so hung calls do not
	// leak pool connections.
	defaultQueryTimeout = 5 * time.Second
)

// Store is a Postgres-backed implementation of storage.ConnectionStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Compile-time interface check.
var _ storage.ConnectionStore = (*Store)(nil)

// Open creates a connection pool for the given DSN and verifies it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// Migrate runs the embedded SQL migrations against the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("nil pool provided")
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	sqlDB, err := goose.OpenDBWithDriver("pgx", pool.Config().ConnConfig.ConnString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// New creates a store on top of an opened pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// Upsert inserts the connection or replaces the existing row for the same
// user, platform, and platform account. The unique constraint makes
// concurrent reconnects settle last-writer-wins without duplicate rows.
func (s *Store) Upsert(ctx context.Context, conn *storage.Connection) (*storage.Connection, error) {
	if conn == nil || conn.UserID == "" || conn.Platform == "" || conn.PlatformAccountID == "" {
		return nil, fmt.Errorf("invalid connection")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	id := conn.ID
	if id == "" {
		id = uuid.New().String()
	}

	const query = `
		INSERT INTO connections (
			id, user_id, platform, platform_account_id, account_name,
			followers_count, encrypted_token, encrypted_refresh,
			token_expires_at, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, now(), now())
		ON CONFLICT (user_id, platform, platform_account_id) DO UPDATE SET
			account_name      = EXCLUDED.account_name,
			followers_count   = EXCLUDED.followers_count,
			encrypted_token   = EXCLUDED.encrypted_token,
			encrypted_refresh = EXCLUDED.encrypted_refresh,
			token_expires_at  = EXCLUDED.token_expires_at,
			active            = true,
			updated_at        = now()
		RETURNING *`

	var stored storage.Connection
	err := pgxscan.Get(ctx, s.pool, &stored, query,
		id, conn.UserID, conn.Platform, conn.PlatformAccountID, conn.AccountName,
		conn.FollowersCount, conn.EncryptedToken, conn.EncryptedRefresh,
		conn.TokenExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}

	s.logger.Debug("Upserted connection",
		"platform", stored.Platform,
		"connection_id", stored.ID)
	return &stored, nil
}

// Get retrieves a user's active connection by record ID.
func (s *Store) Get(ctx context.Context, userID, connectionID string) (*storage.Connection, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT * FROM connections
		WHERE user_id = $1 AND id = $2 AND active`

	var conn storage.Connection
	if err := pgxscan.Get(ctx, s.pool, &conn, query, userID, connectionID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, connectionID)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

// GetByPlatform retrieves the user's most recently updated active connection
// for a platform.
func (s *Store) GetByPlatform(ctx context.Context, userID, platform string) (*storage.Connection, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT * FROM connections
		WHERE user_id = $1 AND platform = $2 AND active
		ORDER BY updated_at DESC
		LIMIT 1`

	var conn storage.Connection
	if err := pgxscan.Get(ctx, s.pool, &conn, query, userID, platform); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, platform)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

// List returns sanitized summaries of all the user's connections, active
// and inactive, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]*storage.Summary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT * FROM connections
		WHERE user_id = $1
		ORDER BY created_at DESC`

	var conns []*storage.Connection
	if err := pgxscan.Select(ctx, s.pool, &conns, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	summaries := make([]*storage.Summary, 0, len(conns))
	for _, conn := range conns {
		summaries = append(summaries, conn.Summarize())
	}
	return summaries, nil
}

// Deactivate marks a user's connection inactive by record ID. Sibling
// connections on the same platform stay active.
func (s *Store) Deactivate(ctx context.Context, userID, connectionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		UPDATE connections
		SET active = false, updated_at = now()
		WHERE user_id = $1 AND id = $2 AND active`

	tag, err := s.pool.Exec(ctx, query, userID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", storage.ErrConnectionNotFound, connectionID)
	}

	s.logger.Debug("Deactivated connection", "connection_id", connectionID)
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}
