package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists tokens in SQL backends (SQLite or Postgres), for
// deployments that need issued tokens to survive a restart.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed token store. dsn can be a file
// path (e.g. /tmp/tokens.db) or a SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ractogw-tokens.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite token store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed token store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres token store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s token store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS tokens (
	id TEXT PRIMARY KEY,
	secret TEXT UNIQUE NOT NULL,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ NULL,
	expires_at TIMESTAMPTZ NULL,
	last_used_at TIMESTAMPTZ NULL,
	usage_count BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tokens_secret ON tokens(secret);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS tokens (
	id TEXT PRIMARY KEY,
	secret TEXT UNIQUE NOT NULL,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	revoked_at DATETIME NULL,
	expires_at DATETIME NULL,
	last_used_at DATETIME NULL,
	usage_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tokens_secret ON tokens(secret);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s token store schema: %w", s.dialect, err)
	}
	return nil
}

// Issue creates and persists a new token bound to accountID.
func (s *SQLStore) Issue(accountID, name string, expiresAt *time.Time) (*Token, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if expiresAt != nil {
		t := expiresAt.UTC()
		expiresAt = &t
	}

	q := s.bind(`
INSERT INTO tokens(id, secret, account_id, name, created_at, revoked_at, expires_at, last_used_at, usage_count)
VALUES(?, ?, ?, ?, ?, NULL, ?, NULL, 0)`)
	if _, err := s.db.Exec(q, id, secret, accountID, name, now, expiresAt); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &Token{
		ID:        id,
		Secret:    secret,
		AccountID: accountID,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Revoke marks a token inactive by recording its revocation timestamp.
func (s *SQLStore) Revoke(id string) error {
	now := time.Now().UTC()
	q := s.bind(`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`)
	res, err := s.db.Exec(q, now, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("token not found: %s", id)
	}
	return nil
}

// Identify looks up the token for a bearer secret and records its use.
// An unknown, revoked, or expired secret reports not-found.
func (s *SQLStore) Identify(secret string) (*Token, bool) {
	q := s.bind(`
SELECT id, secret, account_id, name, created_at, revoked_at, expires_at, last_used_at, usage_count
FROM tokens
WHERE secret = ?`)

	tok, err := s.scanOne(q, secret)
	if err != nil {
		return nil, false
	}
	if !tok.active(time.Now()) {
		return nil, false
	}

	now := time.Now().UTC()
	upd := s.bind(`UPDATE tokens SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`)
	if _, err := s.db.Exec(upd, now, tok.ID); err != nil {
		return nil, false
	}
	tok.UsageCount++
	tok.LastUsedAt = &now
	return tok, true
}

// List returns every known token with its secret masked.
func (s *SQLStore) List() []*Token {
	q := `
SELECT id, secret, account_id, name, created_at, revoked_at, expires_at, last_used_at, usage_count
FROM tokens`

	rows, err := s.db.Query(q)
	if err != nil {
		return []*Token{}
	}
	defer func() { _ = rows.Close() }()

	tokens := make([]*Token, 0)
	for rows.Next() {
		tok, scanErr := scanToken(rows)
		if scanErr != nil {
			continue
		}
		masked := *tok
		if len(masked.Secret) > 12 {
			masked.Secret = masked.Secret[:12] + "..."
		}
		tokens = append(tokens, &masked)
	}
	return tokens
}

func (s *SQLStore) scanOne(query string, arg interface{}) (*Token, error) {
	return scanToken(s.db.QueryRow(query, arg))
}

func scanToken(scanner interface {
	Scan(dest ...interface{}) error
}) (*Token, error) {
	var (
		t        Token
		revoked  sql.NullTime
		expires  sql.NullTime
		lastUsed sql.NullTime
	)

	err := scanner.Scan(
		&t.ID,
		&t.Secret,
		&t.AccountID,
		&t.Name,
		&t.CreatedAt,
		&revoked,
		&expires,
		&lastUsed,
		&t.UsageCount,
	)
	if err != nil {
		return nil, err
	}

	if revoked.Valid {
		v := revoked.Time
		t.RevokedAt = &v
	}
	if expires.Valid {
		v := expires.Time
		t.ExpiresAt = &v
	}
	if lastUsed.Valid {
		v := lastUsed.Time
		t.LastUsedAt = &v
	}
	return &t, nil
}

// bind rewrites "?" placeholders to Postgres "$N" positional parameters;
// SQLite accepts "?" as-is.
func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
