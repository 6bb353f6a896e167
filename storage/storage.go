// Package storage implements the audit and accounting capability the
// dispatch pipeline depends on: conversation/message persistence, policy
// definitions, and the rolling usage window the quota enforcer consults.
// It is a dual-dialect database/sql store (SQLite or Postgres), grounded
// on the same bind()-based placeholder rewriting idiom the teacher used
// for its admin key store.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"

	"github.com/ractogw/gateway/policy"
	"github.com/ractogw/gateway/quota"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// Store is the gateway's conversation/message/policy store.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite-backed store. dsn can be
// a file path or a SQLite DSN ("file::memory:?cache=shared" for tests).
func OpenSQLite(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ractogw.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &Store{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres-backed store.
func OpenPostgres(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	timeType := "DATETIME"
	if s.dialect == dialectPostgres {
		timeType = "TIMESTAMPTZ"
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT,
	user_id TEXT,
	created_at %[1]s NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	tokens_input INTEGER,
	tokens_output INTEGER,
	user_id TEXT,
	created_at %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	match_type TEXT NOT NULL,
	pattern TEXT NOT NULL,
	action TEXT NOT NULL,
	applies_to TEXT NOT NULL,
	enabled BOOLEAN NOT NULL,
	created_at %[1]s NOT NULL
);
CREATE TABLE IF NOT EXISTS policy_hits (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	policy_name TEXT NOT NULL,
	action TEXT NOT NULL,
	created_at %[1]s NOT NULL
);`, timeType)

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return nil
}

// bind rewrites "?" placeholders to Postgres "$N" positional parameters;
// SQLite accepts "?" as-is.
func (s *Store) bind(query string) string {
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

// EnsureConversation idempotently inserts a conversation row if one with
// this id doesn't already exist.
func (s *Store) EnsureConversation(ctx context.Context, id, title, userID string) error {
	if title == "" {
		title = "Untitled"
	}
	q := s.bind(`INSERT INTO conversations (id, title, user_id, created_at) VALUES (?, ?, ?, ?)`)
	if s.dialect == dialectPostgres {
		q += ` ON CONFLICT (id) DO NOTHING`
	} else {
		q = strings.Replace(q, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	}

	var userIDArg interface{}
	if userID != "" {
		userIDArg = userID
	}
	_, err := s.db.ExecContext(ctx, q, id, title, userIDArg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// Message is a single persisted chat turn.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Provider       string
	Model          string
	TokensInput    *int
	TokensOutput   *int
	UserID         string
}

// InsertMessage persists one conversation turn and returns its id.
func (s *Store) InsertMessage(ctx context.Context, msg Message) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}

	q := s.bind(`
INSERT INTO messages (id, conversation_id, role, content, provider, model, tokens_input, tokens_output, user_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var provider, model, userID interface{}
	if msg.Provider != "" {
		provider = msg.Provider
	}
	if msg.Model != "" {
		model = msg.Model
	}
	if msg.UserID != "" {
		userID = msg.UserID
	}

	_, err := s.db.ExecContext(ctx, q, id, msg.ConversationID, msg.Role, msg.Content,
		provider, model, msg.TokensInput, msg.TokensOutput, userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// PolicyHit is one policy match to be recorded against a persisted message.
type PolicyHit struct {
	MessageID  string
	PolicyID   string
	PolicyName string
	Action     string
}

// RecordPolicyHits persists a batch of policy hits in a single transaction.
// An empty batch is a no-op.
func (s *Store) RecordPolicyHits(ctx context.Context, hits []PolicyHit) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy hit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.bind(`INSERT INTO policy_hits (id, message_id, policy_id, policy_name, action, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, h := range hits {
		if _, err := tx.ExecContext(ctx, q, uuid.NewString(), h.MessageID, h.PolicyID, h.PolicyName, h.Action, now); err != nil {
			return fmt.Errorf("record policy hit: %w", err)
		}
	}
	return tx.Commit()
}

// ListPolicies returns every stored policy, most recently created first.
func (s *Store) ListPolicies(ctx context.Context) ([]policy.Policy, error) {
	q := `
SELECT id, name, match_type, pattern, action, applies_to, enabled
FROM policies
ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []policy.Policy
	for rows.Next() {
		var p policy.Policy
		var appliesTo string
		if err := rows.Scan(&p.ID, &p.Name, &p.MatchType, &p.Pattern, &p.Action, &appliesTo, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if appliesTo != "" {
			p.AppliesTo = strings.Split(appliesTo, ",")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedPolicies inserts the given policies if the table is currently empty,
// so a fresh store starts with the gateway's default rule set.
func (s *Store) SeedPolicies(ctx context.Context, policies []policy.Policy) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&count); err != nil {
		return fmt.Errorf("count policies: %w", err)
	}
	if count > 0 {
		return nil
	}

	q := s.bind(`INSERT INTO policies (id, name, match_type, pattern, action, applies_to, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for i, p := range policies {
		// Preserve declared order under ORDER BY created_at DESC by
		// staggering timestamps a millisecond apart per seed entry.
		createdAt := now.Add(-time.Duration(i) * time.Millisecond)
		if _, err := s.db.ExecContext(ctx, q, p.ID, p.Name, string(p.MatchType), p.Pattern,
			string(p.Action), strings.Join(p.AppliesTo, ","), p.Enabled, createdAt); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.ID, err)
		}
	}
	return nil
}

// UsageSince implements quota.Source: the request count and summed token
// usage for an account over the trailing window ending now.
func (s *Store) UsageSince(ctx context.Context, accountID string, since time.Time) (quota.Usage, error) {
	q := s.bind(`
SELECT
	COUNT(*),
	COALESCE(SUM(tokens_input), 0),
	COALESCE(SUM(tokens_output), 0)
FROM messages
WHERE user_id = ? AND created_at >= ?`)

	var requests, tokensIn, tokensOut int64
	err := s.db.QueryRowContext(ctx, q, accountID, since.UTC()).Scan(&requests, &tokensIn, &tokensOut)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("usage since: %w", err)
	}
	return quota.Usage{
		Requests:     uint64(requests),
		TokensInput:  uint64(tokensIn),
		TokensOutput: uint64(tokensOut),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool, for callers (tests, admin
// tooling) that need direct SQL access beyond this package's narrow
// surface.
func (s *Store) DB() *sql.DB {
	return s.db
}
