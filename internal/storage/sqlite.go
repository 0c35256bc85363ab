package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nutripublic/portal/internal/gziputil"
	"github.com/nutripublic/portal/internal/profile"

	_ "modernc.org/sqlite"
)

// schemaVersion is recorded in the config table after migration.
const schemaVersion = 1

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at path with WAL mode enabled.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection avoids "database is locked" with this driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO config (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		strconv.Itoa(schemaVersion))
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    email TEXT PRIMARY KEY,
    uid TEXT NOT NULL DEFAULT '',
    username TEXT NOT NULL DEFAULT '',
    role TEXT,
    rating REAL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    content BLOB NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    time INTEGER,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
`

// --- Users ---

// FindProfileByEmail returns the profile for email, or nil if there is none.
func (s *SQLiteStore) FindProfileByEmail(ctx context.Context, email string) (*profile.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, role, rating FROM users WHERE email=? LIMIT 1`, email)

	rec := &profile.Record{}
	var role sql.NullString
	var rating sql.NullFloat64
	err := row.Scan(&rec.Username, &role, &rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	rec.Role = role.String
	if rating.Valid {
		v := rating.Float64
		rec.Rating = &v
	}
	return rec, nil
}

// UpsertUser inserts u or replaces the mutable fields of an existing row.
// CreatedAt is kept from the first insert.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *User) error {
	if u.Email == "" {
		return errors.New("upsert user: email is required")
	}
	now := time.Now()
	var role any
	if u.Role != "" {
		role = u.Role
	}
	var rating any
	if u.Rating != nil {
		rating = *u.Rating
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, uid, username, role, rating, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   uid=excluded.uid, username=excluded.username, role=excluded.role, rating=excluded.rating`,
		u.Email, u.UID, u.Username, role, rating, now.Unix())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, uid, username, role, rating, created_at FROM users WHERE email=?`, email)

	u := &User{}
	var role sql.NullString
	var rating sql.NullFloat64
	var createdAt int64
	err := row.Scan(&u.Email, &u.UID, &u.Username, &role, &rating, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = role.String
	if rating.Valid {
		v := rating.Float64
		u.Rating = &v
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

// CountUsersByRole returns the number of users per role. Users without a
// role are counted under UndefinedRole.
func (s *SQLiteStore) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(NULLIF(role, ''), ?), COUNT(*) FROM users GROUP BY 1`, UndefinedRole)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] += n
	}
	return counts, rows.Err()
}

// --- Events ---

// CreateEvent stores e, assigning an ID and CreatedAt when unset.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	content, err := gziputil.Compress([]byte(e.Content))
	if err != nil {
		return fmt.Errorf("compress event content: %w", err)
	}
	var at any
	if e.Time != nil {
		at = e.Time.Unix()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, content, location, time, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, content, e.Location, at, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// ListEvents returns all events in creation order.
func (s *SQLiteStore) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, location, time, created_at FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var content []byte
		var at sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Title, &content, &e.Location, &at, &createdAt); err != nil {
			return nil, err
		}
		plain, err := gziputil.MaybeDecompress(content)
		if err != nil {
			slog.Warn("failed to decompress event content", "event", e.ID, "error", err)
			plain = nil
		}
		e.Content = string(plain)
		if at.Valid {
			t := time.Unix(at.Int64, 0)
			e.Time = &t
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Config ---

func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}
