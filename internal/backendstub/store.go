package backendstub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when a user or transcript does not exist
	ErrNotFound = errors.New("not found")

	// ErrUserExists is returned when registering a taken username
	ErrUserExists = errors.New("username already exists")
)

// timeLayout sorts lexically in chronological order
const timeLayout = "2006-01-02 15:04:05.000000"

// User is a registered account
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Transcript is one stored transcription
type Transcript struct {
	ID              int64
	UserID          int64
	Title           string
	Text            string
	AudioFilename   string
	DurationSeconds float64
	CreatedAt       time.Time
}

// Store persists users and transcripts in SQLite or PostgreSQL
type Store struct {
	db     *sql.DB
	driver string
}

// OpenStore opens the database and applies the schema. For SQLite dsn is a
// file path; for PostgreSQL it is a connection URL.
func OpenStore(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// A single connection serializes writers and keeps pragmas in effect
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("database DSN is required")
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateUser inserts a user and returns its id
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	if _, err := s.UserByName(ctx, username); err == nil {
		return 0, ErrUserExists
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind("INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id"),
		username, passwordHash, formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	return id, nil
}

// UserByName looks a user up by username
func (s *Store) UserByName(ctx context.Context, username string) (User, error) {
	var (
		u       User
		created string
	)

	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, username, password_hash, created_at FROM users WHERE username = ?"),
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}

	u.CreatedAt = parseTime(created)
	return u, nil
}

// AddTranscript stores a transcript and returns its id
func (s *Store) AddTranscript(ctx context.Context, t Transcript) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO transcripts (user_id, title, transcript, audio_filename, duration_seconds, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		t.UserID, t.Title, t.Text, t.AudioFilename, t.DurationSeconds, formatTime(t.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	return id, nil
}

// ListTranscripts returns a user's transcripts, newest first
func (s *Store) ListTranscripts(ctx context.Context, userID int64) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, user_id, title, transcript, audio_filename, duration_seconds, created_at
			FROM transcripts WHERE user_id = ? ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := make([]Transcript, 0)
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}

	return transcripts, rows.Err()
}

// GetTranscript returns one of the user's transcripts
func (s *Store) GetTranscript(ctx context.Context, userID, id int64) (Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, title, transcript, audio_filename, duration_seconds, created_at
			FROM transcripts WHERE user_id = ? AND id = ?`),
		userID, id,
	)

	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transcript{}, ErrNotFound
	}
	return t, err
}

// LatestTranscript returns the user's most recent transcript
func (s *Store) LatestTranscript(ctx context.Context, userID int64) (Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, title, transcript, audio_filename, duration_seconds, created_at
			FROM transcripts WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`),
		userID,
	)

	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transcript{}, ErrNotFound
	}
	return t, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTranscript(row scanner) (Transcript, error) {
	var (
		t       Transcript
		title   sql.NullString
		audio   sql.NullString
		created string
	)

	if err := row.Scan(&t.ID, &t.UserID, &title, &t.Text, &audio, &t.DurationSeconds, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, err
		}
		return Transcript{}, fmt.Errorf("failed to scan transcript: %w", err)
	}

	t.Title = title.String
	t.AudioFilename = audio.String
	t.CreatedAt = parseTime(created)
	return t, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT,
    transcript TEXT NOT NULL,
    audio_filename TEXT,
    duration_seconds REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_user_id
    ON transcripts (user_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT,
    transcript TEXT NOT NULL,
    audio_filename TEXT,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_user_id
    ON transcripts (user_id, created_at);
`
