package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/example/star-supply/internal/game"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQL stores users and sessions as JSON payload rows.
type SQL struct {
	dialect Dialect
	db      *sql.DB
}

func openSQLFromEnv(ctx context.Context, raw string) (*SQL, error) {
	dialect := Dialect(raw)
	if dialect == "" {
		dialect = DialectSQLite
	}
	var dsn string
	switch dialect {
	case DialectSQLite:
		dsn = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))
		if dsn == "" {
			dsn = filepath.Join("tmp", "star_supply.sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	case DialectPostgres:
		dsn = strings.TrimSpace(os.Getenv("DB_POSTGRES_DSN"))
		if dsn == "" {
			dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		}
		if dsn == "" {
			return nil, errors.New("DB_DIALECT=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	}
	return OpenSQL(ctx, dialect, dsn)
}

// OpenSQL opens the database, checks it answers and applies pending
// migrations.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	s := &SQL{dialect: dialect, db: db}
	if err := s.applyMigrations(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("database: dialect=%s", dialect)
	return s, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) bind(pos int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (s *SQL) upsertQuery(table, key string, cols []string) string {
	ph := make([]string, len(cols))
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		ph[i] = s.bind(i + 1)
		if c != key {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
		key,
		strings.Join(sets, ", "),
	)
}

func (s *SQL) applyMigrations(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema migrations: %w", err)
	}
	rows.Close()

	files, err := fs.Glob(migrationFS, fmt.Sprintf("migrations/%s/*.sql", s.dialect))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		base := filepath.Base(file)
		if applied[base] {
			continue
		}
		body, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		q := fmt.Sprintf("INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)", s.bind(1), s.bind(2))
		if _, err := tx.ExecContext(ctx, q, base, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *SQL) loadPayload(ctx context.Context, q string, arg any, into any, what string) error {
	var payload string
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", game.ErrNotFound, what)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	if err := json.Unmarshal([]byte(payload), into); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func (s *SQL) FindUser(ctx context.Context, id string) (*game.User, error) {
	var u game.User
	q := "SELECT payload FROM users WHERE user_id = " + s.bind(1)
	if err := s.loadPayload(ctx, q, id, &u, "user "+id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQL) FindUserByName(ctx context.Context, username string) (*game.User, error) {
	var u game.User
	q := "SELECT payload FROM users WHERE username = " + s.bind(1)
	if err := s.loadPayload(ctx, q, username, &u, "user "+username); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQL) SaveUser(ctx context.Context, u *game.User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	q := s.upsertQuery("users", "user_id", []string{"user_id", "username", "payload", "updated_at"})
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Username, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQL) FindSessionByUser(ctx context.Context, userID string) (*game.Session, error) {
	var g game.Session
	q := "SELECT payload FROM sessions WHERE user_id = " + s.bind(1)
	if err := s.loadPayload(ctx, q, userID, &g, "no game for user "+userID); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQL) ListSessions(ctx context.Context) ([]*game.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id, payload FROM sessions ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*game.Session
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var g game.Session
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			// A broken row must not hide the others from the tick.
			log.Printf("store: skipping session %s: decode: %v", id, err)
			continue
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *SQL) SaveSession(ctx context.Context, g *game.Session) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", g.ID, err)
	}
	q := s.upsertQuery("sessions", "session_id", []string{"session_id", "user_id", "payload", "started_at", "updated_at"})
	if _, err := s.db.ExecContext(ctx, q, g.ID, g.UserID, string(payload), g.StartTime.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("save session %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQL) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = "+s.bind(1), id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
