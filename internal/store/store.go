// Package store persists users and game sessions. Each call is atomic for a
// single document; callers serialize read-modify-write sequences themselves.
package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/example/star-supply/internal/game"
)

// Store is the keyed load/save surface the game service runs on. Lookups of
// missing records return an error wrapping game.ErrNotFound.
type Store interface {
	FindUser(ctx context.Context, id string) (*game.User, error)
	FindUserByName(ctx context.Context, username string) (*game.User, error)
	SaveUser(ctx context.Context, u *game.User) error

	FindSessionByUser(ctx context.Context, userID string) (*game.Session, error)
	ListSessions(ctx context.Context) ([]*game.Session, error)
	SaveSession(ctx context.Context, s *game.Session) error
	DeleteSession(ctx context.Context, id string) error

	Close() error
}

// OpenFromEnv picks a store from DB_DIALECT: memory, sqlite (default) or
// postgres.
func OpenFromEnv(ctx context.Context) (Store, error) {
	dialect := strings.TrimSpace(strings.ToLower(os.Getenv("DB_DIALECT")))
	switch dialect {
	case "memory":
		return NewMemory(), nil
	case "", string(DialectSQLite), string(DialectPostgres):
		s, err := openSQLFromEnv(ctx, dialect)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", dialect)
	}
}
