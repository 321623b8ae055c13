// Package library stores users and the games they keep in their libraries.
// Games are snapshots of catalog entries taken when they were added.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"

	"playshelf/internal/catalog"
	"playshelf/internal/common/errors"
	"playshelf/internal/common/validation"
)

type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUser is the input to CreateUser
type NewUser struct {
	Username    string `json:"username" validate:"required,min=3,max=32,username"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it
func Open(path string) (*Store, error) {
	db, err := otelsql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000",
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_games (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			game_id INTEGER NOT NULL,
			entry TEXT NOT NULL,
			added_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, game_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_games_added ON user_games(user_id, added_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser validates and stores a new user
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}

	user := &User{
		ID:          uuid.New(),
		Username:    in.Username,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID.String(), user.Username, user.Name, user.Description, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.ValidationError("username", fmt.Sprintf("username %q is already taken", in.Username))
		}
		return nil, errors.InternalError("failed to create user", err)
	}
	return user, nil
}

// GetUser returns the user with the given id
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	var rawID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, description, created_at FROM users WHERE id = ?`, id.String()).
		Scan(&rawID, &user.Username, &user.Name, &user.Description, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("user " + id.String())
	}
	if err != nil {
		return nil, errors.InternalError("failed to get user", err)
	}

	user.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, errors.InternalError("stored user id is not a UUID", err)
	}
	return &user, nil
}

// AddGame stores a snapshot of entry in the user's library, replacing an
// earlier snapshot of the same game.
func (s *Store) AddGame(ctx context.Context, userID uuid.UUID, entry catalog.CatalogEntry) error {
	if entry.ProviderID <= 0 {
		return errors.ValidationError("id", "game id must be positive")
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.InternalError("failed to encode game", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_games (user_id, game_id, entry, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, game_id) DO UPDATE SET entry = excluded.entry`,
		userID.String(), entry.ProviderID, string(data), time.Now().UTC())
	if err != nil {
		return errors.InternalError("failed to add game", err)
	}
	return nil
}

// RemoveGame removes a game from the user's library
func (s *Store) RemoveGame(ctx context.Context, userID uuid.UUID, gameID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_games WHERE user_id = ? AND game_id = ?`, userID.String(), gameID)
	if err != nil {
		return errors.InternalError("failed to remove game", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError(fmt.Sprintf("game %d in library of user %s", gameID, userID))
	}
	return nil
}

// ListGames returns the user's games in the order they were added
func (s *Store) ListGames(ctx context.Context, userID uuid.UUID) ([]catalog.CatalogEntry, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM user_games WHERE user_id = ? ORDER BY added_at, rowid`, userID.String())
	if err != nil {
		return nil, errors.InternalError("failed to list games", err)
	}
	defer rows.Close()

	games := []catalog.CatalogEntry{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.InternalError("failed to scan game", err)
		}
		var entry catalog.CatalogEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, errors.InternalError("stored game is not valid JSON", err)
		}
		games = append(games, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list games", err)
	}
	return games, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return stderrors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
