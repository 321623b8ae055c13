package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playshelf/internal/catalog"
	"playshelf/internal/common/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, NewUser{Username: "hyunjaemoon", Name: "Hyun Jae Moon's Library", Description: "Games played"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "hyunjaemoon", got.Username)
	assert.Equal(t, "Games played", got.Description)

	_, err = s.GetUser(ctx, uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestCreateUser_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    NewUser
		field string
	}{
		{"missing username", NewUser{Name: "x"}, "username"},
		{"bad characters", NewUser{Username: "no spaces", Name: "x"}, "username"},
		{"too short", NewUser{Username: "ab", Name: "x"}, "username"},
		{"missing name", NewUser{Username: "player1"}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.in)
			appErr, ok := errors.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, errors.ErrTypeValidation, appErr.Type)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	_, err := s.CreateUser(ctx, NewUser{Username: "player1", Name: "One"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, NewUser{Username: "player1", Name: "Two"})
	appErr, ok := errors.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "username", appErr.Field)
}

func TestLibraryGames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, NewUser{Username: "player1", Name: "One"})
	require.NoError(t, err)

	botw := catalog.CatalogEntry{ProviderID: 7346, Title: "The Legend of Zelda: Breath of the Wild",
		Platforms: []string{"Wii U", "Nintendo Switch"}, Genres: []string{"Adventure"}}
	p5 := catalog.CatalogEntry{ProviderID: 9927, Title: "Persona 5", Platforms: []string{"PlayStation 4"}, Genres: []string{"Role-playing (RPG)"}}

	require.NoError(t, s.AddGame(ctx, user.ID, botw))
	require.NoError(t, s.AddGame(ctx, user.ID, p5))

	games, err := s.ListGames(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, botw, games[0])
	assert.Equal(t, p5, games[1])

	// Re-adding refreshes the snapshot without duplicating it
	botw.Summary = "updated"
	require.NoError(t, s.AddGame(ctx, user.ID, botw))
	games, err = s.ListGames(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "updated", games[0].Summary)

	require.NoError(t, s.RemoveGame(ctx, user.ID, botw.ProviderID))
	err = s.RemoveGame(ctx, user.ID, botw.ProviderID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	games, err = s.ListGames(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []catalog.CatalogEntry{p5}, games)
}

func TestLibraryGames_UnknownUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.AddGame(ctx, uuid.New(), catalog.CatalogEntry{ProviderID: 1})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = s.ListGames(ctx, uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	user, err := s.CreateUser(ctx, NewUser{Username: "player1", Name: "One"})
	require.NoError(t, err)
	err = s.AddGame(ctx, user.ID, catalog.CatalogEntry{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	games, err := s.ListGames(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.NotNil(t, games)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	user, err := s.CreateUser(ctx, NewUser{Username: "player1", Name: "One"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "player1", got.Username)
	assert.NoError(t, s.Ping(ctx))
}
