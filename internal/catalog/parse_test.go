package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playshelf/internal/common/errors"
)

func TestShapeClass(t *testing.T) {
	tests := map[string]string{
		"":                ShapeEmpty,
		"  \n":            ShapeEmpty,
		`[]`:              ShapeArray,
		` [{"id":1}] `:    ShapeArray,
		`{"message":"x"}`: ShapeObject,
		`"text"`:          ShapeInvalid,
		`[{"id":`:         ShapeInvalid,
		`<html>`:          ShapeInvalid,
	}
	for body, want := range tests {
		assert.Equal(t, want, ShapeClass([]byte(body)), "body %q", body)
	}
}

func TestParseGames(t *testing.T) {
	body := `[
		{"id": 1942, "name": "The Witcher 3", "platforms": [6, 48], "genres": [12],
		 "first_release_date": 1431993600, "cover": {"id": 89386, "url": "//images.igdb.com/igdb/image/upload/t_thumb/co1wyy.jpg"},
		 "summary": "RPG", "total_rating": 93.5},
		{"id": 7346, "name": "Zelda"}
	]`

	games, err := ParseGames(200, []byte(body))
	require.NoError(t, err)
	require.Len(t, games, 2)

	assert.Equal(t, int64(1942), games[0].ID)
	assert.Equal(t, []int64{6, 48}, games[0].Platforms)
	assert.Equal(t, "//images.igdb.com/igdb/image/upload/t_thumb/co1wyy.jpg", games[0].Cover.URL)
	assert.Nil(t, games[1].Cover)

	empty, err := ParseGames(200, []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseGames_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape string
	}{
		{"not json", `<html>oops</html>`, ShapeInvalid},
		{"empty", ``, ShapeEmpty},
		{"object", `{"message":"bad"}`, ShapeObject},
		{"string id", `[{"id":"1942"}]`, ShapeArray},
		{"missing id", `[{"name":"x"}]`, ShapeArray},
		{"null element", `[null]`, ShapeArray},
		{"scalar element", `[1,2]`, ShapeArray},
		{"wrong platforms type", `[{"id":1,"platforms":"6"}]`, ShapeArray},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games, err := ParseGames(200, []byte(tt.body))
			assert.Nil(t, games)
			appErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrTypeParse, appErr.Type)
			assert.Equal(t, tt.shape, appErr.Context["shape"])
			assert.Equal(t, 200, appErr.Context["status"])
		})
	}
}

func TestParseReferences(t *testing.T) {
	refs, err := ParseReferences(200, []byte(`[{"id":6,"name":"PC (Microsoft Windows)"},{"id":48,"name":"PlayStation 4"}]`))
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{6: "PC (Microsoft Windows)", 48: "PlayStation 4"}, refs)

	_, err = ParseReferences(200, []byte(`[{"name":"no id"}]`))
	assert.True(t, errors.IsType(err, errors.ErrTypeParse))
}

func TestEntryNormalization(t *testing.T) {
	g := Game{
		ID:               1942,
		Name:             "The Witcher 3",
		Platforms:        []int64{6, 48, 99},
		Genres:           []int64{12},
		FirstReleaseDate: 1431993600,
		Cover:            &Cover{URL: "//images.igdb.com/x.jpg"},
		TotalRating:      93.5,
	}
	e := entry(g, map[int64]string{6: "PC", 48: "PS4"}, map[int64]string{12: "RPG"})

	assert.Equal(t, []string{"PC", "PS4"}, e.Platforms)
	assert.Equal(t, []string{"RPG"}, e.Genres)
	assert.Equal(t, "2015-05-19", e.ReleaseDate)
	assert.Equal(t, "https://images.igdb.com/x.jpg", e.CoverURL)
	assert.Equal(t, 93.5, e.Rating)

	bare := entry(Game{ID: 1}, nil, nil)
	assert.Empty(t, bare.ReleaseDate)
	assert.Empty(t, bare.CoverURL)
	assert.NotNil(t, bare.Platforms)
}
