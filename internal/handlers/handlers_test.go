package handlers_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"playshelf/internal/catalog"
	"playshelf/internal/common/errors"
	"playshelf/internal/common/logging"
	"playshelf/internal/handlers"
	"playshelf/internal/library"
	"playshelf/internal/query"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Search(ctx context.Context, q query.SearchQuery) (*catalog.SearchResultPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.SearchResultPage), args.Error(1)
}

func (m *MockCatalog) GetEntry(ctx context.Context, id int64) (*catalog.CatalogEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CatalogEntry), args.Error(1)
}

type MockLibrary struct {
	mock.Mock
}

func (m *MockLibrary) CreateUser(ctx context.Context, in library.NewUser) (*library.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*library.User), args.Error(1)
}

func (m *MockLibrary) GetUser(ctx context.Context, id uuid.UUID) (*library.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*library.User), args.Error(1)
}

func (m *MockLibrary) AddGame(ctx context.Context, userID uuid.UUID, entry catalog.CatalogEntry) error {
	return m.Called(ctx, userID, entry).Error(0)
}

func (m *MockLibrary) RemoveGame(ctx context.Context, userID uuid.UUID, gameID int64) error {
	return m.Called(ctx, userID, gameID).Error(0)
}

func (m *MockLibrary) ListGames(ctx context.Context, userID uuid.UUID) ([]catalog.CatalogEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.CatalogEntry), args.Error(1)
}

type harness struct {
	catalog *MockCatalog
	library *MockLibrary
	router  *mux.Router
}

func newHarness(t *testing.T, checks map[string]handlers.HealthCheck) *harness {
	t.Helper()
	h := &harness{catalog: &MockCatalog{}, library: &MockLibrary{}, router: mux.NewRouter()}
	handlers.New(h.catalog, h.library, checks, logging.NewNopLogger()).Register(h.router)
	t.Cleanup(func() {
		h.catalog.AssertExpectations(t)
		h.library.AssertExpectations(t)
	})
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var zelda = catalog.CatalogEntry{ProviderID: 1025, Title: "Zelda", Platforms: []string{"NES"}}

func TestSearchGames(t *testing.T) {
	t.Run("parameters reach the gateway", func(t *testing.T) {
		h := newHarness(t, nil)
		want := query.SearchQuery{
			Term:            "zelda",
			Platforms:       []int64{18, 4},
			Genres:          []int64{31},
			ReleaseYearFrom: 1986,
			ReleaseYearTo:   1998,
			Offset:          20,
			Limit:           10,
			Sort:            query.SortRelevance,
		}
		h.catalog.On("Search", mock.Anything, want).
			Return(&catalog.SearchResultPage{Count: 1, Entries: []catalog.CatalogEntry{zelda}}, nil).Once()

		rec := h.do(http.MethodGet, "/games/search?query=zelda&platforms=18,4&genres=31&year_from=1986&year_to=1998&offset=20&limit=10", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		body := decode(t, rec)
		assert.EqualValues(t, 1, body["count"])
		games := body["games"].([]interface{})
		require.Len(t, games, 1)
		assert.Equal(t, "Zelda", games[0].(map[string]interface{})["name"])
	})

	t.Run("short q alias", func(t *testing.T) {
		h := newHarness(t, nil)
		h.catalog.On("Search", mock.Anything, mock.MatchedBy(func(q query.SearchQuery) bool {
			return q.Term == "mario"
		})).Return(&catalog.SearchResultPage{}, nil).Once()

		rec := h.do(http.MethodGet, "/games/search?q=mario", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 0, decode(t, rec)["count"])
	})

	t.Run("bad parameters are rejected before the gateway", func(t *testing.T) {
		cases := map[string]string{
			"/games/search":                            "query",
			"/games/search?query=%20":                  "query",
			"/games/search?query=x&platforms=a,b":      "platforms",
			"/games/search?query=x&genres=1,,2":        "genres",
			"/games/search?query=x&year_from=nineties": "year_from",
			"/games/search?query=x&limit=ten":          "limit",
			"/games/search?query=x&sort=random":        "sort",
		}
		for target, field := range cases {
			h := newHarness(t, nil)
			rec := h.do(http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
			body := decode(t, rec)
			assert.Equal(t, "validation", body["error"], target)
			assert.Equal(t, field, body["field"], target)
		}
	})

	t.Run("list without a term", func(t *testing.T) {
		h := newHarness(t, nil)
		h.catalog.On("Search", mock.Anything, query.SearchQuery{Sort: query.SortRatingDesc}).
			Return(&catalog.SearchResultPage{Count: 1, Entries: []catalog.CatalogEntry{zelda}}, nil).Once()

		rec := h.do(http.MethodGet, "/games?sort=rating_desc", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", errors.ValidationError("limit", "too large"), http.StatusBadRequest, "validation"},
		{"not found", errors.NotFoundError("game 7"), http.StatusNotFound, "not_found"},
		{"rate limit", errors.RateLimitError("games", 1500*time.Millisecond), http.StatusTooManyRequests, "rate_limit"},
		{"timeout", errors.TimeoutError("search", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"auth", errors.AuthError("bad credentials", nil), http.StatusBadGateway, "authentication"},
		{"parse", errors.ParseError("not an array", 200, "object"), http.StatusBadGateway, "parse"},
		{"upstream", errors.UpstreamError("provider failed", 503, nil), http.StatusBadGateway, "upstream"},
		{"canceled", errors.CanceledError("search", context.Canceled), handlers.StatusClientClosedRequest, "canceled"},
		{"plain error", stderrors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.catalog.On("GetEntry", mock.Anything, int64(7)).Return(nil, tc.err).Once()

			rec := h.do(http.MethodGet, "/games/7", "")
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.kind, body["error"])
			if tc.kind == "internal" {
				assert.NotContains(t, body["message"], "disk on fire")
			}
			if tc.kind == "rate_limit" {
				assert.Equal(t, "2", rec.Header().Get("Retry-After"))
				assert.EqualValues(t, 2, body["retry_after_seconds"])
			}
		})
	}
}

func TestGetGame(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.On("GetEntry", mock.Anything, int64(1025)).Return(&zelda, nil).Once()

	rec := h.do(http.MethodGet, "/games/1025", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1025, decode(t, rec)["id"])

	rec = h.do(http.MethodGet, "/games/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsers(t *testing.T) {
	id := uuid.New()
	user := &library.User{ID: id, Username: "samus", Name: "Samus Aran", CreatedAt: time.Now()}

	t.Run("create", func(t *testing.T) {
		h := newHarness(t, nil)
		in := library.NewUser{Username: "samus", Name: "Samus Aran"}
		h.library.On("CreateUser", mock.Anything, in).Return(user, nil).Once()

		rec := h.do(http.MethodPost, "/users", `{"username":"samus","name":"Samus Aran"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, id.String(), decode(t, rec)["id"])
	})

	t.Run("create rejects unknown fields", func(t *testing.T) {
		h := newHarness(t, nil)
		rec := h.do(http.MethodPost, "/users", `{"username":"samus","admin":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "body", decode(t, rec)["field"])
	})

	t.Run("get with malformed id", func(t *testing.T) {
		h := newHarness(t, nil)
		rec := h.do(http.MethodGet, "/users/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get missing", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("GetUser", mock.Anything, id).Return(nil, errors.NotFoundError("user")).Once()
		rec := h.do(http.MethodGet, "/users/"+id.String(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("add game resolves it through the catalog", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("GetUser", mock.Anything, id).Return(user, nil).Once()
		h.catalog.On("GetEntry", mock.Anything, int64(1025)).Return(&zelda, nil).Once()
		h.library.On("AddGame", mock.Anything, id, zelda).Return(nil).Once()

		rec := h.do(http.MethodPost, "/users/"+id.String()+"/games", `{"id":1025}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "Zelda", decode(t, rec)["name"])
	})

	t.Run("add unknown game stores nothing", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("GetUser", mock.Anything, id).Return(user, nil).Once()
		h.catalog.On("GetEntry", mock.Anything, int64(99)).Return(nil, errors.NotFoundError("game 99")).Once()

		rec := h.do(http.MethodPost, "/users/"+id.String()+"/games", `{"id":99}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		h.library.AssertNotCalled(t, "AddGame", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("add requires a positive id", func(t *testing.T) {
		h := newHarness(t, nil)
		rec := h.do(http.MethodPost, "/users/"+id.String()+"/games", `{"id":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("GetUser", mock.Anything, id).Return(user, nil).Once()
		h.library.On("ListGames", mock.Anything, id).Return([]catalog.CatalogEntry{zelda}, nil).Once()

		rec := h.do(http.MethodGet, "/users/"+id.String()+"/games", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode(t, rec)["count"])
	})

	t.Run("remove", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("RemoveGame", mock.Anything, id, int64(1025)).Return(nil).Once()
		rec := h.do(http.MethodDelete, "/users/"+id.String()+"/games/1025", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("remove missing", func(t *testing.T) {
		h := newHarness(t, nil)
		h.library.On("RemoveGame", mock.Anything, id, int64(5)).Return(errors.NotFoundError("game 5")).Once()
		rec := h.do(http.MethodDelete, "/users/"+id.String()+"/games/5", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := newHarness(t, map[string]handlers.HealthCheck{
			"library": func(context.Context) error { return nil },
		})
		rec := h.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode(t, rec)["status"])
	})

	t.Run("one failing dependency", func(t *testing.T) {
		h := newHarness(t, map[string]handlers.HealthCheck{
			"library": func(context.Context) error { return nil },
			"redis":   func(context.Context) error { return stderrors.New("connection refused") },
		})
		rec := h.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "unhealthy", body["components"].(map[string]interface{})["redis"])
	})
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = h.do(http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}
