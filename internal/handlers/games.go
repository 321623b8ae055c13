package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"playshelf/internal/common/errors"
	"playshelf/internal/common/logging"
	"playshelf/internal/query"
)

// ListGames returns the first page of the catalog with no search term
// @Summary List games
// @Produce json
// @Param offset query int false "Result offset"
// @Param limit query int false "Page size"
// @Param sort query string false "relevance, release_date_asc, release_date_desc or rating_desc"
// @Success 200 {object} gamesBody
// @Router /games [get]
func (h *Handlers) ListGames(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, false)
}

// SearchGames runs a filtered catalog search
// @Summary Search games
// @Produce json
// @Param query query string true "Search term"
// @Param platforms query string false "Comma-separated platform IDs"
// @Param genres query string false "Comma-separated genre IDs"
// @Param year_from query int false "Earliest release year, inclusive"
// @Param year_to query int false "Latest release year, inclusive"
// @Param offset query int false "Result offset"
// @Param limit query int false "Page size"
// @Param sort query string false "relevance, release_date_asc, release_date_desc or rating_desc"
// @Success 200 {object} gamesBody
// @Failure 400 {object} errorBody
// @Failure 429 {object} errorBody
// @Failure 502 {object} errorBody
// @Router /games/search [get]
func (h *Handlers) SearchGames(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, true)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request, withTerm bool) {
	q, err := parseSearchQuery(r, withTerm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.catalog.Search(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Debug("Search served",
		logging.Int("count", page.Count), logging.Int("offset", page.Offset))
	writeJSON(w, http.StatusOK, gamesBody{Count: page.Count, Games: page.Entries})
}

// GetGame returns one catalog entry by provider ID
// @Summary Get a game
// @Produce json
// @Param id path int true "Provider game ID"
// @Success 200 {object} catalog.CatalogEntry
// @Failure 404 {object} errorBody
// @Router /games/{id} [get]
func (h *Handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.ValidationError("id", "must be a positive integer"))
		return
	}

	entry, err := h.catalog.GetEntry(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// parseSearchQuery reads the URL parameters into a SearchQuery. Range and
// combination checks are left to the translator.
func parseSearchQuery(r *http.Request, withTerm bool) (query.SearchQuery, error) {
	values := r.URL.Query()
	var q query.SearchQuery

	if withTerm {
		q.Term = values.Get("query")
		if q.Term == "" {
			q.Term = values.Get("q")
		}
		if strings.TrimSpace(q.Term) == "" {
			return q, errors.ValidationError("query", "search term is required")
		}
	}

	var err error
	if q.Platforms, err = parseIDs(values.Get("platforms"), "platforms"); err != nil {
		return q, err
	}
	if q.Genres, err = parseIDs(values.Get("genres"), "genres"); err != nil {
		return q, err
	}
	if q.ReleaseYearFrom, err = parseInt(values.Get("year_from"), "year_from"); err != nil {
		return q, err
	}
	if q.ReleaseYearTo, err = parseInt(values.Get("year_to"), "year_to"); err != nil {
		return q, err
	}
	if q.Offset, err = parseInt(values.Get("offset"), "offset"); err != nil {
		return q, err
	}
	if q.Limit, err = parseInt(values.Get("limit"), "limit"); err != nil {
		return q, err
	}

	sort, ok := query.ParseSort(values.Get("sort"))
	if !ok {
		return q, errors.ValidationError("sort", "unknown sort order")
	}
	q.Sort = sort
	return q, nil
}

func parseInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(field, "must be an integer")
	}
	return n, nil
}

func parseIDs(raw, field string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.ValidationError(field, "must be a comma-separated list of integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
