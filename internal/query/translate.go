package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"playshelf/internal/common/errors"
)

const (
	DefaultLimit = 10
	MaxLimit     = 500
	// MaxOffset is the deepest page the provider will serve
	MaxOffset = 10000

	MinReleaseYear = 1950
	MaxReleaseYear = 2100

	MaxTermLength = 255
)

// GameFields are requested for every game record
var GameFields = []string{
	"name",
	"platforms",
	"first_release_date",
	"genres",
	"cover.url",
	"summary",
	"total_rating",
}

// Translate validates q and renders its canonical provider body.
func Translate(q SearchQuery) (TranslatedQuery, error) {
	term, err := canonicalTerm(q.Term)
	if err != nil {
		return TranslatedQuery{}, err
	}

	sortOrder, ok := ParseSort(string(q.Sort))
	if !ok {
		return TranslatedQuery{}, errors.ValidationError("sort",
			fmt.Sprintf("unsupported sort %q", q.Sort))
	}
	// The provider refuses sort together with search
	if term != "" && sortOrder != SortRelevance {
		return TranslatedQuery{}, errors.ValidationError("sort",
			"only relevance ordering can be combined with a search term")
	}

	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return TranslatedQuery{}, errors.ValidationError("limit",
			fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	if q.Offset < 0 {
		return TranslatedQuery{}, errors.ValidationError("offset", "offset must not be negative")
	}
	if q.Offset > MaxOffset {
		return TranslatedQuery{}, errors.ValidationError("offset",
			fmt.Sprintf("offset must not exceed %d", MaxOffset))
	}

	platforms, err := canonicalIDs("platforms", q.Platforms)
	if err != nil {
		return TranslatedQuery{}, err
	}
	genres, err := canonicalIDs("genres", q.Genres)
	if err != nil {
		return TranslatedQuery{}, err
	}
	if err := validateYears(q.ReleaseYearFrom, q.ReleaseYearTo); err != nil {
		return TranslatedQuery{}, err
	}

	var conditions []string
	if len(platforms) > 0 {
		conditions = append(conditions, "platforms = "+idList(platforms))
	}
	if len(genres) > 0 {
		conditions = append(conditions, "genres = "+idList(genres))
	}
	if q.ReleaseYearFrom != 0 {
		conditions = append(conditions, "first_release_date >= "+yearStart(q.ReleaseYearFrom))
	}
	if q.ReleaseYearTo != 0 {
		conditions = append(conditions, "first_release_date < "+yearStart(q.ReleaseYearTo+1))
	}

	var b strings.Builder
	if term != "" {
		fmt.Fprintf(&b, "search \"%s\"; ", term)
	}
	fmt.Fprintf(&b, "fields %s;", strings.Join(GameFields, ","))
	if len(conditions) > 0 {
		fmt.Fprintf(&b, " where %s;", strings.Join(conditions, " & "))
	}
	if c := sortOrder.clause(); c != "" {
		fmt.Fprintf(&b, " sort %s;", c)
	}
	fmt.Fprintf(&b, " limit %d; offset %d;", limit, q.Offset)

	return TranslatedQuery{
		Endpoint: EndpointGames,
		Body:     b.String(),
		Offset:   q.Offset,
		Limit:    limit,
	}, nil
}

// TranslateLookup renders the body fetching a single game by provider ID.
func TranslateLookup(id int64) (TranslatedQuery, error) {
	if id <= 0 {
		return TranslatedQuery{}, errors.ValidationError("id", "game id must be positive")
	}
	return TranslatedQuery{
		Endpoint: EndpointGames,
		Body:     fmt.Sprintf("fields %s; where id = %d; limit 1;", strings.Join(GameFields, ","), id),
		Limit:    1,
	}, nil
}

// TranslateReference renders the body resolving platform or genre IDs to names.
func TranslateReference(endpoint Endpoint, ids []int64) (TranslatedQuery, error) {
	if endpoint != EndpointPlatforms && endpoint != EndpointGenres {
		return TranslatedQuery{}, errors.ValidationError("endpoint",
			fmt.Sprintf("%q is not a reference resource", endpoint))
	}
	canonical, err := canonicalIDs("ids", ids)
	if err != nil {
		return TranslatedQuery{}, err
	}
	if len(canonical) == 0 {
		return TranslatedQuery{}, errors.ValidationError("ids", "at least one id is required")
	}
	if len(canonical) > MaxLimit {
		return TranslatedQuery{}, errors.ValidationError("ids",
			fmt.Sprintf("at most %d ids per lookup", MaxLimit))
	}
	return TranslatedQuery{
		Endpoint: endpoint,
		Body:     fmt.Sprintf("fields name; where id = %s; limit %d;", idList(canonical), len(canonical)),
		Limit:    len(canonical),
	}, nil
}

// canonicalTerm trims, collapses whitespace, lowercases and escapes the term.
func canonicalTerm(term string) (string, error) {
	if !utf8.ValidString(term) {
		return "", errors.ValidationError("term", "term must be valid UTF-8")
	}
	term = strings.ToLower(strings.Join(strings.Fields(term), " "))
	if utf8.RuneCountInString(term) > MaxTermLength {
		return "", errors.ValidationError("term",
			fmt.Sprintf("term must not exceed %d characters", MaxTermLength))
	}
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, `"`, `\"`)
	return term, nil
}

// canonicalIDs returns a sorted copy of ids without duplicates.
func canonicalIDs(field string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, errors.ValidationError(field, fmt.Sprintf("id %d is not positive", id))
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func validateYears(from, to int) error {
	for _, y := range []struct {
		field string
		year  int
	}{{"release_year_from", from}, {"release_year_to", to}} {
		if y.year != 0 && (y.year < MinReleaseYear || y.year > MaxReleaseYear) {
			return errors.ValidationError(y.field,
				fmt.Sprintf("year must be between %d and %d", MinReleaseYear, MaxReleaseYear))
		}
	}
	if from != 0 && to != 0 && from > to {
		return errors.ValidationError("release_year_from", "release_year_from is after release_year_to")
	}
	return nil
}

func idList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func yearStart(year int) string {
	return strconv.FormatInt(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix(), 10)
}
