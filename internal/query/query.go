// Package query translates structured game searches into the provider's
// query language.
//
// Translation is pure and canonical: two logically equal queries produce
// byte-identical bodies, and the body doubles as the response cache key.
// Unsupported combinations are rejected with a validation error naming the
// offending field instead of being dropped.
package query

import (
	"fmt"
	"strings"
)

// Sort is the result ordering of a search
type Sort string

const (
	SortRelevance       Sort = "relevance"
	SortReleaseDateAsc  Sort = "release_date_asc"
	SortReleaseDateDesc Sort = "release_date_desc"
	SortRatingDesc      Sort = "rating_desc"
)

// ParseSort maps a user-supplied value onto the enumeration. The empty string
// means relevance.
func ParseSort(s string) (Sort, bool) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortRelevance:
		return SortRelevance, true
	case SortReleaseDateAsc:
		return SortReleaseDateAsc, true
	case SortReleaseDateDesc:
		return SortReleaseDateDesc, true
	case SortRatingDesc:
		return SortRatingDesc, true
	}
	return Sort(s), false
}

// clause returns the provider sort clause; relevance has none.
func (s Sort) clause() string {
	switch s {
	case SortReleaseDateAsc:
		return "first_release_date asc"
	case SortReleaseDateDesc:
		return "first_release_date desc"
	case SortRatingDesc:
		return "total_rating desc"
	}
	return ""
}

// SearchQuery is a structured game search. The zero value lists the first
// page of games in relevance order.
type SearchQuery struct {
	Term            string  `json:"term,omitempty"`
	Platforms       []int64 `json:"platforms,omitempty"`
	Genres          []int64 `json:"genres,omitempty"`
	ReleaseYearFrom int     `json:"release_year_from,omitempty"`
	ReleaseYearTo   int     `json:"release_year_to,omitempty"`
	Offset          int     `json:"offset,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Sort            Sort    `json:"sort,omitempty"`
}

// Endpoint is a provider resource
type Endpoint string

const (
	EndpointGames     Endpoint = "games"
	EndpointPlatforms Endpoint = "platforms"
	EndpointGenres    Endpoint = "genres"
)

// TranslatedQuery is a request body for one provider endpoint
type TranslatedQuery struct {
	Endpoint Endpoint
	Body     string
	// Offset and Limit echo the effective pagination
	Offset int
	Limit  int
}

// Key is the cache key of the query
func (t TranslatedQuery) Key() string {
	return string(t.Endpoint) + "|" + t.Body
}

func (t TranslatedQuery) String() string {
	return fmt.Sprintf("%s: %s", t.Endpoint, t.Body)
}
