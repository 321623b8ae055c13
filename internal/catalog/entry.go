// Package catalog turns provider game records into normalized catalog entries.
package catalog

import (
	"strings"
	"time"
)

// CatalogEntry is a normalized game record
type CatalogEntry struct {
	ProviderID  int64    `json:"id"`
	Title       string   `json:"name"`
	Platforms   []string `json:"platforms"`
	ReleaseDate string   `json:"first_release_date,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Genres      []string `json:"genres"`
	Rating      float64  `json:"rating,omitempty"`
}

// SearchResultPage is one page of search results as cached and returned
type SearchResultPage struct {
	Key     string         `json:"-"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Count   int            `json:"count"`
	Entries []CatalogEntry `json:"games"`
}

// Game is a provider game record with platform and genre references unresolved
type Game struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Platforms        []int64 `json:"platforms"`
	FirstReleaseDate int64   `json:"first_release_date"`
	Genres           []int64 `json:"genres"`
	Cover            *Cover  `json:"cover"`
	Summary          string  `json:"summary"`
	TotalRating      float64 `json:"total_rating"`
}

// Cover is the expanded cover reference
type Cover struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Reference is a platform or genre record
type Reference struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// releaseDate renders a unix timestamp as YYYY-MM-DD; zero means unknown.
func releaseDate(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// coverURL makes the provider's protocol-relative image URLs absolute.
func coverURL(c *Cover) string {
	if c == nil || c.URL == "" {
		return ""
	}
	if strings.HasPrefix(c.URL, "//") {
		return "https:" + c.URL
	}
	return c.URL
}

// entry builds the normalized record from g and resolved names. IDs without a
// name are left out.
func entry(g Game, platforms, genres map[int64]string) CatalogEntry {
	return CatalogEntry{
		ProviderID:  g.ID,
		Title:       g.Name,
		Platforms:   names(g.Platforms, platforms),
		ReleaseDate: releaseDate(g.FirstReleaseDate),
		CoverURL:    coverURL(g.Cover),
		Summary:     g.Summary,
		Genres:      names(g.Genres, genres),
		Rating:      g.TotalRating,
	}
}

func names(ids []int64, resolved map[int64]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := resolved[id]; ok {
			out = append(out, name)
		}
	}
	return out
}
