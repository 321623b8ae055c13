package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"playshelf/internal/common/errors"
)

// Shape classes describe a response body without exposing it
const (
	ShapeEmpty   = "empty"
	ShapeArray   = "array"
	ShapeObject  = "object"
	ShapeInvalid = "invalid"
)

// ShapeClass classifies body for logging
func ShapeClass(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return ShapeEmpty
	case !json.Valid(trimmed):
		return ShapeInvalid
	case trimmed[0] == '[':
		return ShapeArray
	case trimmed[0] == '{':
		return ShapeObject
	}
	return ShapeInvalid
}

// ParseGames decodes a games response. Anything other than an array of
// records with a positive numeric id is a parse error; no partial result is
// returned.
func ParseGames(status int, body []byte) ([]Game, error) {
	raw, err := records(status, body)
	if err != nil {
		return nil, err
	}

	games := make([]Game, len(raw))
	for i, r := range raw {
		if err := decodeRecord(r, &games[i]); err != nil {
			return nil, errors.ParseError(fmt.Sprintf("game record %d: %v", i, err), status, ShapeArray)
		}
		if games[i].ID <= 0 {
			return nil, errors.ParseError(fmt.Sprintf("game record %d has no id", i), status, ShapeArray)
		}
	}
	return games, nil
}

// ParseReferences decodes a platforms or genres response into an id to name map
func ParseReferences(status int, body []byte) (map[int64]string, error) {
	raw, err := records(status, body)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(raw))
	for i, r := range raw {
		var ref Reference
		if err := decodeRecord(r, &ref); err != nil {
			return nil, errors.ParseError(fmt.Sprintf("reference record %d: %v", i, err), status, ShapeArray)
		}
		if ref.ID <= 0 {
			return nil, errors.ParseError(fmt.Sprintf("reference record %d has no id", i), status, ShapeArray)
		}
		out[ref.ID] = ref.Name
	}
	return out, nil
}

func records(status int, body []byte) ([]json.RawMessage, error) {
	shape := ShapeClass(body)
	if shape != ShapeArray {
		return nil, errors.ParseError("expected a JSON array of records", status, shape)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.ParseError("expected a JSON array of records", status, shape)
	}
	return raw, nil
}

// decodeRecord requires an object; null or scalar elements are rejected.
func decodeRecord(r json.RawMessage, dst interface{}) error {
	trimmed := bytes.TrimSpace(r)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("not an object")
	}
	return json.Unmarshal(trimmed, dst)
}
