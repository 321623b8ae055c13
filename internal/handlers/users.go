package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"playshelf/internal/common/errors"
	"playshelf/internal/common/logging"
	"playshelf/internal/library"
)

const maxBodyBytes = 64 << 10

type addGameRequest struct {
	ID int64 `json:"id"`
}

// CreateUser registers a new user
// @Summary Create a user
// @Accept json
// @Produce json
// @Param user body library.NewUser true "User to create"
// @Success 201 {object} library.User
// @Failure 400 {object} errorBody
// @Router /users [post]
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in library.NewUser
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.library.CreateUser(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Info("User created",
		logging.String("user_id", user.ID.String()), logging.String("username", user.Username))
	writeJSON(w, http.StatusCreated, user)
}

// GetUser returns one user
// @Summary Get a user
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} library.User
// @Failure 404 {object} errorBody
// @Router /users/{id} [get]
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.library.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListUserGames returns a user's saved games, oldest first
// @Summary List a user's games
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} gamesBody
// @Router /users/{id}/games [get]
func (h *Handlers) ListUserGames(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.library.GetUser(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	games, err := h.library.ListGames(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gamesBody{Count: len(games), Games: games})
}

// AddUserGame looks a game up in the catalog and saves it to the user's library
// @Summary Add a game to a user's library
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param game body addGameRequest true "Provider game ID"
// @Success 201 {object} catalog.CatalogEntry
// @Failure 404 {object} errorBody
// @Router /users/{id}/games [post]
func (h *Handlers) AddUserGame(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var in addGameRequest
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.ID <= 0 {
		h.writeError(w, r, errors.ValidationError("id", "must be a positive integer"))
		return
	}

	if _, err := h.library.GetUser(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.catalog.GetEntry(r.Context(), in.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.library.AddGame(r.Context(), id, *entry); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// RemoveUserGame deletes a game from the user's library
// @Summary Remove a game from a user's library
// @Param id path string true "User ID"
// @Param gameID path int true "Provider game ID"
// @Success 204
// @Failure 404 {object} errorBody
// @Router /users/{id}/games/{gameID} [delete]
func (h *Handlers) RemoveUserGame(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	gameID, err := parseInt(mux.Vars(r)["gameID"], "gameID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.library.RemoveGame(r.Context(), id, int64(gameID)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.ValidationError("id", "must be a UUID")
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError("body", "invalid JSON body").WithCause(err)
	}
	return nil
}
