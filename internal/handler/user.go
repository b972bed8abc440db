package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/service"
)

// UserHandler serves the self-service /users endpoints.
type UserHandler struct {
	service *service.UserService
	logger  *slog.Logger
}

func NewUserHandler(svc *service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// userResponse is the public representation of a user. The password hash
// and GitHub id are never included.
type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Snippets  []string  `json:"snippets"`
	Created   time.Time `json:"created"`
}

func toUserResponse(p *service.UserProfile) userResponse {
	ids := p.SnippetIDs
	if ids == nil {
		ids = []string{}
	}
	return userResponse{
		ID:        p.User.ID,
		Username:  p.User.Username,
		Email:     p.User.Email,
		FirstName: p.User.FirstName,
		LastName:  p.User.LastName,
		Snippets:  ids,
		Created:   p.User.CreatedAt,
	}
}

type userRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Password  *string `json:"password"`
}

// HandleCurrentUser returns the caller's own profile.
//
// HTTP: GET /current_user
func (h *UserHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := h.service.GetSelf(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(p))
}

// HandleList returns a list holding only the caller.
//
// HTTP: GET /users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	profiles, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]userResponse, 0, len(profiles))
	for i := range profiles {
		results = append(results, toUserResponse(&profiles[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

// HandleCreate always refuses; accounts are made through /register.
//
// HTTP: POST /users
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET")
	writeError(w, h.service.Create(r.Context()))
}

// HandleGet returns the caller's profile by id.
//
// HTTP: GET /users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(p))
}

// HandleUpdate changes the caller's profile.
//
// HTTP: PUT /users/{id}, PATCH /users/{id}
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.service.AuthorizeSelf(userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.service.UpdateSelf(r.Context(), userID, chi.URLParam(r, "id"), service.UserInput{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(p))
}

// HandleDelete removes the caller's account and all their snippets.
//
// HTTP: DELETE /users/{id}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.service.DeleteSelf(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
