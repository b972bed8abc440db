package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/service"
)

// SnippetHandler serves the /snippets endpoints.
//
// HANDLER RESPONSIBILITIES:
// Parse the request, hand the principal and input to the service, and
// shape the result. Ownership and validation live in the service.
type SnippetHandler struct {
	service *service.SnippetService
	logger  *slog.Logger
}

func NewSnippetHandler(svc *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{service: svc, logger: logger}
}

// snippetRequest is the writable part of a snippet. Pointer fields tell
// "absent" apart from "empty", so PUT and PATCH can both be partial.
type snippetRequest struct {
	Title          *string `json:"title"`
	Code           *string `json:"code"`
	Language       *string `json:"language"`
	Style          *string `json:"style"`
	LineNos        *bool   `json:"linenos"`
	SharedPassword *string `json:"shared_password"`
}

func (req snippetRequest) input() service.SnippetInput {
	return service.SnippetInput{
		Title:          req.Title,
		Code:           req.Code,
		Language:       req.Language,
		Style:          req.Style,
		LineNos:        req.LineNos,
		SharedPassword: req.SharedPassword,
	}
}

// snippetResponse is the public representation of a snippet.
type snippetResponse struct {
	ID             string    `json:"id"`
	UUID           string    `json:"uuid"`
	Title          string    `json:"title"`
	Code           string    `json:"code"`
	LineNos        bool      `json:"linenos"`
	Language       string    `json:"language"`
	Style          string    `json:"style"`
	Owner          string    `json:"owner"`
	Highlight      string    `json:"highlight"`
	SharedPassword *string   `json:"shared_password"`
	Created        time.Time `json:"created"`
}

func toSnippetResponse(s *model.Snippet) snippetResponse {
	return snippetResponse{
		ID:             s.ID,
		UUID:           s.UUID,
		Title:          s.Title,
		Code:           s.Code,
		LineNos:        s.LineNos,
		Language:       s.Language,
		Style:          s.Style,
		Owner:          s.OwnerUsername,
		Highlight:      "/snippets/" + s.ID + "/highlight",
		SharedPassword: s.SharedPassword,
		Created:        s.CreatedAt,
	}
}

type snippetListResponse struct {
	Count   int               `json:"count"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	Results []snippetResponse `json:"results"`
}

// HandleList returns one page of the caller's snippets.
//
// HTTP: GET /snippets?limit=&offset=
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := snippetListResponse{
		Count:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		Results: make([]snippetResponse, 0, len(page.Snippets)),
	}
	for i := range page.Snippets {
		resp.Results = append(resp.Results, toSnippetResponse(&page.Snippets[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleChoices lists the accepted language and style names.
//
// HTTP: GET /snippets/choices
func (h *SnippetHandler) HandleChoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Choices())
}

// HandleCreate stores a new snippet owned by the caller.
//
// HTTP: POST /snippets
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid snippet JSON", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	snippet, err := h.service.Create(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnippetResponse(snippet))
}

// HandleGet returns one of the caller's snippets.
//
// HTTP: GET /snippets/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	snippet, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnippetResponse(snippet))
}

// HandleUpdate applies the fields present in the body. Ownership is
// settled before the body is decoded.
//
// HTTP: PUT /snippets/{id}, PATCH /snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.service.Authorize(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnippetResponse(snippet))
}

// HandleDelete removes one of the caller's snippets.
//
// HTTP: DELETE /snippets/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHighlight serves the stored highlighted document as is.
//
// HTTP: GET /snippets/{id}/highlight
func (h *SnippetHandler) HandleHighlight(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	html, err := h.service.Highlighted(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(html)); err != nil {
		h.logger.Error("failed to write highlight", slog.String("error", err.Error()))
	}
}

// HandleReviewInfo tells a client how to request a review.
//
// HTTP: GET /snippets/{id}/review
func (h *SnippetHandler) HandleReviewInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Send a POST request to this URL to get an AI review of the snippet.",
	})
}

type reviewResponse struct {
	Review     string `json:"review"`
	ReviewHTML string `json:"review_html"`
}

// HandleReview asks the AI reviewer about one of the caller's snippets.
// A reviewer failure still returns 200: its text explains what went wrong.
//
// HTTP: POST /snippets/{id}/review
func (h *SnippetHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	res, err := h.service.Review(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{Review: res.Review, ReviewHTML: res.HTML})
}

// HandleShared opens a snippet through its public link. The password may
// come as JSON or as a form field; the caller need not be logged in.
//
// HTTP: POST /snippets/shared/{uuid}
func (h *SnippetHandler) HandleShared(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	secret, err := sharedPassword(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.service.GetShared(r.Context(), userID, chi.URLParam(r, "uuid"), secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnippetResponse(snippet))
}

func sharedPassword(w http.ResponseWriter, r *http.Request) (string, error) {
	if isForm(r) {
		if err := parseForm(w, r); err != nil {
			return "", err
		}
		return r.PostFormValue("password"), nil
	}

	var body struct {
		Password *string `json:"password"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return "", err
	}
	if body.Password == nil {
		return "", nil
	}
	return *body.Password, nil
}
