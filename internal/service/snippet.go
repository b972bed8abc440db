// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces ownership, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// Services take the authenticated principal (a user ID) as an explicit
// argument. Every method that returns or mutates a record checks it through
// the access package first; nothing relies on query scoping alone.
//
// Services return apperror values and never know about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/snipshare/internal/access"
	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/highlight"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
	"github.com/sakif/snipshare/internal/review"
	"github.com/sakif/snipshare/internal/share"
)

// Validation and pagination limits.
const (
	MaxTitleLength          = 100
	MaxSharedPasswordLength = 50
	MaxCodeLength           = 100000 // ~100KB of code
	DefaultListLimit        = 20
	MaxListLimit            = 100
)

// Highlighter renders code to an HTML document. *highlight.Highlighter
// is the production implementation.
type Highlighter interface {
	Render(code, language, style string, linenos bool) (string, error)
	Supports(language, style string) (languageOK, styleOK bool)
	Languages() []string
	Styles() []string
}

// Reviewer produces an AI review. It never fails; errors come back as text.
type Reviewer interface {
	Review(ctx context.Context, code string) string
}

// RenderDefaults are applied when a snippet is created without them.
type RenderDefaults struct {
	Language string
	Style    string
}

// SnippetInput carries the client-writable fields of a snippet.
// A nil field means "not provided": Create applies a default, Update
// leaves the stored value alone.
type SnippetInput struct {
	Title          *string
	Code           *string
	Language       *string
	Style          *string
	LineNos        *bool
	SharedPassword *string
}

// snippetFields is the merged result that gets validated.
type snippetFields struct {
	Title          string `json:"title" validate:"max=100"`
	Code           string `json:"code" validate:"required,max=100000"`
	Language       string `json:"language" validate:"required"`
	Style          string `json:"style" validate:"required"`
	SharedPassword string `json:"shared_password" validate:"max=50"`
}

// SnippetPage is one page of an owner's snippets.
type SnippetPage struct {
	Snippets []model.Snippet
	Total    int
	Limit    int
	Offset   int
}

// ReviewResult is the AI review in its raw Markdown and rendered forms.
type ReviewResult struct {
	Review string
	HTML   string
}

// Choices lists the language and style names a snippet may use.
type Choices struct {
	Languages []string `json:"languages"`
	Styles    []string `json:"styles"`
}

// SnippetService handles business logic for code snippets.
type SnippetService struct {
	repo      repository.SnippetRepository
	hl        Highlighter
	reviewer  Reviewer
	defaults  RenderDefaults
	genSecret func() (string, error)
	logger    *slog.Logger
}

// NewSnippetService creates a SnippetService. Empty defaults fall back to
// model.DefaultLanguage and model.DefaultStyle.
func NewSnippetService(
	repo repository.SnippetRepository,
	hl Highlighter,
	reviewer Reviewer,
	defaults RenderDefaults,
	logger *slog.Logger,
) *SnippetService {
	if defaults.Language == "" {
		defaults.Language = model.DefaultLanguage
	}
	if defaults.Style == "" {
		defaults.Style = model.DefaultStyle
	}
	return &SnippetService{
		repo:      repo,
		hl:        hl,
		reviewer:  reviewer,
		defaults:  defaults,
		genSecret: share.Generate,
		logger:    logger,
	}
}

// List returns one page of the principal's own snippets, oldest first.
func (s *SnippetService) List(ctx context.Context, principal string, limit, offset int) (*SnippetPage, error) {
	if principal == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	snippets, err := s.repo.ListByOwner(ctx, principal, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list snippets", slog.String("owner", principal), slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing snippets: %w", err)
	}

	total, err := s.repo.CountByOwner(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("counting snippets: %w", err)
	}

	return &SnippetPage{Snippets: snippets, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns a snippet the principal owns. A snippet owned by someone
// else is reported exactly like a missing one.
func (s *SnippetService) Get(ctx context.Context, principal, id string) (*model.Snippet, error) {
	snippet, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !access.CanAccessSnippet(principal, snippet) {
		return nil, apperror.NotFound("snippet", id)
	}
	return snippet, nil
}

// Create validates, renders and stores a new snippet owned by principal.
//
// A shared password is generated when the caller did not supply a
// non-blank one. Rendering happens before the INSERT, so a bad language
// or style never leaves a half-saved row behind.
func (s *SnippetService) Create(ctx context.Context, principal string, in SnippetInput) (*model.Snippet, error) {
	if principal == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	snippet := &model.Snippet{
		Language: s.defaults.Language,
		Style:    s.defaults.Style,
		OwnerID:  principal,
	}
	applySnippetInput(snippet, in)

	if snippet.SharedPassword == nil {
		secret, err := s.genSecret()
		if err != nil {
			return nil, fmt.Errorf("generating shared password: %w", err)
		}
		snippet.SharedPassword = &secret
	}

	if err := s.validate(snippet); err != nil {
		return nil, err
	}

	if err := s.render(snippet); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, snippet); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("snippet owner no longer exists", slog.String("owner", principal))
			return nil, apperror.Unauthorized("user no longer exists")
		}
		s.logger.Error("failed to create snippet",
			slog.String("owner", principal),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("owner", principal),
		slog.String("language", snippet.Language),
	)
	return snippet, nil
}

// Authorize reports whether principal may modify the snippet: NotFound
// when it does not exist, Forbidden when someone else owns it. Handlers
// call it before reading the request body, so a non-owner is refused
// whatever the body holds.
func (s *SnippetService) Authorize(ctx context.Context, principal, id string) error {
	snippet, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !access.CanAccessSnippet(principal, snippet) {
		s.logger.Warn("snippet write denied", slog.String("id", id), slog.String("principal", principal))
		return apperror.Forbidden("you do not have permission to modify this snippet")
	}
	return nil
}

// Update applies the provided fields to a snippet the principal owns.
//
// Ownership is checked before the payload is looked at, so a non-owner
// gets 403 even for an invalid body. The markup is only re-rendered when
// one of its inputs (code, language, style, linenos) actually changed.
func (s *SnippetService) Update(ctx context.Context, principal, id string, in SnippetInput) (*model.Snippet, error) {
	snippet, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !access.CanAccessSnippet(principal, snippet) {
		s.logger.Warn("snippet update denied", slog.String("id", id), slog.String("principal", principal))
		return nil, apperror.Forbidden("you do not have permission to modify this snippet")
	}

	before := *snippet
	applySnippetInput(snippet, in)

	if err := s.validate(snippet); err != nil {
		return nil, err
	}

	if snippet.Code != before.Code ||
		snippet.Language != before.Language ||
		snippet.Style != before.Style ||
		snippet.LineNos != before.LineNos {
		if err := s.render(snippet); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, snippet); err != nil {
		s.logger.Error("failed to update snippet",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating snippet: %w", err)
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID))
	return snippet, nil
}

// Delete removes a snippet the principal owns.
func (s *SnippetService) Delete(ctx context.Context, principal, id string) error {
	snippet, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !access.CanAccessSnippet(principal, snippet) {
		s.logger.Warn("snippet delete denied", slog.String("id", id), slog.String("principal", principal))
		return apperror.Forbidden("you do not have permission to delete this snippet")
	}

	if err := s.repo.Delete(ctx, snippet.ID); err != nil {
		return err
	}

	s.logger.Info("snippet deleted", slog.String("id", snippet.ID))
	return nil
}

// GetShared opens a snippet through its public identifier.
//
// principal may be empty: shared links work without an account. The owner
// never needs the password; everyone else must present it.
func (s *SnippetService) GetShared(ctx context.Context, principal, publicID, secret string) (*model.Snippet, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(publicID))
	if err != nil {
		return nil, apperror.NotFound("snippet", publicID)
	}

	snippet, err := s.repo.GetByUUID(ctx, parsed.String())
	if err != nil {
		return nil, err
	}

	if err := access.CheckSharedSecret(principal, snippet, secret); err != nil {
		if errors.Is(err, apperror.ErrForbidden) {
			s.logger.Warn("snippet shared access denied", slog.String("uuid", snippet.UUID))
		}
		return nil, err
	}

	s.logger.Info("snippet shared access", slog.String("uuid", snippet.UUID))
	return snippet, nil
}

// Highlighted returns the stored HTML document of a snippet the principal owns.
func (s *SnippetService) Highlighted(ctx context.Context, principal, id string) (string, error) {
	snippet, err := s.Get(ctx, principal, id)
	if err != nil {
		return "", err
	}
	return snippet.Highlighted, nil
}

// Review asks the AI reviewer about a snippet the principal owns.
//
// Ownership is checked explicitly after the lookup. The reviewer's answer
// (including its "Error..." strings) is returned as is; only the Markdown
// rendering can fail, and then the HTML is left empty.
func (s *SnippetService) Review(ctx context.Context, principal, id string) (*ReviewResult, error) {
	snippet, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !access.CanAccessSnippet(principal, snippet) {
		s.logger.Warn("snippet review denied", slog.String("id", id), slog.String("principal", principal))
		return nil, apperror.Forbidden("only the owner can request a review of this snippet")
	}

	text := s.reviewer.Review(ctx, snippet.Code)

	html, err := review.RenderHTML(text)
	if err != nil {
		s.logger.Warn("failed to render review markdown", slog.String("error", err.Error()))
		html = ""
	}

	return &ReviewResult{Review: text, HTML: html}, nil
}

// Choices returns the language and style names accepted on snippets.
func (s *SnippetService) Choices() Choices {
	return Choices{Languages: s.hl.Languages(), Styles: s.hl.Styles()}
}

// applySnippetInput copies the provided fields onto snippet. A blank
// shared password is treated as not provided: it never clears the
// stored one.
func applySnippetInput(snippet *model.Snippet, in SnippetInput) {
	if in.Title != nil {
		snippet.Title = strings.TrimSpace(*in.Title)
	}
	if in.Code != nil {
		snippet.Code = *in.Code
	}
	if in.Language != nil {
		snippet.Language = strings.TrimSpace(*in.Language)
	}
	if in.Style != nil {
		snippet.Style = strings.TrimSpace(*in.Style)
	}
	if in.LineNos != nil {
		snippet.LineNos = *in.LineNos
	}
	if in.SharedPassword != nil {
		if secret := strings.TrimSpace(*in.SharedPassword); secret != "" {
			snippet.SharedPassword = &secret
		}
	}
}

// validate checks the merged snippet. Language and style are checked
// against the highlighter so the error lands on the right field.
func (s *SnippetService) validate(snippet *model.Snippet) error {
	fields := snippetFields{
		Title:    snippet.Title,
		Code:     snippet.Code,
		Language: snippet.Language,
		Style:    snippet.Style,
	}
	if snippet.SharedPassword != nil {
		fields.SharedPassword = *snippet.SharedPassword
	}

	extra := map[string]string{}
	langOK, styleOK := s.hl.Supports(snippet.Language, snippet.Style)
	if snippet.Language != "" && !langOK {
		extra["language"] = fmt.Sprintf("%q is not a valid choice.", snippet.Language)
	}
	if snippet.Style != "" && !styleOK {
		extra["style"] = fmt.Sprintf("%q is not a valid choice.", snippet.Style)
	}

	return validateStruct(fields, extra)
}

// render refreshes snippet.Highlighted. Unknown tags become field errors.
func (s *SnippetService) render(snippet *model.Snippet) error {
	out, err := s.hl.Render(snippet.Code, snippet.Language, snippet.Style, snippet.LineNos)
	if err != nil {
		switch {
		case errors.Is(err, highlight.ErrUnknownLanguage):
			return apperror.ValidationFailed("language", fmt.Sprintf("%q is not a valid choice.", snippet.Language))
		case errors.Is(err, highlight.ErrUnknownStyle):
			return apperror.ValidationFailed("style", fmt.Sprintf("%q is not a valid choice.", snippet.Style))
		}
		return fmt.Errorf("rendering snippet: %w", err)
	}
	snippet.Highlighted = out
	return nil
}
