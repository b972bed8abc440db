package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/highlight"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
)

// =========================================================================
// MOCK REPOSITORIES
// =========================================================================
//
// In-memory implementations of the repository interfaces. They store copies
// so a test cannot accidentally mutate "persisted" state through a pointer.

type mockSnippetRepo struct {
	snippets map[string]*model.Snippet
	order    []string
	nextID   int
	failNext error
}

func newMockSnippetRepo() *mockSnippetRepo {
	return &mockSnippetRepo{snippets: make(map[string]*model.Snippet)}
}

func (m *mockSnippetRepo) Create(_ context.Context, snippet *model.Snippet) error {
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.nextID++
	snippet.ID = fmt.Sprintf("mock-%d", m.nextID)
	snippet.UUID = fmt.Sprintf("00000000-0000-4000-8000-%012d", m.nextID)
	snippet.CreatedAt = time.Now()
	snippet.UpdatedAt = snippet.CreatedAt
	stored := *snippet
	m.snippets[snippet.ID] = &stored
	m.order = append(m.order, snippet.ID)
	return nil
}

func (m *mockSnippetRepo) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	s, ok := m.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	result := *s
	return &result, nil
}

func (m *mockSnippetRepo) GetByUUID(_ context.Context, publicID string) (*model.Snippet, error) {
	for _, s := range m.snippets {
		if s.UUID == publicID {
			result := *s
			return &result, nil
		}
	}
	return nil, apperror.NotFound("snippet", publicID)
}

func (m *mockSnippetRepo) owned(ownerID string) []model.Snippet {
	result := []model.Snippet{}
	for _, id := range m.order {
		if s, ok := m.snippets[id]; ok && s.OwnerID == ownerID {
			result = append(result, *s)
		}
	}
	return result
}

func (m *mockSnippetRepo) ListByOwner(_ context.Context, ownerID string, opts repository.ListOptions) ([]model.Snippet, error) {
	result := m.owned(ownerID)
	if opts.Offset >= len(result) {
		return []model.Snippet{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockSnippetRepo) CountByOwner(_ context.Context, ownerID string) (int, error) {
	return len(m.owned(ownerID)), nil
}

func (m *mockSnippetRepo) ListIDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	ids := []string{}
	for _, s := range m.owned(ownerID) {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (m *mockSnippetRepo) Update(_ context.Context, snippet *model.Snippet) error {
	old, ok := m.snippets[snippet.ID]
	if !ok {
		return apperror.NotFound("snippet", snippet.ID)
	}
	stored := *snippet
	stored.UUID = old.UUID
	stored.OwnerID = old.OwnerID
	stored.CreatedAt = old.CreatedAt
	m.snippets[snippet.ID] = &stored
	return nil
}

func (m *mockSnippetRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(m.snippets, id)
	return nil
}

type mockUserRepo struct {
	users   map[string]*model.User
	nextID  int
	snips   *mockSnippetRepo // for cascading deletes
	failGet error
}

func newMockUserRepo(snips *mockSnippetRepo) *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User), snips: snips}
}

func (m *mockUserRepo) CreateUser(_ context.Context, user *model.User) error {
	for _, u := range m.users {
		if u.Username == user.Username {
			return apperror.ValidationFailed("username", "A user with that username already exists.")
		}
		if u.GitHubID != nil && user.GitHubID != nil && *u.GitHubID == *user.GitHubID {
			return apperror.Conflict("user", user.Username)
		}
	}
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	result := *u
	return &result, nil
}

func (m *mockUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	for _, u := range m.users {
		if u.Username == username {
			result := *u
			return &result, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (m *mockUserRepo) GetUserByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	for _, u := range m.users {
		if u.GitHubID != nil && *u.GitHubID == githubID {
			result := *u
			return &result, nil
		}
	}
	return nil, apperror.NotFound("user", fmt.Sprint(githubID))
}

func (m *mockUserRepo) UpdateUser(_ context.Context, user *model.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	for id, u := range m.users {
		if id != user.ID && u.Username == user.Username {
			return apperror.ValidationFailed("username", "A user with that username already exists.")
		}
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepo) DeleteUser(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(m.users, id)
	if m.snips != nil {
		for sid, s := range m.snips.snippets {
			if s.OwnerID == id {
				delete(m.snips.snippets, sid)
			}
		}
	}
	return nil
}

// =========================================================================
// FAKE COLLABORATORS
// =========================================================================

// fakeHighlighter knows a handful of tags and counts renders.
type fakeHighlighter struct {
	renders int
}

var (
	fakeLanguages = []string{"go", "python", "text"}
	fakeStyles    = []string{"colorful", "monokai"}
)

func contains(list []string, v string) bool {
	i := sort.SearchStrings(list, v)
	return i < len(list) && list[i] == v
}

func (f *fakeHighlighter) Render(code, language, style string, linenos bool) (string, error) {
	if !contains(fakeLanguages, language) {
		return "", fmt.Errorf("fake: %w", highlight.ErrUnknownLanguage)
	}
	if !contains(fakeStyles, style) {
		return "", fmt.Errorf("fake: %w", highlight.ErrUnknownStyle)
	}
	f.renders++
	return fmt.Sprintf("<html lang=%s style=%s linenos=%t>%s</html>", language, style, linenos, code), nil
}

func (f *fakeHighlighter) Supports(language, style string) (bool, bool) {
	return contains(fakeLanguages, language), contains(fakeStyles, style)
}

func (f *fakeHighlighter) Languages() []string { return fakeLanguages }
func (f *fakeHighlighter) Styles() []string    { return fakeStyles }

type fakeReviewer struct {
	calls int
	text  string
}

func (f *fakeReviewer) Review(_ context.Context, code string) string {
	f.calls++
	if f.text != "" {
		return f.text
	}
	return "## Review\n\nLooks good: `" + code + "`"
}

// =========================================================================
// SHARED HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("service-test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func testPasswords() *auth.PasswordService {
	return auth.NewPasswordServiceForTest(bcrypt.MinCost)
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
