package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snipshare/internal/config"
	"github.com/sakif/snipshare/internal/review"
)

// fakeGenerator stands in for Gemini.
type fakeGenerator struct {
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return "## Verdict\n\nLooks **fine**.", nil
}

type testEnv struct {
	handler http.Handler
	gen     *fakeGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Auth.JWTSecret = "server-test-secret-0123456789abcdef"
	cfg.Server.CookieSecure = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &fakeGenerator{}

	srv, err := New(cfg, logger, review.NewClientWithGenerator(gen, time.Second, logger))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	return &testEnv{handler: srv.Handler(), gen: gen}
}

// do sends a JSON request. token may be empty for anonymous calls.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

// register creates an account and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"password": "pw-" + username,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body := decode(t, rr)
	user := body["user"].(map[string]any)
	return user["id"].(string), body["token"].(string)
}

func (e *testEnv) createSnippet(t *testing.T, token string, body map[string]any) map[string]any {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/snippets", token, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode(t, rr)
}

// =========================================================================
// ACCOUNT FLOW
// =========================================================================

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": "alice",
		"password": "wonderland",
		"email":    "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, []any{}, user["snippets"])
	assert.NotContains(t, user, "password")

	t.Run("duplicate username", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "x"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		fields := decode(t, rr)["fields"].(map[string]any)
		assert.Contains(t, fields, "username")
	})

	t.Run("invalid email", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/register", "", map[string]string{"username": "carol", "password": "x", "email": "nope"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode(t, rr)["fields"], "email")
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "bad"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("login sets cookie", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wonderland"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.NotEmpty(t, decode(t, rr)["token"])

		cookies := rr.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, "token", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)

		// The cookie alone authenticates.
		req := httptest.NewRequest(http.MethodGet, "/current_user", nil)
		req.AddCookie(cookies[0])
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", decode(t, rec)["username"])
	})

	t.Run("login with form body", func(t *testing.T) {
		form := url.Values{"username": {"alice"}, "password": {"wonderland"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("logout clears cookie", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/logout", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		cookies := rr.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, -1, cookies[0].MaxAge)
	})
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/current_user", "/snippets", "/snippets/choices", "/users"} {
		rr := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	rr := env.do(t, http.MethodGet, "/snippets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// =========================================================================
// SNIPPET FLOW
// =========================================================================

func TestSnippetLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")
	_, bob := env.register(t, "bob")

	created := env.createSnippet(t, alice, map[string]any{
		"title": "hello",
		"code":  "print('hi')\n",
	})
	id := created["id"].(string)
	assert.Equal(t, "python", created["language"])
	assert.Equal(t, "colorful", created["style"])
	assert.Equal(t, false, created["linenos"])
	assert.Equal(t, "alice", created["owner"])
	assert.Equal(t, "/snippets/"+id+"/highlight", created["highlight"])
	assert.Len(t, created["shared_password"], 8)
	assert.NotEmpty(t, created["uuid"])
	assert.NotContains(t, created, "highlighted")

	t.Run("list is owner-scoped", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/snippets/", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.EqualValues(t, 1, body["count"])
		assert.Len(t, body["results"], 1)

		rr = env.do(t, http.MethodGet, "/snippets", bob, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 0, decode(t, rr)["count"])
	})

	t.Run("bad pagination", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/snippets?limit=abc", alice, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("non-owner cannot see or change it", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/snippets/"+id, bob, nil).Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/snippets/"+id+"/highlight", bob, nil).Code)
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPut, "/snippets/"+id, bob, map[string]any{"title": "x"}).Code)
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, "/snippets/"+id, bob, map[string]any{"language": "nope"}).Code)
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/snippets/"+id, bob, nil).Code)
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/snippets/"+id+"/review", bob, nil).Code)
	})

	t.Run("missing snippet", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/snippets/nope", alice, nil).Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/snippets/nope", alice, map[string]any{"title": "x"}).Code)
	})

	t.Run("highlight", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/snippets/"+id+"/highlight", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rr.Body.String(), "<html")
		assert.Contains(t, rr.Body.String(), "print")
	})

	t.Run("partial update", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/snippets/"+id, alice, map[string]any{"language": "go", "linenos": true})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode(t, rr)
		assert.Equal(t, "go", body["language"])
		assert.Equal(t, true, body["linenos"])
		assert.Equal(t, "hello", body["title"])
		assert.Equal(t, created["shared_password"], body["shared_password"])
		assert.Equal(t, created["uuid"], body["uuid"])
	})

	t.Run("invalid update", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/snippets/"+id, alice, map[string]any{"style": "no-such-style"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode(t, rr)["fields"], "style")
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/snippets", strings.NewReader(`{"code":`))
		req.Header.Set("Authorization", "Bearer "+alice)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/snippets/"+id, alice, nil).Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/snippets/"+id, alice, nil).Code)
	})
}

func TestCreateSnippet_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")

	rr := env.do(t, http.MethodPost, "/snippets", alice, map[string]any{
		"title":    strings.Repeat("t", 101),
		"language": "klingon",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	fields := decode(t, rr)["fields"].(map[string]any)
	assert.Contains(t, fields, "code")
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "language")
}

func TestChoices(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")

	rr := env.do(t, http.MethodGet, "/snippets/choices", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Contains(t, body["languages"], "python")
	assert.Contains(t, body["styles"], "colorful")
}

func TestSharedAccess(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")
	_, bob := env.register(t, "bob")

	created := env.createSnippet(t, alice, map[string]any{"code": "x = 1", "shared_password": "open-sesame"})
	path := "/snippets/shared/" + created["uuid"].(string)

	tests := []struct {
		name   string
		token  string
		body   any
		status int
	}{
		{"anonymous with password", "", map[string]string{"password": "open-sesame"}, http.StatusOK},
		{"other user with password", bob, map[string]string{"password": "open-sesame"}, http.StatusOK},
		{"owner without password", alice, nil, http.StatusOK},
		{"anonymous without password", "", nil, http.StatusBadRequest},
		{"blank password", "", map[string]string{"password": ""}, http.StatusBadRequest},
		{"wrong password", bob, map[string]string{"password": "open-sesame!"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, path, tt.token, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	t.Run("form body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("password=open-sesame"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "x = 1", decode(t, rr)["code"])
	})

	t.Run("multipart body", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("password", "open-sesame"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "x = 1", decode(t, rr)["code"])
	})

	t.Run("padded password", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, path, "", map[string]string{"password": " open-sesame "})
		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		rr = env.do(t, http.MethodPost, path, "", map[string]string{"password": "   "})
		assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	})

	t.Run("unknown and malformed uuid", func(t *testing.T) {
		body := map[string]string{"password": "open-sesame"}
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/snippets/shared/6f1c2a8e-0000-4000-8000-000000000000", "", body).Code)
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/snippets/shared/not-a-uuid", "", body).Code)
	})
}

func TestReview(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")
	created := env.createSnippet(t, alice, map[string]any{"code": "def f(): pass"})
	id := created["id"].(string)

	rr := env.do(t, http.MethodGet, "/snippets/"+id+"/review", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode(t, rr)["message"])

	rr = env.do(t, http.MethodPost, "/snippets/"+id+"/review", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "## Verdict\n\nLooks **fine**.", body["review"])
	assert.Contains(t, body["review_html"], "<strong>fine</strong>")

	require.Len(t, env.gen.prompts, 1)
	assert.Contains(t, env.gen.prompts[0], "def f(): pass")
}

// =========================================================================
// USER FLOW
// =========================================================================

func TestUsersSelfService(t *testing.T) {
	env := newTestEnv(t)
	aliceID, alice := env.register(t, "alice")
	bobID, bob := env.register(t, "bob")

	snippet := env.createSnippet(t, alice, map[string]any{"code": "a"})

	rr := env.do(t, http.MethodGet, "/users", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.EqualValues(t, 1, body["count"])
	results := body["results"].([]any)
	me := results[0].(map[string]any)
	assert.Equal(t, aliceID, me["id"])
	assert.Equal(t, []any{snippet["id"]}, me["snippets"])

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/users", alice, map[string]string{"username": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/users/"+bobID, alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, "/users/"+bobID, alice, map[string]string{"first_name": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/users/"+bobID, alice, nil).Code)

	rr = env.do(t, http.MethodPatch, "/users/"+aliceID, alice, map[string]string{"first_name": "Alice"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Alice", decode(t, rr)["first_name"])

	rr = env.do(t, http.MethodPut, "/users/"+aliceID, alice, map[string]string{"username": "bob"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode(t, rr)["fields"], "username")

	// Deleting the account takes its snippets with it.
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/users/"+aliceID, alice, nil).Code)
	shared := env.do(t, http.MethodPost, "/snippets/shared/"+snippet["uuid"].(string), bob,
		map[string]string{"password": snippet["shared_password"].(string)})
	assert.Equal(t, http.StatusNotFound, shared.Code)

	// The old token no longer authenticates anywhere.
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/current_user", alice, nil).Code)
	rr = env.do(t, http.MethodPost, "/snippets", alice, map[string]any{"code": "orphan"})
	require.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
	assert.Equal(t, "unauthorized", decode(t, rr)["error"])
}

func TestNonOwnerWriteIgnoresBody(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.register(t, "alice")
	bobID, bob := env.register(t, "bob")
	id := env.createSnippet(t, alice, map[string]any{"code": "x"})["id"].(string)

	badTypes := json.RawMessage(`{"linenos":"yes"}`)
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		rr := env.do(t, method, "/snippets/"+id, bob, badTypes)
		assert.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
	}

	// The owner sending the same body gets the decoding error.
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/snippets/"+id, alice, badTypes).Code)

	rr := env.do(t, http.MethodPut, "/users/"+bobID, alice, json.RawMessage(`{"first_name":42}`))
	assert.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
}

// =========================================================================
// PLUMBING
// =========================================================================

func TestHealthAndFallbacks(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = env.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode(t, rr)["error"])

	rr = env.do(t, http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestGitHubRoutesOnlyWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/auth/github/login", "", nil).Code)

	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Auth.JWTSecret = "server-test-secret-0123456789abcdef"
	cfg.Auth.GitHubClientID = "client-id"
	cfg.Auth.GitHubClientSecret = "client-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, logger, review.NewClientWithGenerator(&fakeGenerator{}, time.Second, logger))
	require.NoError(t, err)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/auth/github/login", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "github.com/login/oauth/authorize")
	assert.Contains(t, rr.Header().Get("Location"), "client_id=client-id")

	// A callback without the state cookie is rejected.
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/github/callback?code=x&state=y", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
