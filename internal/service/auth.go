package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
)

// AuthService is what the auth middleware resolves tokens through.
var _ auth.Authenticator = (*AuthService)(nil)

// maxUsernameAttempts bounds the "login-2", "login-3", ... search when a
// GitHub login collides with an existing local username.
const maxUsernameAttempts = 10

// loginInput is the body of POST /login.
type loginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthService handles login, GitHub sign-in and token checks.
//
// DEPENDENCIES:
//   - users      repository.UserRepository → read/write user records
//   - tokens     *auth.TokenService        → generate/validate JWTs
//   - passwords  *auth.PasswordService     → bcrypt verification
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Login checks a username/password pair and issues a token.
//
// Unknown users and wrong passwords produce the same error, so the
// response does not reveal which usernames exist.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	in := loginInput{Username: strings.TrimSpace(username), Password: password}
	if err := validateStruct(in, nil); err != nil {
		return nil, err
	}

	badCredentials := apperror.BadRequest("Unable to log in with provided credentials.")

	user, err := s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up %q: %w", in.Username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login failed", slog.String("username", in.Username))
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback.
//
// A returning GitHub user is found by their stable GitHub id. A new one
// gets a local account named after their GitHub login, with a numeric
// suffix if that name is already taken. GitHub accounts have no password,
// so they cannot use /login.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, errors.New("service/auth: GitHub user must not be nil")
	}

	user, err := s.users.GetUserByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
		if user.Email == "" && ghUser.Email != "" {
			user.Email = ghUser.Email
			if err := s.users.UpdateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("service/auth: updating user %s: %w", user.ID, err)
			}
		}
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createGitHubUser(ctx, ghUser)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up github user %d: %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) createGitHubUser(ctx context.Context, ghUser *auth.GitHubUser) (*model.User, error) {
	first, last, _ := strings.Cut(strings.TrimSpace(ghUser.Name), " ")
	githubID := ghUser.ID

	for attempt := 1; attempt <= maxUsernameAttempts+1; attempt++ {
		username := ghUser.Login
		switch {
		case attempt > maxUsernameAttempts:
			username = ghUser.Login + "-" + xid.New().String()
		case attempt > 1:
			username = fmt.Sprintf("%s-%d", ghUser.Login, attempt)
		}

		user := &model.User{
			Username:  username,
			Email:     ghUser.Email,
			FirstName: first,
			LastName:  strings.TrimSpace(last),
			GitHubID:  &githubID,
		}
		err := s.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrValidation) {
			return nil, fmt.Errorf("service/auth: creating github user %d: %w", ghUser.ID, err)
		}
	}
	return nil, fmt.Errorf("service/auth: no free username for github login %q", ghUser.Login)
}

// GetUserByID returns the user for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// Authenticate returns the user ID of a JWT whose account still exists.
// It is the auth.Authenticator behind RequireAuth and OptionalAuth: a
// token issued before its user was deleted no longer authenticates.
func (s *AuthService) Authenticate(ctx context.Context, tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("token for deleted user rejected", slog.String("user_id", userID))
			return "", apperror.Unauthorized("user no longer exists")
		}
		return "", err
	}
	return user.ID, nil
}

// CookieMaxAge is the token lifetime in seconds, for the auth cookie.
func (s *AuthService) CookieMaxAge() int {
	return int(s.tokens.TTL().Seconds())
}
