package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/snipshare/internal/access"
	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/auth"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
)

// RegisterInput is the body of POST /register.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=150,username"`
	Password  string `json:"password" validate:"required,max=72"`
	Email     string `json:"email" validate:"omitempty,max=254,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// UserInput carries the editable profile fields. nil means unchanged.
type UserInput struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Password  *string
}

// userFields is the merged profile that gets validated on update.
type userFields struct {
	Username  string `json:"username" validate:"required,max=150,username"`
	Email     string `json:"email" validate:"omitempty,max=254,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Password  string `json:"password" validate:"max=72"`
}

// UserProfile is a user together with the ids of the snippets they own.
type UserProfile struct {
	User       *model.User
	SnippetIDs []string
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// UserService handles account registration and self-service profile management.
type UserService struct {
	users     repository.UserRepository
	snippets  repository.SnippetRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewUserService(
	users repository.UserRepository,
	snippets repository.SnippetRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:     users,
		snippets:  snippets,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Register creates a password account and issues a token for it.
// A blank email is accepted and stored empty.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := validateStruct(in, nil); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, apperror.ValidationFailed("username", "A user with that username already exists.")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("checking username: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Ensure this field has no more than 72 bytes.")
		}
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		PasswordHash: hash,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}
	// The repository re-checks uniqueness, which covers two concurrent
	// registrations racing past the lookup above.
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("username", user.Username))
	return &AuthResult{User: user, Token: token}, nil
}

// GetSelf returns the principal's own profile.
func (s *UserService) GetSelf(ctx context.Context, principal string) (*UserProfile, error) {
	if principal == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.profile(ctx, principal)
}

// List returns the accounts visible to principal, which is only their own.
func (s *UserService) List(ctx context.Context, principal string) ([]UserProfile, error) {
	p, err := s.GetSelf(ctx, principal)
	if err != nil {
		return nil, err
	}
	return []UserProfile{*p}, nil
}

// Get returns the profile with the given id, which must be the principal's.
func (s *UserService) Get(ctx context.Context, principal, id string) (*UserProfile, error) {
	if !access.CanAccessUser(principal, id) {
		return nil, apperror.Forbidden("you may only view your own account")
	}
	return s.profile(ctx, id)
}

// Create is not offered on the generic users collection; accounts are
// made through Register.
func (s *UserService) Create(context.Context) error {
	return apperror.MethodNotAllowed(`Method "POST" not allowed.`)
}

// AuthorizeSelf reports whether principal may modify the account id.
func (s *UserService) AuthorizeSelf(principal, id string) error {
	if !access.CanAccessUser(principal, id) {
		return apperror.Forbidden("you may only modify your own account")
	}
	return nil
}

// UpdateSelf changes the principal's own profile. A new password is re-hashed.
func (s *UserService) UpdateSelf(ctx context.Context, principal, id string, in UserInput) (*UserProfile, error) {
	if err := s.AuthorizeSelf(principal, id); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := userFields{
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
	if in.Username != nil {
		fields.Username = strings.TrimSpace(*in.Username)
	}
	if in.Email != nil {
		fields.Email = strings.TrimSpace(*in.Email)
	}
	if in.FirstName != nil {
		fields.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		fields.LastName = strings.TrimSpace(*in.LastName)
	}
	extra := map[string]string{}
	if in.Password != nil {
		fields.Password = *in.Password
		if fields.Password == "" {
			extra["password"] = "This field may not be blank."
		}
	}

	if err := validateStruct(fields, extra); err != nil {
		return nil, err
	}

	user.Username = fields.Username
	user.Email = fields.Email
	user.FirstName = fields.FirstName
	user.LastName = fields.LastName
	if in.Password != nil {
		hash, err := s.passwords.Hash(fields.Password)
		if err != nil {
			if errors.Is(err, auth.ErrPasswordTooLong) {
				return nil, apperror.ValidationFailed("password", "Ensure this field has no more than 72 bytes.")
			}
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user updated", slog.String("userID", user.ID))
	return s.profile(ctx, user.ID)
}

// DeleteSelf removes the principal's account and every snippet they own.
func (s *UserService) DeleteSelf(ctx context.Context, principal, id string) error {
	if !access.CanAccessUser(principal, id) {
		return apperror.Forbidden("you may only delete your own account")
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", slog.String("userID", id))
	return nil
}

func (s *UserService) profile(ctx context.Context, id string) (*UserProfile, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.snippets.ListIDsByOwner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing snippets of user %s: %w", id, err)
	}
	return &UserProfile{User: user, SnippetIDs: ids}, nil
}
