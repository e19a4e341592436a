package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

func validateUsername(username string) error {
	if !usernameRE.MatchString(username) {
		return errors.New("username must be 3-50 characters of letters, numbers or underscores")
	}
	return nil
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	Username string
	Email    string
	Password string
	Provider string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if err := validateUsername(opts.Username); err != nil {
		return domain.User{}, err
	}
	if strings.TrimSpace(opts.Email) == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Provider == "" {
		opts.Provider = "local"
	}
	u := domain.User{
		Username:  opts.Username,
		Email:     opts.Email,
		Provider:  opts.Provider,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if opts.Provider == "local" {
		if len(opts.Password) < 6 {
			return domain.User{}, errors.New("password must be at least 6 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, err
		}
		u.PasswordHash = string(hash)
	}
	exists, err := e.Repo.UsernameExists(ctx, u.Username)
	if err != nil {
		return domain.User{}, err
	}
	if exists {
		return domain.User{}, fmt.Errorf("username %s is already taken", u.Username)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, u.Email); err == nil {
		return domain.User{}, fmt.Errorf("email %s is already registered", u.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	id, err := e.Repo.InsertUser(ctx, u)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return u, nil
}

// AuthenticateLocal checks a username/password pair. Failures collapse into
// ErrInvalidCredentials so callers cannot tell unknown users from bad
// passwords.
func (e Engine) AuthenticateLocal(ctx context.Context, username, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if u.Provider != "local" || u.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureGoogleUser finds the user registered under the Google account email,
// provisioning one on first sign-in. The suggested username is adjusted when
// it collides with an existing account.
func (e Engine) EnsureGoogleUser(ctx context.Context, email, suggested string) (domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return domain.User{}, errors.New("email is required")
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	username := sanitizeUsername(suggested, email)
	for i := 0; i < 5; i++ {
		exists, err := e.Repo.UsernameExists(ctx, username)
		if err != nil {
			return domain.User{}, err
		}
		if !exists {
			break
		}
		username = fmt.Sprintf("%s_%s", sanitizeUsername(suggested, email), uuid.NewString()[:4])
	}
	return e.CreateUser(ctx, UserCreateOptions{
		Username: username,
		Email:    email,
		Provider: "google",
	})
}

func (e Engine) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if err := validateUsername(username); err != nil {
		return false, err
	}
	exists, err := e.Repo.UsernameExists(ctx, username)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (e Engine) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// sanitizeUsername derives a valid username from a display name, falling back
// to the email local part.
func sanitizeUsername(suggested, email string) string {
	candidate := suggested
	if strings.TrimSpace(candidate) == "" {
		candidate, _, _ = strings.Cut(email, "@")
	}
	var b strings.Builder
	for _, r := range candidate {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-':
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) < 3 {
		s = "user_" + uuid.NewString()[:8]
	}
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
