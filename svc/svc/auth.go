package svc

import (
	"context"
	"strings"
	"time"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/metrics"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/auth"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/YanivGeorgePerez/dapim/svc/util"
	"github.com/pkg/errors"
)

type Auth struct {
	db     *db.SQLite
	hasher *auth.Hasher
	cfg    *cfg.Cfg
}

func NewAuth(sqlDB *db.SQLite, h *auth.Hasher, c *cfg.Cfg) *Auth {
	if sqlDB == nil || h == nil || c == nil {
		panic("auth service: nil dependency")
	}
	return &Auth{db: sqlDB, hasher: h, cfg: c}
}

// Register creates an account in the configured default group. The
// username is the identity key; a duplicate surfaces as ErrUsernameTaken.
func (a *Auth) Register(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrUsernameRequired
	}
	if len(username) > a.cfg.MaxUsernameLen {
		return nil, domain.ErrUsernameTooLong
	}
	if username == domain.AnonymousAuthor {
		return nil, domain.ErrUsernameTaken
	}
	if len(strings.TrimSpace(password)) < a.cfg.MinPasswordLen {
		return nil, domain.ErrPasswordTooShort
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	user := &domain.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		Group:        a.cfg.DefaultGroup,
	}
	if err := a.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	metrics.UserRegistered.Inc()
	util.Info().Str("username", username).Str("group", user.Group).Msg("user registered")
	return user, nil
}

// Login verifies credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (a *Auth) Login(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	user, err := a.db.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	match, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, errors.Wrap(err, "verify password")
	}
	if !match {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// User looks up an account by username for profile pages.
func (a *Auth) User(ctx context.Context, username string) (*domain.User, error) {
	return a.db.GetUser(ctx, username)
}
