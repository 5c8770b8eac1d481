package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// DefaultTokenTTL is the lifetime of issued tokens unless overridden.
const DefaultTokenTTL = time.Hour

// UserStore is the part of the credential store the authenticator needs.
type UserStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*users.User, error)
	GetUserByID(ctx context.Context, id int64) (*users.User, error)
	StorePasswordHash(ctx context.Context, id int64, hash string) error
	CreateUser(ctx context.Context, input users.CreateUserInput) (*users.User, error)
}

// Observer receives authentication outcomes, typically for metrics.
type Observer interface {
	ObserveLogin(success bool)
	ObserveTokenVerification(result string)
}

// Service wraps authentication business rules.
type Service struct {
	users       UserStore
	repo        Repository
	logger      *slog.Logger
	now         func() time.Time
	tokenTTL    time.Duration
	defaultRole string
	observer    Observer
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and expiring tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithDefaultRole sets the role granted on Signup.
func WithDefaultRole(role string) Option {
	return func(s *Service) { s.defaultRole = role }
}

// WithObserver reports login and token outcomes.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService constructs a new Service.
func NewService(store UserStore, repo Repository, opts ...Option) *Service {
	s := &Service{
		users:    store,
		repo:     repo,
		logger:   slog.Default(),
		now:      time.Now,
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// AuthenticateUser checks credentials against the credential store. The
// identifier is tried as a username and then as an email. Exactly one
// UserLogin is recorded per call. Unknown identifiers, wrong passwords and
// disabled accounts all yield shared.ErrInvalidCredentials.
func (s *Service) AuthenticateUser(ctx context.Context, identifier, password string, meta ClientMeta) (*users.User, error) {
	user, attempt, err := s.authenticate(ctx, identifier, password, meta)
	if err != nil {
		return nil, err
	}
	s.acceptLogin(ctx, user, password, attempt)
	return user, nil
}

// authenticate checks the credentials and records failed attempts. A
// successful attempt is returned unrecorded so the caller can finish the
// login before tracking it.
func (s *Service) authenticate(ctx context.Context, identifier, password string, meta ClientMeta) (*users.User, UserLogin, error) {
	identifier = strings.TrimSpace(identifier)
	attempt := UserLogin{
		Identifier:  identifier,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		AttemptedAt: s.now().UTC(),
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		users.BurnVerification(password)
		s.TrackLogin(ctx, attempt)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, attempt, shared.ErrInvalidCredentials
		}
		return nil, attempt, fmt.Errorf("auth: lookup user: %w", err)
	}

	attempt.UserID = &user.ID
	if !users.VerifyPassword(password, user.PasswordHash) || !user.IsActive {
		s.TrackLogin(ctx, attempt)
		return nil, attempt, shared.ErrInvalidCredentials
	}
	return user, attempt, nil
}

func (s *Service) acceptLogin(ctx context.Context, user *users.User, password string, attempt UserLogin) {
	attempt.Success = true
	s.TrackLogin(ctx, attempt)
	if users.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}
}

// TrackLogin appends a login record. Storage failures are logged and never
// fail the surrounding request.
func (s *Service) TrackLogin(ctx context.Context, login UserLogin) {
	if s.observer != nil {
		s.observer.ObserveLogin(login.Success)
	}
	if login.AttemptedAt.IsZero() {
		login.AttemptedAt = s.now().UTC()
	}
	if err := s.repo.RecordLogin(ctx, &login); err != nil {
		s.logger.Warn("record login", slog.String("identifier", login.Identifier), slog.Bool("success", login.Success), slog.Any("error", err))
	}
}

// RecentLogins returns the newest login attempts for a user.
func (s *Service) RecentLogins(ctx context.Context, userID int64, limit int) ([]UserLogin, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListLogins(ctx, userID, limit)
}

// CreateAuthToken issues a token for userID. The raw value is returned once;
// only its digest is stored.
func (s *Service) CreateAuthToken(ctx context.Context, userID int64, purpose string) (string, *AuthToken, error) {
	if userID <= 0 {
		return "", nil, fmt.Errorf("%w: user id required", shared.ErrInvalidInput)
	}
	if purpose == "" {
		purpose = PurposeAPI
	}
	raw, digest, err := generateToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	token := &AuthToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: digest,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return "", nil, fmt.Errorf("auth: store token: %w", err)
	}
	return raw, token, nil
}

// VerifyAuthToken returns the user id the token was issued to. Malformed,
// unknown and revoked tokens yield shared.ErrInvalidToken; tokens at or past
// their expiry yield shared.ErrExpiredToken.
func (s *Service) VerifyAuthToken(ctx context.Context, raw string) (int64, error) {
	token, err := s.verifyToken(ctx, raw)
	if err != nil {
		return 0, err
	}
	return token.UserID, nil
}

func (s *Service) verifyToken(ctx context.Context, raw string) (*AuthToken, error) {
	token, err := s.lookupToken(ctx, raw)
	switch {
	case err != nil:
	case token.RevokedAt != nil:
		err = shared.ErrInvalidToken
	case !s.now().Before(token.ExpiresAt):
		err = shared.ErrExpiredToken
	}
	s.observeToken(err)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) lookupToken(ctx context.Context, raw string) (*AuthToken, error) {
	raw = strings.TrimSpace(raw)
	if !wellFormed(raw) {
		return nil, shared.ErrInvalidToken
	}
	token, err := s.repo.FindTokenByHash(ctx, hashToken(raw))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: lookup token: %w", err)
	}
	return token, nil
}

// RevokeAuthToken invalidates a single token. Revoking twice is a no-op.
func (s *Service) RevokeAuthToken(ctx context.Context, raw string) error {
	token, err := s.lookupToken(ctx, raw)
	if err != nil {
		return err
	}
	if token.RevokedAt != nil {
		return nil
	}
	return s.repo.RevokeToken(ctx, token.ID, s.now().UTC())
}

// RevokeUserTokens invalidates every outstanding token of a user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID int64) error {
	n, err := s.repo.RevokeUserTokens(ctx, userID, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("tokens revoked", slog.Int64("user_id", userID), slog.Int64("count", n))
	}
	return nil
}

// GetUserFromSession resolves the session's user. It returns
// shared.Anonymous, never nil, when there is no session, no bound user, or
// the bound user no longer exists or is disabled.
func (s *Service) GetUserFromSession(ctx context.Context, sess *shared.Session) *shared.Principal {
	if sess == nil {
		return shared.Anonymous
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return shared.Anonymous
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.logger.Warn("session carries malformed user id", slog.String("value", raw))
		sess.ClearUser()
		return shared.Anonymous
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("resolve session user", slog.Int64("user_id", id), slog.Any("error", err))
			return shared.Anonymous
		}
		sess.ClearUser()
		return shared.Anonymous
	}
	if !user.IsActive {
		sess.ClearUser()
		return shared.Anonymous
	}
	return user.Principal()
}

// ResolveBearer turns a raw bearer token into a principal.
func (s *Service) ResolveBearer(ctx context.Context, raw string) (*shared.Principal, error) {
	token, err := s.verifyToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidToken
	}
	p := user.Principal()
	p.TokenID = token.ID.String()
	return p, nil
}

// Login authenticates, binds the user to sess under a fresh session id and
// issues an API token.
func (s *Service) Login(ctx context.Context, sess *shared.Session, identifier, password string, meta ClientMeta) (*LoginResult, error) {
	user, attempt, err := s.authenticate(ctx, identifier, password, meta)
	if err != nil {
		return nil, err
	}
	raw, token, err := s.CreateAuthToken(ctx, user.ID, PurposeAPI)
	if err != nil {
		s.logger.Error("issue login token", slog.Int64("user_id", user.ID), slog.Any("error", err))
		s.TrackLogin(ctx, attempt)
		return nil, err
	}
	s.acceptLogin(ctx, user, password, attempt)
	if sess != nil {
		sess.Renew()
		sess.SetUser(strconv.FormatInt(user.ID, 10))
	}
	s.logger.Info("user logged in", slog.Int64("user_id", user.ID), slog.String("ip", meta.IP))
	return &LoginResult{User: user, Token: raw, ExpiresAt: token.ExpiresAt}, nil
}

// Logout revokes rawToken when given and unbinds the session user. Unknown
// tokens are ignored so logout always succeeds for the caller.
func (s *Service) Logout(ctx context.Context, sess *shared.Session, rawToken string) error {
	if rawToken != "" {
		if err := s.RevokeAuthToken(ctx, rawToken); err != nil && !errors.Is(err, shared.ErrInvalidToken) {
			return err
		}
	}
	if sess != nil {
		sess.ClearUser()
	}
	return nil
}

// Signup creates an account with the default role.
func (s *Service) Signup(ctx context.Context, input SignupInput) (*users.User, error) {
	create := users.CreateUserInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	}
	if s.defaultRole != "" {
		create.Roles = []string{s.defaultRole}
	}
	user, err := s.users.CreateUser(ctx, create)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", slog.Int64("user_id", user.ID))
	return user, nil
}

// PruneExpiredTokens deletes tokens that expired before the cutoff.
func (s *Service) PruneExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.PruneTokens(ctx, before)
}

// PruneLoginHistory deletes login attempts recorded before the cutoff.
func (s *Service) PruneLoginHistory(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.PruneLogins(ctx, before)
}

func (s *Service) upgradeHash(ctx context.Context, user *users.User, password string) {
	hash, err := users.HashPassword(password)
	if err != nil {
		s.logger.Warn("rehash password", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := s.users.StorePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.Warn("store upgraded hash", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.PasswordHash = hash
}

func (s *Service) observeToken(err error) {
	if s.observer == nil {
		return
	}
	switch {
	case err == nil:
		s.observer.ObserveTokenVerification("valid")
	case errors.Is(err, shared.ErrExpiredToken):
		s.observer.ObserveTokenVerification("expired")
	case errors.Is(err, shared.ErrInvalidToken):
		s.observer.ObserveTokenVerification("invalid")
	default:
		s.observer.ObserveTokenVerification("error")
	}
}
