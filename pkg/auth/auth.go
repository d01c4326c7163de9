// Package auth provides bearer-token authentication for rebacd's wire
// front-end, and the "who may grant" authorization policy that itself
// reduces to a relation graph query.
//
// Architecture:
//   - HMAC-SHA256 signed tokens (no external JWT library), following
//     the OAuth2 password-grant token response shape.
//   - bcrypt password hashing for the bootstrap operator account.
//   - Account lockout after repeated failed logins.
//   - Audit logging hook for every authentication event.
//   - Authorization is NOT role-based: whether a principal may grant,
//     revoke, or expand a relation on some object is answered by
//     checking whether that principal holds the "write" relation on
//     that object in the graph itself (see Authorizer.CanWrite in
//     authorize.go). The only exception is the bootstrap operator
//     account, which exists to grant the very first "write" tuples
//     into an otherwise-empty graph.
//
// Example Usage:
//
//	cfg := auth.DefaultAuthConfig()
//	cfg.JWTSecret = []byte(os.Getenv("REBACD_JWT_SECRET"))
//	authenticator, err := auth.NewAuthenticator(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	authenticator.CreateUser("admin", "ChangeMe123!", true)
//
//	tokenResp, user, err := authenticator.Authenticate("admin", "ChangeMe123!")
//	claims, err := authenticator.ValidateToken(tokenResp.AccessToken)
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Errors for authentication operations.
var (
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked due to failed login attempts")
	ErrPasswordTooShort   = errors.New("auth: password does not meet minimum length requirement")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrNoCredentials      = errors.New("auth: no credentials provided")
	ErrMissingSecret      = errors.New("auth: JWT secret not configured")
	ErrForbidden          = errors.New("auth: principal may not write to this object")
)

// User represents an authenticated principal's account.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	PasswordHash     string    `json:"-"`
	IsBootstrapAdmin bool      `json:"is_bootstrap_admin,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastLogin        time.Time `json:"last_login,omitempty"`
	FailedLogins     int       `json:"-"`
	LockedUntil      time.Time `json:"-"`
	Disabled         bool      `json:"disabled,omitempty"`
}

// JWTClaims carries the subject of a bearer token. Sub is rendered
// directly into a graph.Object(namespace "user", id Sub) principal by
// the server layer.
type JWTClaims struct {
	Sub      string `json:"sub"`
	Username string `json:"username,omitempty"`
	Iat      int64  `json:"iat"`
	Exp      int64  `json:"exp,omitempty"`
	// Admin mirrors User.IsBootstrapAdmin at issuance time. pkg/server uses
	// it to exempt the bootstrap operator from Authorizer.CanWrite, since
	// the very first "write" tuple cannot exist without someone able to
	// create it.
	Admin bool `json:"adm,omitempty"`
}

// TokenResponse follows the OAuth 2.0 RFC 6749 password-grant response
// shape.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	MinPasswordLength int
	BcryptCost        int

	JWTSecret   []byte
	TokenExpiry time.Duration // 0 = never expire

	MaxFailedLogins int
	LockoutDuration time.Duration

	SecurityEnabled bool
}

// DefaultAuthConfig returns sane defaults; callers still need to set
// JWTSecret before authentication will work with SecurityEnabled=true.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MinPasswordLength: 8,
		BcryptCost:        bcrypt.DefaultCost,
		TokenExpiry:       24 * time.Hour,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
		SecurityEnabled:   true,
	}
}

// Authenticator manages accounts and bearer tokens. All methods are
// safe for concurrent use.
type Authenticator struct {
	mu     sync.RWMutex
	users  map[string]*User
	config AuthConfig

	auditLog func(event AuditEvent)
}

// AuditEvent describes one authentication-related occurrence.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Username  string    `json:"username,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// NewAuthenticator validates config and returns a ready Authenticator.
func NewAuthenticator(config AuthConfig) (*Authenticator, error) {
	if config.SecurityEnabled && len(config.JWTSecret) == 0 {
		return nil, ErrMissingSecret
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = 8
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &Authenticator{
		users:  make(map[string]*User),
		config: config,
	}, nil
}

// SetAuditLogger installs the audit callback.
func (a *Authenticator) SetAuditLogger(fn func(AuditEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auditLog = fn
}

func (a *Authenticator) logAudit(event AuditEvent) {
	if a.auditLog != nil {
		event.Timestamp = time.Now()
		a.auditLog(event)
	}
}

// CreateUser creates a new account. isBootstrapAdmin marks the account
// as exempt from Authorizer.CanWrite, which only ever matters for the
// operator account created at process bootstrap (see cmd/rebacd).
func (a *Authenticator) CreateUser(username, password string, isBootstrapAdmin bool) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[username]; exists {
		a.logAudit(AuditEvent{EventType: "user_create", Username: username, Success: false, Details: "user already exists"})
		return nil, ErrUserExists
	}
	if len(password) < a.config.MinPasswordLength {
		return nil, fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:               generateID(),
		Username:         username,
		PasswordHash:     string(hash),
		IsBootstrapAdmin: isBootstrapAdmin,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a.users[username] = user

	a.logAudit(AuditEvent{EventType: "user_create", Username: username, UserID: user.ID, Success: true})
	return a.copyUserSafe(user), nil
}

// Authenticate verifies credentials and, on success, issues a bearer
// token. Failed logins are counted toward account lockout.
func (a *Authenticator) Authenticate(username, password string) (*TokenResponse, *User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		a.logAudit(AuditEvent{EventType: "login", Username: username, Success: false, Details: "user not found"})
		return nil, nil, ErrInvalidCredentials
	}
	if !user.LockedUntil.IsZero() && time.Now().Before(user.LockedUntil) {
		a.logAudit(AuditEvent{EventType: "login", Username: username, UserID: user.ID, Success: false, Details: "account locked"})
		return nil, nil, ErrAccountLocked
	}
	if user.Disabled {
		a.logAudit(AuditEvent{EventType: "login", Username: username, UserID: user.ID, Success: false, Details: "account disabled"})
		return nil, nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.FailedLogins++
		if user.FailedLogins >= a.config.MaxFailedLogins {
			user.LockedUntil = time.Now().Add(a.config.LockoutDuration)
		}
		user.UpdatedAt = time.Now()
		a.logAudit(AuditEvent{EventType: "login", Username: username, UserID: user.ID, Success: false, Details: "invalid password"})
		return nil, nil, ErrInvalidCredentials
	}

	user.FailedLogins = 0
	user.LockedUntil = time.Time{}
	user.LastLogin = time.Now()
	user.UpdatedAt = time.Now()

	token, err := a.generateJWT(user)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: generate token: %w", err)
	}

	resp := &TokenResponse{AccessToken: token, TokenType: "Bearer"}
	if a.config.TokenExpiry > 0 {
		resp.ExpiresIn = int64(a.config.TokenExpiry.Seconds())
	}

	a.logAudit(AuditEvent{EventType: "login", Username: username, UserID: user.ID, Success: true})
	return resp, a.copyUserSafe(user), nil
}

// ValidateToken verifies a bearer token (with or without the "Bearer "
// prefix) and returns its claims. If SecurityEnabled is false, every
// token validates to a fixed anonymous subject.
func (a *Authenticator) ValidateToken(token string) (*JWTClaims, error) {
	if !a.config.SecurityEnabled {
		return &JWTClaims{Sub: "anonymous"}, nil
	}
	if token == "" {
		return nil, ErrNoCredentials
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	return a.verifyJWT(token)
}

// GetUser returns the account for username without sensitive fields.
func (a *Authenticator) GetUser(username string) (*User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	user, exists := a.users[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	return a.copyUserSafe(user), nil
}

// ListUsers returns every account without sensitive fields.
func (a *Authenticator) ListUsers() []*User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	users := make([]*User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, a.copyUserSafe(u))
	}
	return users
}

// ChangePassword replaces a user's password after verifying the old one.
func (a *Authenticator) ChangePassword(username, oldPassword, newPassword string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if len(newPassword) < a.config.MinPasswordLength {
		return fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = time.Now()
	return nil
}

// DisableUser suspends an account; EnableUser restores it.
func (a *Authenticator) DisableUser(username string) error {
	return a.withUser(username, func(u *User) { u.Disabled = true })
}

// EnableUser re-enables a disabled account and clears any lockout.
func (a *Authenticator) EnableUser(username string) error {
	return a.withUser(username, func(u *User) {
		u.Disabled = false
		u.FailedLogins = 0
		u.LockedUntil = time.Time{}
	})
}

// UnlockUser clears a failed-login lockout without touching Disabled.
func (a *Authenticator) UnlockUser(username string) error {
	return a.withUser(username, func(u *User) {
		u.FailedLogins = 0
		u.LockedUntil = time.Time{}
	})
}

func (a *Authenticator) withUser(username string, mutate func(*User)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, exists := a.users[username]
	if !exists {
		return ErrUserNotFound
	}
	mutate(user)
	user.UpdatedAt = time.Now()
	return nil
}

// DeleteUser removes an account entirely.
func (a *Authenticator) DeleteUser(username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[username]; !exists {
		return ErrUserNotFound
	}
	delete(a.users, username)
	return nil
}

// UserCount returns the number of registered accounts.
func (a *Authenticator) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// IsSecurityEnabled reports whether bearer-token checks are enforced.
func (a *Authenticator) IsSecurityEnabled() bool {
	return a.config.SecurityEnabled
}

func (a *Authenticator) generateJWT(user *User) (string, error) {
	if len(a.config.JWTSecret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now().Unix()
	claims := JWTClaims{Sub: user.Username, Username: user.Username, Iat: now, Admin: user.IsBootstrapAdmin}
	if a.config.TokenExpiry != 0 {
		claims.Exp = now + int64(a.config.TokenExpiry.Seconds())
	}
	return signJWT(claims, a.config.JWTSecret)
}

func signJWT(claims JWTClaims, secret []byte) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)

	message := headerB64 + "." + claimsB64
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return message + "." + signature, nil
}

func (a *Authenticator) verifyJWT(token string) (*JWTClaims, error) {
	if len(a.config.JWTSecret) == 0 {
		return nil, ErrMissingSecret
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	message := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, a.config.JWTSecret)
	mac.Write([]byte(message))
	expectedSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if !SecureCompare(parts[2], expectedSig) {
		return nil, ErrInvalidToken
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims JWTClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, ErrSessionExpired
	}
	return &claims, nil
}

func (a *Authenticator) copyUserSafe(u *User) *User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// SecureCompare performs a constant-time string comparison, preventing
// timing attacks on token/signature validation.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HasCredentials reports whether any credential source carries a value.
func HasCredentials(authHeader, queryToken string) bool {
	return authHeader != "" || queryToken != ""
}

// ExtractToken pulls the bearer token out of an Authorization header,
// falling back to a query parameter for clients that can't set headers.
func ExtractToken(authHeader, queryToken string) string {
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return queryToken
}
