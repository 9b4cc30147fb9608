// Package authn implements account registration, password verification,
// and bearer-token issuance for the HTTP surface: a username/password
// user store with bcrypt-hashed passwords and short-lived HS256-signed
// tokens.
package authn

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"breachmap/internal/apierr"
	"breachmap/internal/persist"
)

// Role is a user's authorization level. Only "admin" unlocks the
// response and audit endpoints; that is the one role distinction the
// HTTP surface needs.
type Role string

const (
	RoleAnalyst Role = "analyst"
	RoleAdmin   Role = "admin"
)

// TokenTTL is how long an issued bearer token remains valid.
const TokenTTL = 60 * time.Minute

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
	hasUpper        = regexp.MustCompile(`[A-Z]`)
	hasLower        = regexp.MustCompile(`[a-z]`)
	hasDigit        = regexp.MustCompile(`[0-9]`)
	hasSpecial      = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// User is one registered account.
type User struct {
	Username       string `json:"username"`
	HashedPassword string `json:"hashed_password"`
	Role           Role   `json:"role"`
}

type snapshot struct {
	Users map[string]User `json:"users"`
}

// Manager is the user store plus token issuance/verification.
type Manager struct {
	mu     sync.RWMutex
	users  map[string]User
	writer *persist.AtomicWriter
	secret []byte
}

// New loads a user store from path (starting empty if absent) and
// returns a Manager that signs tokens with secret.
func New(path, secret string) (*Manager, error) {
	writer, err := persist.NewAtomicWriter(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{users: make(map[string]User), writer: writer, secret: []byte(secret)}

	var snap snapshot
	ok, err := persist.ReadJSON(path, &snap)
	if err != nil {
		return nil, err
	}
	if ok && snap.Users != nil {
		m.users = snap.Users
	}
	return m, nil
}

// Bootstrap creates an initial admin account from
// BOOTSTRAP_ADMIN_USERNAME/BOOTSTRAP_ADMIN_PASSWORD if username is
// non-empty and no user exists yet. A conflict on restart is a no-op.
func (m *Manager) Bootstrap(username, password string) error {
	if username == "" {
		return nil
	}
	m.mu.RLock()
	empty := len(m.users) == 0
	m.mu.RUnlock()
	if !empty {
		return nil
	}
	_, err := m.Register(username, password, RoleAdmin)
	if err != nil && !apierr.IsConflict(err) {
		return fmt.Errorf("authn: bootstrap admin: %w", err)
	}
	return nil
}

// Register validates and creates a new account. Usernames must match
// [A-Za-z0-9_.-]{3,32}; passwords need at least 8 characters with
// upper, lower, digit, and special.
func (m *Manager) Register(username, password string, role Role) (User, error) {
	if !usernamePattern.MatchString(username) {
		return User{}, apierr.New(apierr.Validation, "invalid_username", "username must match [A-Za-z0-9_.-]{3,32}")
	}
	if err := validatePasswordComplexity(password); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[username]; exists {
		return User{}, apierr.New(apierr.Conflict, "username_taken", "a user with this username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, apierr.Wrap(apierr.Internal, "hash_failed", "failed to hash password", err)
	}

	user := User{Username: username, HashedPassword: string(hash), Role: role}
	m.users[username] = user
	if err := m.persistLocked(); err != nil {
		return User{}, apierr.Wrap(apierr.Persistence, "user_store_write_failed", "failed to persist new user", err)
	}
	return user, nil
}

func validatePasswordComplexity(password string) error {
	if len(password) < 8 ||
		!hasUpper.MatchString(password) ||
		!hasLower.MatchString(password) ||
		!hasDigit.MatchString(password) ||
		!hasSpecial.MatchString(password) {
		return apierr.New(apierr.Validation, "weak_password", "password must be at least 8 characters and include upper, lower, digit, and special characters")
	}
	return nil
}

// Authenticate verifies a username/password pair and, on success, issues
// a signed bearer token.
func (m *Manager) Authenticate(username, password string) (string, error) {
	m.mu.RLock()
	user, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return "", apierr.New(apierr.Authorization, "invalid_credentials", "username or password is incorrect")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return "", apierr.New(apierr.Authorization, "invalid_credentials", "username or password is incorrect")
	}
	return m.issueToken(user)
}

func (m *Manager) issueToken(user User) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.Username,
		"role": string(user.Role),
		"exp":  time.Now().Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "token_sign_failed", "failed to sign access token", err)
	}
	return signed, nil
}

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	Username string
	Role     Role
}

// Verify parses and validates a bearer token, returning the identity it
// carries.
func (m *Manager) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, apierr.New(apierr.Authorization, "invalid_token", "bearer token is missing, expired, or invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, apierr.New(apierr.Authorization, "invalid_token", "bearer token claims are malformed")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return Claims{}, apierr.New(apierr.Authorization, "invalid_token", "bearer token is missing a subject")
	}
	return Claims{Username: sub, Role: Role(role)}, nil
}

func (m *Manager) persistLocked() error {
	return m.writer.WriteJSON(snapshot{Users: m.users})
}
