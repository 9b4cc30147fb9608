package authn

import (
	"path/filepath"
	"testing"

	"breachmap/internal/apierr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	m, err := New(path, "test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register("a", "Sup3r$ecret!", RoleAnalyst)
	if !apierr.Is(err, apierr.Validation) {
		t.Fatalf("expected validation error for too-short username, got %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"too short", "Ab1!"},
		{"no upper", "lowercase1!"},
		{"no lower", "UPPERCASE1!"},
		{"no digit", "NoDigitsHere!"},
		{"no special", "NoSpecial123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			if _, err := m.Register("validuser", tt.password, RoleAnalyst); !apierr.Is(err, apierr.Validation) {
				t.Errorf("password %q: expected validation error, got %v", tt.password, err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Register("alice", "Sup3r$ecret!", RoleAnalyst); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := m.Register("alice", "An0ther$ecret!", RoleAnalyst)
	if !apierr.Is(err, apierr.Conflict) {
		t.Fatalf("expected conflict error for duplicate username, got %v", err)
	}
}

func TestAuthenticateAndVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Register("alice", "Sup3r$ecret!", RoleAdmin); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := m.Authenticate("alice", "Sup3r$ecret!")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Username != "alice" || claims.Role != RoleAdmin {
		t.Errorf("got claims %+v, want username=alice role=admin", claims)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Register("alice", "Sup3r$ecret!", RoleAnalyst); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Authenticate("alice", "WrongPassw0rd!"); !apierr.Is(err, apierr.Authorization) {
		t.Fatalf("expected authorization error for wrong password, got %v", err)
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Verify("not-a-jwt"); !apierr.Is(err, apierr.Authorization) {
		t.Fatalf("expected authorization error for malformed token, got %v", err)
	}
}

func TestBootstrapSkipsWhenUsersExist(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Register("alice", "Sup3r$ecret!", RoleAnalyst); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Bootstrap("admin", "Adm1n$ecret!"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if _, err := m.Authenticate("admin", "Adm1n$ecret!"); err == nil {
		t.Fatal("expected bootstrap admin not to be created when a user already exists")
	}
}

func TestBootstrapCreatesAdminWhenEmpty(t *testing.T) {
	m := newTestManager(t)
	if err := m.Bootstrap("admin", "Adm1n$ecret!"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	token, err := m.Authenticate("admin", "Adm1n$ecret!")
	if err != nil {
		t.Fatalf("Authenticate bootstrap admin: %v", err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("got role %q, want admin", claims.Role)
	}
}
