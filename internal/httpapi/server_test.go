package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"breachmap/internal/audit"
	"breachmap/internal/authn"
	"breachmap/internal/config"
	"breachmap/internal/detect"
	"breachmap/internal/domain"
	"breachmap/internal/effector/mock"
	"breachmap/internal/graphstore"
	ingestmock "breachmap/internal/ingest/mock"
	"breachmap/internal/respond"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	graph, err := graphstore.New("")
	if err != nil {
		t.Fatalf("graphstore.New: %v", err)
	}
	detector, err := detect.New(graph, defaultTunables(), "")
	if err != nil {
		t.Fatalf("detect.New: %v", err)
	}

	auditLog, err := audit.New(filepath.Join(dir, "audit.json"))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	idSeq := 0
	newID := func() string {
		idSeq++
		return "id-" + string(rune('a'+idSeq))
	}
	responder, err := respond.New(graph, auditLog, mock.New(), "", 10*time.Second, newID)
	if err != nil {
		t.Fatalf("respond.New: %v", err)
	}
	detector.SetPlanHandler(func(a domain.Alert) {
		_, _ = responder.CreatePlan(a)
	})

	auth, err := authn.New(filepath.Join(dir, "users.json"), "test-secret")
	if err != nil {
		t.Fatalf("authn.New: %v", err)
	}

	return New(graph, detector, responder, auditLog, auth, ingestmock.New(), 0)
}

func defaultTunables() config.Tunables {
	return config.Tunables{
		MinPrivilegeDelta:      20,
		MaxPathDepth:           5,
		LowPrivilegeThreshold:  40,
		HighPrivilegeThreshold: 70,
		MaxRecommendations:     5,
		BlastRadiusCap:         1000,
		ReachableMaxDepth:      3,
		AutoEligibleConfidence: 0.85,
		AutoEligibleBlastCap:   50,
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestGraphRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/graph")
	if err != nil {
		t.Fatalf("GET /api/graph: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", resp.StatusCode)
	}
}

func TestRegisterLoginAndAccessGraph(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	registerBody := strings.NewReader(`{"username":"alice","password":"Sup3r$ecret!"}`)
	resp, err := http.Post(srv.URL+"/api/auth/register", "application/json", registerBody)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d, want 201", resp.StatusCode)
	}

	form := url.Values{"username": {"alice"}, "password": {"Sup3r$ecret!"}}
	resp, err = http.PostForm(srv.URL+"/api/auth/login", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d, want 200", resp.StatusCode)
	}
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/graph", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.AccessToken)
	graphResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/graph with token: %v", err)
	}
	defer graphResp.Body.Close()
	if graphResp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", graphResp.StatusCode)
	}
}

func TestAdminEndpointRejectsAnalystRole(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	registerBody := strings.NewReader(`{"username":"bob","password":"Sup3r$ecret!"}`)
	resp, _ := http.Post(srv.URL+"/api/auth/register", "application/json", registerBody)
	resp.Body.Close()

	form := url.Values{"username": {"bob"}, "password": {"Sup3r$ecret!"}}
	resp, _ = http.PostForm(srv.URL+"/api/auth/login", form)
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	json.NewDecoder(resp.Body).Decode(&loginResp)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/response/pending", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.AccessToken)
	pendingResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/response/pending: %v", err)
	}
	defer pendingResp.Body.Close()
	if pendingResp.StatusCode != http.StatusForbidden {
		t.Fatalf("got status %d, want 403 for analyst role on admin endpoint", pendingResp.StatusCode)
	}
}
