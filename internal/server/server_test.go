package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string, roles string) map[string]string {
	h := map[string]string{"X-Actor-Id": id}
	if roles != "" {
		h["X-Actor-Roles"] = roles
	}
	return h
}

func decodeErrorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return envelope.Error.Code
}

func TestRequestToProjectOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"title":      "Migration CRM",
		"sponsor_id": "bob",
	}, asActor("alice", ""))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: status %d: %s", res.StatusCode, data)
	}
	var q domain.Request
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if q.Status != domain.RequestDraft || q.RequesterID != "alice" {
		t.Fatalf("unexpected draft: %+v", q)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/submit", map[string]any{}, asActor("alice", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/business-approve", map[string]any{}, asActor("bob", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("business approve: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/it-approve", nil, asActor("carol", domain.RoleITDirector))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("it approve: status %d: %s", res.StatusCode, data)
	}
	var approved struct {
		Request domain.Request `json:"request"`
		Project domain.Project `json:"project"`
	}
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("decode it-approve response: %v", err)
	}
	if approved.Request.Status != domain.RequestValidatedByIT {
		t.Fatalf("request status = %s", approved.Request.Status)
	}
	if approved.Project.Code != "P-001" || approved.Project.Phase != domain.PhaseAnalysis {
		t.Fatalf("unexpected project: %+v", approved.Project)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+approved.Project.ID, nil, asActor("alice", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list: status %d", res.StatusCode)
	}
	if code := decodeErrorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code = %s", code)
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", res.StatusCode)
	}
}

func TestErrorEnvelopeCodes(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/nope", nil, asActor("alice", ""))
	if res.StatusCode != http.StatusNotFound || decodeErrorCode(t, data) != "not_found" {
		t.Fatalf("missing request: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"title":      "Portail RH",
		"sponsor_id": "bob",
	}, asActor("alice", ""))
	var q domain.Request
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/submit", map[string]any{}, asActor("alice", ""))

	// double submit is an invalid transition
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/submit", map[string]any{}, asActor("alice", ""))
	if res.StatusCode != http.StatusConflict || decodeErrorCode(t, data) != "invalid_transition" {
		t.Fatalf("double submit: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}

	// a rejection without comment is unprocessable
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/business-reject", map[string]any{"comment": ""}, asActor("bob", ""))
	if res.StatusCode != http.StatusUnprocessableEntity || decodeErrorCode(t, data) != "comment_required" {
		t.Fatalf("empty comment: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}

	// near-duplicate titles surface candidates
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"title":      "PORTAIL-RH",
		"sponsor_id": "bob",
	}, asActor("alice", ""))
	var dup domain.Request
	if err := json.Unmarshal(data, &dup); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+dup.ID+"/submit", map[string]any{}, asActor("alice", ""))
	if res.StatusCode != http.StatusConflict || decodeErrorCode(t, data) != "duplicate_candidate" {
		t.Fatalf("duplicate submit: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+dup.ID+"/submit", map[string]any{"override_duplicate": true}, asActor("alice", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("override submit: status %d", res.StatusCode)
	}
}

func TestForbiddenForWrongActor(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"title":      "Outil BI",
		"sponsor_id": "bob",
	}, asActor("alice", ""))
	var q domain.Request
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/submit", map[string]any{}, asActor("alice", ""))

	// mallory is neither sponsor nor IT
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+q.ID+"/business-approve", map[string]any{}, asActor("mallory", ""))
	if res.StatusCode != http.StatusForbidden || decodeErrorCode(t, data) != "forbidden" {
		t.Fatalf("foreign approve: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}
}

func TestJWTAuthentication(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	sign := func(subject string, roles []string, key string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
			Roles:            roles,
		})
		signed, err := token.SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}

	// legacy headers are refused when not enabled
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, asActor("alice", ""))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header accepted: status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"Authorization": "Bearer " + sign("alice", nil, "wrong-secret"),
	})
	if res.StatusCode != http.StatusUnauthorized || decodeErrorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad signature: status %d code %s", res.StatusCode, decodeErrorCode(t, data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"title":      "Migration CRM",
		"sponsor_id": "bob",
	}, map[string]string{
		"Authorization": "Bearer " + sign("alice", nil, secret),
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("jwt create: status %d: %s", res.StatusCode, data)
	}
	var q domain.Request
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.RequesterID != "alice" {
		t.Fatalf("subject claim not mapped to actor: %+v", q)
	}
}
