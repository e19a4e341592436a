package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1},
	})
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

// signup registers a user and returns the bearer auth header plus the user.
func signup(t *testing.T, srv *testServer, username string) (map[string]string, domain.User) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s status %d: %s", username, res.StatusCode, string(data))
	}
	var body AuthResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal signup: %v", err)
	}
	if body.Token == "" {
		t.Fatalf("signup should issue a token")
	}
	return map[string]string{"Authorization": "Bearer " + body.Token}, body.User
}

func TestSignupLoginFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, user := signup(t, srv, "alice")
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "secret123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var body AuthResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + body.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me domain.User
	_ = json.Unmarshal(data, &me)
	if me.Username != "alice" {
		t.Fatalf("me returned %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password should be 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUsernameCheck(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	signup(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/username-check?username=alice", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", res.StatusCode, string(data))
	}
	var check UsernameCheckResponse
	_ = json.Unmarshal(data, &check)
	if check.Available {
		t.Fatalf("taken username reported available")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/username-check?username=bob", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &check)
	if !check.Available {
		t.Fatalf("free username reported taken")
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should stay public, got %d", res.StatusCode)
	}
}

func TestTaskPermissionsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	ownerHdr, _ := signup(t, srv, "owner")
	assigneeHdr, assignee := signup(t, srv, "assignee")
	strangerHdr, _ := signup(t, srv, "stranger")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Shared work",
	}, ownerHdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/tasks/"+itoa(created.ID)+"/assignments", map[string]any{
		"assigned_user_ids": []int64{assignee.ID},
	}, ownerHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var status domain.AssignmentStatus
	_ = json.Unmarshal(data, &status)
	if !status.IsAssigned || status.AssignmentCount != 1 || status.CanBeReassigned {
		t.Fatalf("assignment projection wrong: %+v", status)
	}

	// assignee can read but not edit
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+itoa(created.ID), nil, assigneeHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assignee read status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/tasks/"+itoa(created.ID), map[string]any{
		"title": "Hijacked",
	}, assigneeHdr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee edit should be 403, got %d: %s", res.StatusCode, string(data))
	}

	// strangers cannot even see the task
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+itoa(created.ID), nil, strangerHdr)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger read should be 404, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/tasks/"+itoa(created.ID)+"/assignments", map[string]any{
		"assigned_user_ids": []int64{},
	}, assigneeHdr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee reassignment should be 403, got %d: %s", res.StatusCode, string(data))
	}

	// status toggles are open to assignees
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+itoa(created.ID)+"/status", map[string]any{
		"status": "Completed",
	}, assigneeHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assignee status update %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+itoa(created.ID), nil, assigneeHdr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee delete should be 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+itoa(created.ID), nil, ownerHdr)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete status %d: %s", res.StatusCode, string(data))
	}
}

func TestCommentsAndDashboard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	ownerHdr, _ := signup(t, srv, "owner")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Commented work",
	}, ownerHdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+itoa(created.ID)+"/comments", map[string]any{
		"comment": "first note",
	}, ownerHdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(data))
	}
	var comment domain.Comment
	_ = json.Unmarshal(data, &comment)
	if comment.Comment != "first note" {
		t.Fatalf("unexpected comment: %+v", comment)
	}
	if comment.Username != "" && comment.Username != "owner" {
		t.Fatalf("unexpected comment author: %+v", comment)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/dashboard/statistics", nil, ownerHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var stats engine.DashboardStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalTasks != 1 || stats.PendingTasks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	ownerHdr, _ := signup(t, srv, "owner")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"name": "ci",
	}, ownerHdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apikey create status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyCreateResponse
	_ = json.Unmarshal(data, &key)
	if key.Key == "" {
		t.Fatalf("plaintext key missing: %+v", key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": "tl_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key should be 401, got %d: %s", res.StatusCode, string(data))
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
