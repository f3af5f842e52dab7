package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lastword/internal/server/config"
	"lastword/internal/server/engine"
	"lastword/internal/server/notify"
	"lastword/internal/server/repository/sqlite"
	"lastword/internal/server/service"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

const testCronToken = "cron-secret"

func newTestServer(t *testing.T, name string) (http.Handler, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	cfg := config.Config{
		JWTSecret:            "test",
		MinIntervalDays:      2,
		MaxIntervalDays:      365,
		SweepBatchSize:       100,
		MaxReminderRetries:   5,
		MaxRecipientAttempts: 3,
	}
	svcs := service.NewServices(repo, cfg, testKey)
	eng := engine.New(repo, &notify.LogDispatcher{}, &notify.LogAdminNotifier{}, testKey, cfg, nil)
	return NewRouter(svcs, eng, nil, testCronToken, 1<<20), repo
}

func doJSON(t *testing.T, ts http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	return rr
}

func registerAndLogin(t *testing.T, ts http.Handler, email string) map[string]string {
	t.Helper()
	rr := doJSON(t, ts, "POST", "/api/v1/auth/register", map[string]string{"email": email, "password": "pass"}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, ts, "POST", "/api/v1/auth/login", map[string]string{"email": email, "password": "pass"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &tokens); err != nil || tokens.AccessToken == "" {
		t.Fatalf("tokens: %v %s", err, rr.Body.String())
	}
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}

func createSecretBody() map[string]any {
	return map[string]any{
		"title":   "letters",
		"payload": "tell them everything",
		"recipients": []map[string]string{
			{"name": "Alice", "email": "alice@example.com", "contact_method": "email"},
		},
		"interval_days": 30,
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, "api_health")
	rr := doJSON(t, ts, "GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status: %d", rr.Code)
	}
}

func TestSecretLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, "api_lifecycle")
	auth := registerAndLogin(t, ts, "u@example.com")

	rr := doJSON(t, ts, "POST", "/api/v1/secrets", createSecretBody(), auth)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Secret struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"secret"`
		CheckInToken string `json:"check_in_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Secret.Status != "active" || created.CheckInToken == "" {
		t.Fatalf("created: %+v", created)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("tell them everything")) {
		t.Fatal("API response leaked plaintext")
	}

	id := created.Secret.ID
	rr = doJSON(t, ts, "GET", "/api/v1/secrets", nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	rr = doJSON(t, ts, "GET", "/api/v1/secrets/"+id, nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	rr = doJSON(t, ts, "POST", "/api/v1/secrets/"+id+"/checkin", nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("checkin: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, ts, "PUT", "/api/v1/secrets/"+id+"/interval", map[string]int{"interval_days": 60}, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("interval: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, ts, "GET", "/api/v1/secrets/"+id+"/reminders", nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("reminders: %d", rr.Code)
	}
	rr = doJSON(t, ts, "POST", "/api/v1/secrets/"+id+"/pause", nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, ts, "POST", "/api/v1/secrets/"+id+"/resume", nil, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, ts, "DELETE", "/api/v1/secrets/"+id, nil, auth)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
}

func TestUserIsolation(t *testing.T) {
	ts, _ := newTestServer(t, "api_isolation")
	owner := registerAndLogin(t, ts, "owner@example.com")
	intruder := registerAndLogin(t, ts, "intruder@example.com")

	rr := doJSON(t, ts, "POST", "/api/v1/secrets", createSecretBody(), owner)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	var created struct {
		Secret struct {
			ID string `json:"id"`
		} `json:"secret"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	id := created.Secret.ID

	for _, probe := range []struct{ method, path string }{
		{"GET", "/api/v1/secrets/" + id},
		{"POST", "/api/v1/secrets/" + id + "/checkin"},
		{"POST", "/api/v1/secrets/" + id + "/pause"},
		{"DELETE", "/api/v1/secrets/" + id},
	} {
		rr := doJSON(t, ts, probe.method, probe.path, nil, intruder)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s as intruder: %d", probe.method, probe.path, rr.Code)
		}
	}
	// unauthenticated requests never reach the handler
	rr = doJSON(t, ts, "GET", "/api/v1/secrets/"+id, nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous get: %d", rr.Code)
	}
}

func TestCronSweepAuth(t *testing.T) {
	ts, _ := newTestServer(t, "api_cron")
	rr := doJSON(t, ts, "POST", "/api/v1/cron/sweep", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing cron token: %d", rr.Code)
	}
	rr = doJSON(t, ts, "POST", "/api/v1/cron/sweep", nil, map[string]string{"X-Cron-Token": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong cron token: %d", rr.Code)
	}
	rr = doJSON(t, ts, "POST", "/api/v1/cron/sweep", nil, map[string]string{"X-Cron-Token": testCronToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("valid cron token: %d %s", rr.Code, rr.Body.String())
	}
	var sum struct {
		Processed *int `json:"processed"`
		Triggered *int `json:"triggered"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil || sum.Processed == nil || sum.Triggered == nil {
		t.Fatalf("summary shape: %v %s", err, rr.Body.String())
	}
}

func TestCheckInByTokenEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "api_token")
	auth := registerAndLogin(t, ts, "u@example.com")
	rr := doJSON(t, ts, "POST", "/api/v1/secrets", createSecretBody(), auth)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	var created struct {
		CheckInToken string `json:"check_in_token"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)

	rr = doJSON(t, ts, "POST", "/api/v1/checkin/"+created.CheckInToken, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("token check-in: %d %s", rr.Code, rr.Body.String())
	}
	var next struct {
		CheckInToken string `json:"check_in_token"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &next)
	if next.CheckInToken == "" || next.CheckInToken == created.CheckInToken {
		t.Fatalf("no fresh token issued: %q", next.CheckInToken)
	}
	// replay
	rr = doJSON(t, ts, "POST", "/api/v1/checkin/"+created.CheckInToken, nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("token replay: %d", rr.Code)
	}
}

func TestTriggeredSecretConflictsOverHTTP(t *testing.T) {
	ts, repo := newTestServer(t, "api_triggered")
	auth := registerAndLogin(t, ts, "u@example.com")
	rr := doJSON(t, ts, "POST", "/api/v1/secrets", createSecretBody(), auth)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	var created struct {
		Secret struct {
			ID string `json:"id"`
		} `json:"secret"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)

	won, err := repo.MarkTriggered(context.Background(), created.Secret.ID, time.Now().UTC())
	if err != nil || !won {
		t.Fatalf("trigger: %v", err)
	}
	for _, path := range []string{"/checkin", "/pause", "/resume"} {
		rr := doJSON(t, ts, "POST", "/api/v1/secrets/"+created.Secret.ID+path, nil, auth)
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s on triggered secret: %d %s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestCreateSecretValidationOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, "api_validate")
	auth := registerAndLogin(t, ts, "u@example.com")

	body := createSecretBody()
	body["interval_days"] = 1
	rr := doJSON(t, ts, "POST", "/api/v1/secrets", body, auth)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad interval: %d", rr.Code)
	}
	body = createSecretBody()
	body["recipients"] = []map[string]string{}
	rr = doJSON(t, ts, "POST", "/api/v1/secrets", body, auth)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("no recipients: %d", rr.Code)
	}
}
