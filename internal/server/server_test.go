package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"focusline/internal/app"
	"focusline/internal/config"
	"focusline/internal/domain"
	"focusline/internal/insights"
	"focusline/internal/queue"
	"focusline/internal/storage"
)

const testSecret = "test-secret"

func testApp(t *testing.T, execute queue.Executor) *app.App {
	t.Helper()
	cfg := config.Default("test")
	eng := insights.New(cfg)
	eng.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local) }
	q := queue.New(context.Background(), queue.Options{
		Store:   storage.NewMemoryKV(),
		Execute: execute,
	})
	return &app.App{
		Config:   cfg,
		Insights: eng,
		Queue:    q,
		Log:      zap.NewNop(),
	}
}

func startServer(t *testing.T, a *app.App) string {
	t.Helper()
	handler, err := New(Config{App: a, Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return "http://" + ln.Addr().String() + "/v0"
}

func mintToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthUnauthenticated(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	var out struct {
		Status string `json:"status"`
	}
	status := doJSON(t, http.MethodGet, base+"/health", "", nil, &out)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.Status != "ok" {
		t.Fatalf("expected ok, got %q", out.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	status := doJSON(t, http.MethodGet, base+"/queue/status", "", nil, &out)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if out.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", out.Error.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	status := doJSON(t, http.MethodGet, base+"/queue/status", "not-a-jwt", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestStreakEndpoint(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	token := mintToken(t, "u1")

	completedAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local).Format(time.RFC3339)
	body := map[string]any{
		"tasks": []domain.Task{{
			ID:          "t1",
			Title:       "done today",
			Status:      domain.StatusCompleted,
			Priority:    domain.PriorityMedium,
			Category:    domain.CategoryDaily,
			CompletedAt: &completedAt,
		}},
	}
	var out domain.Streak
	status := doJSON(t, http.MethodPost, base+"/insights/streak", token, body, &out)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.Days != 1 {
		t.Fatalf("expected streak 1, got %d", out.Days)
	}
}

func TestStreakEndpointRejectsMalformedTimestamp(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	token := mintToken(t, "u1")

	bad := "yesterday-ish"
	body := map[string]any{
		"tasks": []domain.Task{{ID: "t1", Status: domain.StatusCompleted, CompletedAt: &bad}},
	}
	// Either the schema validation or the engine rejects the value; both
	// are caller errors.
	status := doJSON(t, http.MethodPost, base+"/insights/streak", token, body, nil)
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 400 or 422, got %d", status)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	token := mintToken(t, "u1")

	body := map[string]any{
		"task": domain.Task{
			ID:       "t1",
			Title:    "plan the rollout",
			Status:   domain.StatusTodo,
			Priority: domain.PriorityLow,
			Category: domain.CategoryProject,
		},
		"history": []domain.Task{},
	}
	var out struct {
		Minutes int `json:"minutes"`
	}
	status := doJSON(t, http.MethodPost, base+"/insights/estimate", token, body, &out)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.Minutes != 60 {
		t.Fatalf("expected project default 60, got %d", out.Minutes)
	}
}

func TestQueueEndpoints(t *testing.T) {
	executed := make(chan string, 8)
	a := testApp(t, func(ctx context.Context, op domain.QueuedOperation) error {
		executed <- op.Op
		return nil
	})
	base := startServer(t, a)
	token := mintToken(t, "u1")

	var enq struct {
		ID string `json:"id"`
	}
	status := doJSON(t, http.MethodPost, base+"/queue/operations", token, map[string]any{
		"op":      "create_task",
		"payload": map[string]any{"title": "offline edit"},
	}, &enq)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	if enq.ID == "" {
		t.Fatal("expected an operation id")
	}

	var st struct {
		Pending int  `json:"pending"`
		Online  bool `json:"online"`
	}
	if status := doJSON(t, http.MethodGet, base+"/queue/status", token, nil, &st); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if st.Pending != 1 || st.Online {
		t.Fatalf("expected 1 pending offline, got %+v", st)
	}

	a.Queue.SetOnline(true)
	select {
	case op := <-executed:
		if op != "create_task" {
			t.Fatalf("expected create_task executed, got %s", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not execute the pending operation")
	}

	var drain struct {
		Executed int `json:"executed"`
		Pending  int `json:"pending"`
	}
	if status := doJSON(t, http.MethodPost, base+"/queue/drain", token, nil, &drain); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if drain.Pending != 0 {
		t.Fatalf("expected empty queue after drain, got %d pending", drain.Pending)
	}
}

func TestQueueClearEndpoint(t *testing.T) {
	a := testApp(t, func(ctx context.Context, op domain.QueuedOperation) error {
		return fmt.Errorf("unreachable remote")
	})
	base := startServer(t, a)
	token := mintToken(t, "u1")

	for i := 0; i < 3; i++ {
		doJSON(t, http.MethodPost, base+"/queue/operations", token, map[string]any{"op": "create_note"}, nil)
	}
	var out struct {
		Pending int `json:"pending"`
	}
	status := doJSON(t, http.MethodDelete, base+"/queue/operations", token, nil, &out)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.Pending != 0 {
		t.Fatalf("expected cleared queue, got %d pending", out.Pending)
	}
}

func TestEnqueueRequiresOp(t *testing.T) {
	base := startServer(t, testApp(t, nil))
	token := mintToken(t, "u1")
	status := doJSON(t, http.MethodPost, base+"/queue/operations", token, map[string]any{"payload": map[string]any{}}, nil)
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 400 or 422, got %d", status)
	}
}
