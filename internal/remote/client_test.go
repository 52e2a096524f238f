package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"focusline/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   string
	bearer string
}

func newTestServer(t *testing.T, status int) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.body = string(body)
		rec.bearer = r.Header.Get("Authorization")
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), rec
}

func TestExecRoutesByTag(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK)
	op := domain.QueuedOperation{
		ID:      "op-1",
		Op:      "create_task",
		Payload: json.RawMessage(`{"title":"offline edit"}`),
	}
	if err := client.Exec(context.Background(), op); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/tasks" {
		t.Fatalf("expected POST /tasks, got %s %s", rec.method, rec.path)
	}
	if rec.body != `{"title":"offline edit"}` {
		t.Fatalf("payload must pass through unchanged, got %s", rec.body)
	}
}

func TestExecUnknownTag(t *testing.T) {
	client, _ := newTestServer(t, http.StatusOK)
	err := client.Exec(context.Background(), domain.QueuedOperation{Op: "exfiltrate_everything"})
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestExecNonSuccessStatus(t *testing.T) {
	client, _ := newTestServer(t, http.StatusBadGateway)
	err := client.Exec(context.Background(), domain.QueuedOperation{Op: "delete_note", Payload: json.RawMessage(`{}`)})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", apiErr.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rec.method != http.MethodGet || rec.path != "/health" {
		t.Fatalf("expected GET /health, got %s %s", rec.method, rec.path)
	}
}

func TestBearerTokenHeader(t *testing.T) {
	client, rec := newTestServer(t, http.StatusOK)
	client.BearerToken = "tok"
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rec.bearer != "Bearer tok" {
		t.Fatalf("expected bearer header, got %q", rec.bearer)
	}
}
