package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"focusline/internal/app"
	"focusline/internal/domain"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"started_at is not a valid timestamp"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Focusline API. Callers supply
// entity snapshots in request bodies; the server never reaches into their
// store.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Focusline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerInsights(group, cfg.App)
	registerQueue(group, cfg.App)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope. Malformed snapshot
// records are caller mistakes, not server faults.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "parse"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		out.Body.Status = "ok"
		return out, nil
	})
}

func registerInsights(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-streak",
		Method:      http.MethodPost,
		Path:        "/insights/streak",
		Summary:     "Compute completion streak",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Tasks []domain.Task `json:"tasks"`
		} `json:"body"`
	}) (*struct {
		Body domain.Streak `json:"body"`
	}, error) {
		streak, err := a.Insights.Streak(input.Body.Tasks)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Streak `json:"body"`
		}{Body: streak}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-burnout",
		Method:      http.MethodPost,
		Path:        "/insights/burnout",
		Summary:     "Analyze burnout risk over the trailing window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.Snapshot `json:"body"`
	}) (*struct {
		Body domain.BurnoutAnalysis `json:"body"`
	}, error) {
		analysis, err := a.Insights.Burnout(input.Body.Sessions, input.Body.Tasks)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BurnoutAnalysis `json:"body"`
		}{Body: analysis}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-patterns",
		Method:      http.MethodPost,
		Path:        "/insights/patterns",
		Summary:     "Detect peak productivity hour",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Sessions []domain.FocusSession `json:"sessions"`
		} `json:"body"`
	}) (*struct {
		Body domain.ProductivityPattern `json:"body"`
	}, error) {
		pattern, err := a.Insights.Patterns(input.Body.Sessions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProductivityPattern `json:"body"`
		}{Body: pattern}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recommend-tasks",
		Method:      http.MethodPost,
		Path:        "/insights/recommendations",
		Summary:     "Recommend next tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Tasks []domain.Task `json:"tasks"`
		} `json:"body"`
	}) (*struct {
		Body domain.TaskRecommendations `json:"body"`
	}, error) {
		recs, err := a.Insights.Recommendations(input.Body.Tasks)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskRecommendations `json:"body"`
		}{Body: recs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "estimate-duration",
		Method:      http.MethodPost,
		Path:        "/insights/estimate",
		Summary:     "Estimate task duration in minutes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Task    domain.Task   `json:"task"`
			History []domain.Task `json:"history"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Minutes int `json:"minutes"`
		} `json:"body"`
	}, error) {
		minutes, err := a.Insights.EstimateDuration(input.Body.Task, input.Body.History)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Minutes int `json:"minutes"`
			} `json:"body"`
		}{}
		out.Body.Minutes = minutes
		return out, nil
	})
}

type queueStatusResponse struct {
	Pending   int  `json:"pending"`
	Discarded int  `json:"discarded"`
	Online    bool `json:"online"`
}

func registerQueue(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-operation",
		Method:        http.MethodPost,
		Path:          "/queue/operations",
		Summary:       "Enqueue an offline mutation",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Op       string            `json:"op" example:"create_task"`
			Payload  map[string]any    `json:"payload,omitempty"`
			Metadata map[string]string `json:"metadata,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			ID string `json:"id"`
		} `json:"body"`
	}, error) {
		if input.Body.Op == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "op is required", nil)
		}
		payload, err := marshalPayload(input.Body.Payload)
		if err != nil {
			return nil, handleError(err)
		}
		id := a.Queue.Enqueue(ctx, input.Body.Op, payload, input.Body.Metadata)
		out := &struct {
			Body struct {
				ID string `json:"id"`
			} `json:"body"`
		}{}
		out.Body.ID = id
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-status",
		Method:      http.MethodGet,
		Path:        "/queue/status",
		Summary:     "Queue diagnostics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body queueStatusResponse `json:"body"`
	}, error) {
		return &struct {
			Body queueStatusResponse `json:"body"`
		}{Body: queueStatusResponse{
			Pending:   a.Queue.Len(),
			Discarded: a.Queue.DiscardedCount(),
			Online:    a.Queue.Online(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drain-queue",
		Method:      http.MethodPost,
		Path:        "/queue/drain",
		Summary:     "Trigger a drain pass",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Executed  int `json:"executed"`
			Requeued  int `json:"requeued"`
			Discarded int `json:"discarded"`
			Pending   int `json:"pending"`
		} `json:"body"`
	}, error) {
		res := a.Queue.Drain(ctx)
		out := &struct {
			Body struct {
				Executed  int `json:"executed"`
				Requeued  int `json:"requeued"`
				Discarded int `json:"discarded"`
				Pending   int `json:"pending"`
			} `json:"body"`
		}{}
		out.Body.Executed = res.Executed
		out.Body.Requeued = res.Requeued
		out.Body.Discarded = res.Discarded
		out.Body.Pending = a.Queue.Len()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-queue",
		Method:      http.MethodDelete,
		Path:        "/queue/operations",
		Summary:     "Clear pending operations (user reset)",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body queueStatusResponse `json:"body"`
	}, error) {
		if err := a.Queue.Clear(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body queueStatusResponse `json:"body"`
		}{Body: queueStatusResponse{
			Pending:   a.Queue.Len(),
			Discarded: a.Queue.DiscardedCount(),
			Online:    a.Queue.Online(),
		}}, nil
	})
}

func marshalPayload(payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return data, nil
}
