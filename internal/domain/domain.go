package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task categories.
const (
	CategoryDaily   = "daily"
	CategoryWeekly  = "weekly"
	CategoryProject = "project"
	CategorySomeday = "someday"
)

type Task struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Status          string  `json:"status" enum:"todo,in_progress,completed"`
	Priority        string  `json:"priority" enum:"low,medium,high"`
	Category        string  `json:"category" enum:"daily,weekly,project,someday"`
	DueDate         *string `json:"due_date,omitempty" format:"date"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	EstimateMinutes *int    `json:"estimate_minutes,omitempty"`
}

type FocusSession struct {
	ID              string  `json:"id"`
	TaskID          *string `json:"task_id,omitempty"`
	DurationMinutes int     `json:"duration_minutes"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	Completed       bool    `json:"completed"`
}

// Streak is the consecutive-day completion count ending today.
type Streak struct {
	Days int `json:"days"`
}

type BurnoutAnalysis struct {
	RiskLevel      string  `json:"risk_level" enum:"low,medium,high"`
	HoursPerDay    float64 `json:"hours_per_day"`
	WeeklyHours    float64 `json:"weekly_hours"`
	Recommendation string  `json:"recommendation"`
}

type ProductivityPattern struct {
	InsufficientData bool   `json:"insufficient_data"`
	PeakHour         *int   `json:"peak_hour,omitempty"`
	TimeOfDay        string `json:"time_of_day,omitempty" enum:"morning,afternoon,evening"`
	SessionCount     int    `json:"session_count,omitempty"`
}

type TaskRecommendation struct {
	Task   Task   `json:"task"`
	Reason string `json:"reason"`
}

type TaskRecommendations struct {
	Items   []TaskRecommendation `json:"items"`
	Message string               `json:"message,omitempty"`
}

// QueuedOperation is a mutating intent captured while offline. It is owned
// exclusively by the offline queue and destroyed on successful execution or
// once it exceeds the retry ceiling.
type QueuedOperation struct {
	ID         string            `json:"id"`
	Op         string            `json:"op"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt string            `json:"enqueued_at" format:"date-time"`
	Attempts   int               `json:"attempts"`
}

// Snapshot bundles the entity lists a caller fetched from its store and
// passes into the insights engine.
type Snapshot struct {
	Tasks    []Task         `json:"tasks"`
	Sessions []FocusSession `json:"sessions"`
}

// ParseTime parses an RFC 3339 timestamp carried by an entity record.
func ParseTime(field, value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return ts, nil
}

// ParseDate parses a calendar date, accepting either a bare date or a full
// timestamp (the surrounding app has stored both shapes over time).
func ParseDate(field, value string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", value); err == nil {
		return d, nil
	}
	return ParseTime(field, value)
}
