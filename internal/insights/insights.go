// Package insights derives productivity signals from entity snapshots.
// Every operation is deterministic and side-effect-free: callers fetch
// tasks and focus sessions from their store and pass them in on each call.
package insights

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"focusline/internal/config"
	"focusline/internal/domain"
)

type Engine struct {
	Config *config.Config
	Now    func() time.Time
}

func New(cfg *config.Config) Engine {
	return Engine{
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Streak counts consecutive days ending today with at least one completed
// task. The walk starts at today's local date and stops at the first gap.
func (e Engine) Streak(tasks []domain.Task) (domain.Streak, error) {
	if e.Config == nil {
		return domain.Streak{}, errors.New("config not loaded")
	}
	days := map[string]bool{}
	for _, t := range tasks {
		if t.CompletedAt == nil {
			continue
		}
		ts, err := domain.ParseTime("completed_at", *t.CompletedAt)
		if err != nil {
			return domain.Streak{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
		days[ts.Local().Format("2006-01-02")] = true
	}
	count := 0
	cur := e.now().Local()
	for days[cur.Format("2006-01-02")] {
		count++
		cur = cur.AddDate(0, 0, -1)
	}
	return domain.Streak{Days: count}, nil
}

// Burnout averages focus minutes over the trailing window and maps the
// daily hours onto a risk level. The tasks argument is reserved for future
// per-task weighting and is intentionally unread.
func (e Engine) Burnout(sessions []domain.FocusSession, tasks []domain.Task) (domain.BurnoutAnalysis, error) {
	if e.Config == nil {
		return domain.BurnoutAnalysis{}, errors.New("config not loaded")
	}
	_ = tasks
	cfg := e.Config.Insights.Burnout
	windowStart := e.now().Add(-time.Duration(cfg.WindowDays) * 24 * time.Hour)
	totalMinutes := 0
	for _, s := range sessions {
		started, err := domain.ParseTime("started_at", s.StartedAt)
		if err != nil {
			return domain.BurnoutAnalysis{}, fmt.Errorf("session %s: %w", s.ID, err)
		}
		if started.Before(windowStart) {
			continue
		}
		totalMinutes += s.DurationMinutes
	}
	hoursPerDay := float64(totalMinutes) / float64(cfg.WindowDays) / 60
	analysis := domain.BurnoutAnalysis{
		HoursPerDay: hoursPerDay,
		WeeklyHours: float64(totalMinutes) / 60,
	}
	switch {
	case hoursPerDay > cfg.HighHoursPerDay:
		analysis.RiskLevel = "high"
		analysis.Recommendation = "You're averaging over 10 focus hours a day. Schedule recovery time before burnout hits."
	case hoursPerDay > cfg.MediumHoursPerDay:
		analysis.RiskLevel = "medium"
		analysis.Recommendation = "Your focus load is trending high. Protect at least one light day this week."
	default:
		analysis.RiskLevel = "low"
		analysis.Recommendation = "Your workload looks sustainable. Keep the current rhythm."
	}
	return analysis, nil
}

// Patterns finds the hour of day with the most completed sessions. Ties go
// to the hour seen first in the input, since the comparison is strictly
// greater-than.
func (e Engine) Patterns(sessions []domain.FocusSession) (domain.ProductivityPattern, error) {
	if e.Config == nil {
		return domain.ProductivityPattern{}, errors.New("config not loaded")
	}
	counts := map[int]int{}
	var order []int
	completed := 0
	for _, s := range sessions {
		if !s.Completed {
			continue
		}
		started, err := domain.ParseTime("started_at", s.StartedAt)
		if err != nil {
			return domain.ProductivityPattern{}, fmt.Errorf("session %s: %w", s.ID, err)
		}
		completed++
		hour := started.Local().Hour()
		if _, seen := counts[hour]; !seen {
			order = append(order, hour)
		}
		counts[hour]++
	}
	if completed < e.Config.Insights.Patterns.MinCompletedSessions {
		return domain.ProductivityPattern{InsufficientData: true}, nil
	}
	peak := order[0]
	for _, hour := range order[1:] {
		if counts[hour] > counts[peak] {
			peak = hour
		}
	}
	label := "evening"
	if peak < 12 {
		label = "morning"
	} else if peak < 17 {
		label = "afternoon"
	}
	peakCopy := peak
	return domain.ProductivityPattern{
		PeakHour:     &peakCopy,
		TimeOfDay:    label,
		SessionCount: counts[peak],
	}, nil
}

// Recommendations ranks open tasks by priority weight. At equal weight a
// task with a due date sorts ahead of one without, due-dated tasks sort by
// ascending due date, and undated tasks keep their input order. Returns the
// top few with a human-readable reason each.
func (e Engine) Recommendations(tasks []domain.Task) (domain.TaskRecommendations, error) {
	if e.Config == nil {
		return domain.TaskRecommendations{}, errors.New("config not loaded")
	}
	var open []domain.Task
	for _, t := range tasks {
		if t.Status != domain.StatusCompleted {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return domain.TaskRecommendations{
			Items:   []domain.TaskRecommendation{},
			Message: "You're all caught up. Nothing needs attention right now.",
		}, nil
	}
	dues := make(map[string]time.Time, len(open))
	for _, t := range open {
		if t.DueDate == nil {
			continue
		}
		due, err := domain.ParseDate("due_date", *t.DueDate)
		if err != nil {
			return domain.TaskRecommendations{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
		dues[t.ID] = due
	}
	sort.SliceStable(open, func(i, j int) bool {
		wi, wj := priorityWeight(open[i].Priority), priorityWeight(open[j].Priority)
		if wi != wj {
			return wi > wj
		}
		di, iok := dues[open[i].ID]
		dj, jok := dues[open[j].ID]
		if iok != jok {
			return iok
		}
		if iok {
			return di.Before(dj)
		}
		return false
	})
	limit := e.Config.Insights.Recommendations.Limit
	if len(open) > limit {
		open = open[:limit]
	}
	items := make([]domain.TaskRecommendation, 0, len(open))
	for _, t := range open {
		reason := fmt.Sprintf("%s priority", t.Priority)
		if t.DueDate != nil {
			reason += ", due soon"
		}
		items = append(items, domain.TaskRecommendation{Task: t, Reason: reason})
	}
	return domain.TaskRecommendations{Items: items}, nil
}

// EstimateDuration returns the task's own estimate when set, the rounded
// average over completed same-category history otherwise, and the
// configured per-category default as a last resort.
func (e Engine) EstimateDuration(task domain.Task, history []domain.Task) (int, error) {
	if e.Config == nil {
		return 0, errors.New("config not loaded")
	}
	if task.EstimateMinutes != nil {
		return *task.EstimateMinutes, nil
	}
	sum, n := 0, 0
	for _, h := range history {
		if h.Status != domain.StatusCompleted || h.Category != task.Category || h.EstimateMinutes == nil {
			continue
		}
		sum += *h.EstimateMinutes
		n++
	}
	if n > 0 {
		return int(math.Round(float64(sum) / float64(n))), nil
	}
	if minutes, ok := e.Config.Insights.Durations.Defaults[task.Category]; ok {
		return minutes, nil
	}
	return e.Config.Insights.Durations.FallbackMinutes, nil
}

func priorityWeight(priority string) int {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityMedium:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
