package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"focusline/internal/app"
	"focusline/internal/config"
	"focusline/internal/db"
	"focusline/internal/domain"
	"focusline/internal/queue"
	"focusline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Focusline CLI",
	Long: `Focusline derives productivity insights from your tasks and focus
sessions, and keeps mutations made while offline in a durable replay queue.

- Insights: streak, burnout risk, peak focus hour, task recommendations,
  and duration estimates, computed from a snapshot you pass in.
- Offline queue: mutations enqueued while disconnected are persisted in the
  workspace database and replayed in order on reconnect, with a bounded
  retry count. Failed-for-good operations are recorded in the event log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOCUSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("app-id", "focusline", "app identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("app-id", rootCmd.PersistentFlags().Lookup("app-id"))
}

func registerCommands() {
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- insights ---

func insightsCmd() *cobra.Command {
	ins := &cobra.Command{
		Use:   "insights",
		Short: "Derive productivity insights from a snapshot",
		Long:  "Insights are recomputed from scratch on every call. Feed them a snapshot JSON file with tasks and sessions (fl insights streak --snapshot day.json).",
	}
	ins.AddCommand(streakCmd())
	ins.AddCommand(burnoutCmd())
	ins.AddCommand(patternsCmd())
	ins.AddCommand(recommendCmd())
	ins.AddCommand(estimateCmd())
	return ins
}

func streakCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Consecutive-day completion streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				streak, err := a.Insights.Streak(snap.Tasks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(streak)
				}
				fmt.Printf("Current streak: %d day(s)\n", streak.Days)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot JSON file")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func burnoutCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "burnout",
		Short: "Burnout risk over the trailing week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				analysis, err := a.Insights.Burnout(snap.Sessions, snap.Tasks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(analysis)
				}
				fmt.Printf("Risk: %s (%.2f h/day, %.1f h this week)\n%s\n",
					analysis.RiskLevel, analysis.HoursPerDay, analysis.WeeklyHours, analysis.Recommendation)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot JSON file")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func patternsCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Peak focus hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				pattern, err := a.Insights.Patterns(snap.Sessions)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pattern)
				}
				if pattern.InsufficientData {
					fmt.Println("Not enough completed sessions yet to detect a pattern.")
					return nil
				}
				fmt.Printf("Peak hour: %02d:00 (%s, %d sessions)\n", *pattern.PeakHour, pattern.TimeOfDay, pattern.SessionCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot JSON file")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func recommendCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend next tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				recs, err := a.Insights.Recommendations(snap.Tasks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				if len(recs.Items) == 0 {
					fmt.Println(recs.Message)
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Priority", "Due", "Reason"})
				for _, item := range recs.Items {
					due := ""
					if item.Task.DueDate != nil {
						due = *item.Task.DueDate
					}
					tw.AppendRow(table.Row{item.Task.Title, item.Task.Priority, due, item.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot JSON file")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func estimateCmd() *cobra.Command {
	var snapshotPath, taskID string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate a task's duration in minutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				var target *domain.Task
				for i := range snap.Tasks {
					if snap.Tasks[i].ID == taskID {
						target = &snap.Tasks[i]
						break
					}
				}
				if target == nil {
					return fmt.Errorf("task %s not found in snapshot", taskID)
				}
				minutes, err := a.Insights.EstimateDuration(*target, snap.Tasks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task_id": taskID, "minutes": minutes})
				}
				fmt.Printf("Estimated duration for %q: %d min\n", target.Title, minutes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot JSON file")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id within the snapshot")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

// --- queue ---

func queueCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Manage the offline operation queue",
		Long:  "Operations enqueued here survive restarts (persisted in the workspace database) and are replayed against the remote in FIFO order. Each operation gets 3 attempts before it is dropped and logged.",
	}
	q.AddCommand(queueEnqueueCmd())
	q.AddCommand(queueListCmd())
	q.AddCommand(queueStatusCmd())
	q.AddCommand(queueDrainCmd())
	q.AddCommand(queueClearCmd())
	return q
}

func queueEnqueueCmd() *cobra.Command {
	var opTag, payloadJSON string
	var meta []string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a mutation for later replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if payloadJSON == "" {
				payloadJSON = "{}"
			}
			if !json.Valid([]byte(payloadJSON)) {
				return fmt.Errorf("--payload-json is not valid JSON")
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id := a.Queue.Enqueue(ctx, opTag, json.RawMessage(payloadJSON), metadata)
				return printJSONOrText(map[string]any{"id": id, "pending": a.Queue.Len()},
					fmt.Sprintf("Queued %s as %s (%d pending)\n", opTag, id, a.Queue.Len()))
			})
		},
	}
	cmd.Flags().StringVar(&opTag, "op", "", "operation tag (create_task, update_note, ...)")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "operation payload JSON")
	cmd.Flags().StringArrayVar(&meta, "meta", []string{}, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items := a.Queue.Items()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Op", "Enqueued", "Attempts"})
				for _, op := range items {
					tw.AppendRow(table.Row{op.ID, op.Op, op.EnqueuedAt, op.Attempts})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func queueStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Queue diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				discardedEver, err := a.Events.CountByType(ctx, app.EventQueueDiscarded)
				if err != nil {
					return err
				}
				out := map[string]any{
					"pending":         a.Queue.Len(),
					"failed_total":    discardedEver,
					"remote_base_url": a.Config.Remote.BaseURL,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Pending: %d\nFailed operations (all time): %d\n", a.Queue.Len(), discardedEver)
				return nil
			})
		},
	}
	return cmd
}

func queueDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay pending operations against the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Remote.BaseURL == "" {
					return fmt.Errorf("remote.base_url not configured; set it in %s", config.Path(viper.GetString("workspace")))
				}
				if err := a.Remote.Health(ctx); err != nil {
					return fmt.Errorf("remote unreachable: %w", err)
				}
				a.Queue.SetOnline(true)
				var total queue.DrainResult
				for {
					res := a.Queue.Drain(ctx)
					total.Executed += res.Executed
					total.Requeued += res.Requeued
					total.Discarded += res.Discarded
					if res.Executed+res.Requeued+res.Discarded == 0 {
						break
					}
				}
				return printJSONOrText(total,
					fmt.Sprintf("Executed %d, requeued %d, discarded %d (%d still pending)\n",
						total.Executed, total.Requeued, total.Discarded, a.Queue.Len()))
			})
		},
	}
	return cmd
}

func queueClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop all pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Queue.Clear(ctx); err != nil {
					return err
				}
				if err := a.Events.Append(ctx, "queue.cleared", "queue", "", nil); err != nil {
					a.Log.Warn("record clear event", zap.Error(err))
				}
				fmt.Println("queue cleared")
				return nil
			})
		},
	}
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSON(a.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate focusline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default focusline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			content := config.GenerateDefault(viper.GetString("app-id"))
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

// --- events ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Diagnostics event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Events.Latest(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := os.Getenv("FOCUSLINE_JWT_SECRET")
				if secret == "" {
					return fmt.Errorf("FOCUSLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					App:      a,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				a.Monitor.Start(ctx)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Focusline API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("app-id"), newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func readSnapshot(path string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return snap, nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Print(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
