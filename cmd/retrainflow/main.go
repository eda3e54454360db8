package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelops/retrainflow/pkg/config"
	"github.com/modelops/retrainflow/pkg/history"
	"github.com/modelops/retrainflow/pkg/pipeline"
	"github.com/modelops/retrainflow/pkg/retrain"
	"github.com/modelops/retrainflow/pkg/schedule"
	"github.com/modelops/retrainflow/pkg/telegram"
)

var configFile string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "retrainflow",
		Short: "ML retrain pipeline with a conditional deploy gate and chat notifications",
		Long: `Retrainflow runs a model retraining pipeline: train, evaluate, check the
	metrics against an accuracy threshold, then either deploy or skip, and
	notify a Telegram chat about the outcome.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(tasksCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var seed int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run",
		Long: `Runs the retrain pipeline once and prints a per-task summary.

	The run is marked failed only when a task fails; a skipped deploy branch
	still counts as a successful run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			result, err := executeOnce(ctx, cfg, seed)
			if err != nil {
				return err
			}

			printSummary(os.Stdout, result)
			if !result.Succeeded() {
				return fmt.Errorf("run %s failed", result.RunID)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for the synthetic metrics sampler (0 = random)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline once a day",
		Long: `Starts a foreground scheduler that triggers one pipeline run per day at
	the configured HH:MM UTC. Missed trigger times are not caught up. When
	--config points at a file, edits to it take effect from the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sched := schedule.New(slog.Default(), cfg, func(ctx context.Context, cfg *config.Config) error {
				_, err := executeOnce(ctx, cfg, 0)
				return err
			})
			return sched.Start(ctx, configFile)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the pipeline graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if _, err := buildPipeline(cfg, 0); err != nil {
				return fmt.Errorf("pipeline graph invalid: %w", err)
			}

			fmt.Printf("configuration ok\n")
			fmt.Printf("  model version:      %s\n", cfg.ModelVersion)
			fmt.Printf("  accuracy threshold: %g\n", cfg.AccuracyThreshold)
			fmt.Printf("  schedule at:        %s UTC\n", cfg.ScheduleAt)
			fmt.Printf("  history dir:        %s\n", cfg.HistoryDir)
			fmt.Printf("  telegram:           %s\n", telegramStatus(cfg))
			return nil
		},
	}
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the pipeline's tasks and dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			p, err := buildPipeline(cfg, 0)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tDEPENDS ON\tTRIGGER")
			for _, t := range p.Tasks() {
				deps := strings.Join(t.DependsOn, ", ")
				if deps == "" {
					deps = "-"
				}
				trigger := t.Trigger
				if trigger == "" {
					trigger = pipeline.AllSuccess
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, deps, trigger)
			}
			return w.Flush()
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func buildPipeline(cfg *config.Config, seed int64) (*pipeline.Pipeline, error) {
	var opts []retrain.TaskOption
	if seed != 0 {
		opts = append(opts, retrain.WithRand(rand.New(rand.NewSource(seed))))
	}

	bot := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
	tasks := retrain.NewTasks(cfg.ModelVersion, cfg.AccuracyThreshold, bot, opts...)
	return retrain.Build(tasks)
}

func executeOnce(ctx context.Context, cfg *config.Config, seed int64) (*pipeline.RunResult, error) {
	p, err := buildPipeline(cfg, seed)
	if err != nil {
		return nil, err
	}

	result, err := p.Execute(ctx, pipeline.RunOptions{MaxRetries: cfg.MaxRetries})
	if err != nil {
		return nil, err
	}

	if cfg.HistoryDir != "" {
		if err := writeHistory(cfg.HistoryDir, p, result); err != nil {
			// History is bookkeeping; its failure must not fail the run.
			slog.Error("failed to write run history", "run_id", result.RunID, "err", err)
		}
	}
	return result, nil
}

func writeHistory(dir string, p *pipeline.Pipeline, result *pipeline.RunResult) error {
	w, err := history.NewWriter(dir, result.RunID)
	if err != nil {
		return err
	}

	states := make(map[string]string, len(result.Tasks))
	for id, tr := range result.Tasks {
		states[id] = string(tr.State)
	}
	record := history.RunRecord{
		ID:         result.RunID,
		Pipeline:   result.Pipeline,
		Owner:      p.Owner,
		Tags:       p.Tags,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Succeeded:  result.Succeeded(),
		States:     states,
		Order:      result.Order,
	}
	if err := w.WriteRun(record); err != nil {
		return err
	}

	for _, tr := range result.Tasks {
		taskRecord := history.TaskRecord{
			ID:             tr.ID,
			State:          string(tr.State),
			Status:         tr.Status,
			Branch:         tr.Branch,
			Attempts:       tr.Attempts,
			DurationMillis: tr.Duration.Milliseconds(),
		}
		if tr.Err != nil {
			taskRecord.Error = tr.Err.Error()
		}
		if err := w.WriteTask(taskRecord); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(out *os.File, result *pipeline.RunResult) {
	fmt.Fprintf(out, "run %s (%s)\n", result.RunID, result.Pipeline)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tSTATUS\tATTEMPTS\tDURATION")
	for _, id := range result.Order {
		tr := result.Tasks[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", tr.ID, tr.State, orDash(tr.Status), tr.Attempts, tr.Duration.Round(time.Millisecond))
	}
	for _, tr := range result.Tasks {
		if tr.State == pipeline.StateSkipped || tr.State == pipeline.StateUpstreamFailed {
			fmt.Fprintf(w, "%s\t%s\t-\t0\t-\n", tr.ID, tr.State)
		}
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func telegramStatus(cfg *config.Config) string {
	if cfg.HasTelegram() {
		return "configured"
	}
	return "not configured (notifications will be logged locally)"
}
