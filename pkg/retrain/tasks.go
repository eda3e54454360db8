package retrain

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/modelops/retrainflow/pkg/pipeline"
)

// Task IDs, also used as branch identifiers by the metrics gate.
const (
	TaskTrain    = "train_model"
	TaskEvaluate = "evaluate_model"
	TaskCheck    = "check_metrics"
	TaskDeploy   = "deploy_model"
	TaskSkip     = "skip_deploy"
	TaskNotify   = "notify_success"
	TaskJoin     = "join"
)

// Store keys published during a run.
const (
	KeyMetrics    = "metrics"
	KeyDeployInfo = "deploy_info"
)

// DefaultAccuracyThreshold gates deployment: accuracy at or above it deploys.
const DefaultAccuracyThreshold = 0.8

// Notifier delivers the deployment status message to a messaging channel.
type Notifier interface {
	// Configured reports whether credentials are present. When false the
	// notify task degrades to a local log line.
	Configured() bool

	SendMessage(ctx context.Context, text string) error
}

// Tasks holds the bodies of the retrain pipeline's tasks and the knobs they
// share. Build wires them into a pipeline.Pipeline.
type Tasks struct {
	version   string
	threshold float64
	notifier  Notifier

	// injectable for deterministic tests
	sample func() Metrics
	now    func() time.Time
}

// TaskOption overrides a Tasks default.
type TaskOption func(*Tasks)

// WithRand replaces the metrics sampler's randomness source.
func WithRand(rng *rand.Rand) TaskOption {
	return func(t *Tasks) { t.sample = func() Metrics { return SampleMetrics(rng) } }
}

// WithClock replaces the deployment timestamp clock.
func WithClock(now func() time.Time) TaskOption {
	return func(t *Tasks) { t.now = now }
}

// NewTasks creates the task set for one model version. A nil notifier is
// treated as unconfigured.
func NewTasks(version string, threshold float64, notifier Notifier, opts ...TaskOption) *Tasks {
	t := &Tasks{
		version:   version,
		threshold: threshold,
		notifier:  notifier,
		now:       time.Now,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	t.sample = func() Metrics { return SampleMetrics(rng) }
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Build assembles the retrain pipeline graph:
//
//	train → evaluate → check → {deploy | skip} → notify → join
//
// Exactly one of deploy/skip runs per pipeline run; notify and join use
// none_failed_min_one_success so both branches converge on them.
func Build(t *Tasks) (*pipeline.Pipeline, error) {
	return pipeline.New("ml_retrain_pipeline", []*pipeline.Task{
		{ID: TaskTrain, Run: t.train},
		{ID: TaskEvaluate, Run: t.evaluate, DependsOn: []string{TaskTrain}},
		{ID: TaskCheck, Run: t.check, DependsOn: []string{TaskEvaluate}},
		{ID: TaskDeploy, Run: t.deploy, DependsOn: []string{TaskCheck}},
		{ID: TaskSkip, Run: t.skip, DependsOn: []string{TaskCheck}},
		{ID: TaskNotify, Run: t.notify, DependsOn: []string{TaskDeploy, TaskSkip},
			Trigger: pipeline.NoneFailedMinOneSuccess},
		{ID: TaskJoin, Run: t.join, DependsOn: []string{TaskNotify, TaskSkip},
			Trigger: pipeline.NoneFailedMinOneSuccess},
	},
		pipeline.WithOwner("mlops"),
		pipeline.WithTags("ml", "retrain", "notification"),
	)
}

// SampleMetrics draws a synthetic evaluation record. Accuracy, precision and
// recall are uniform over fixed ranges and rounded to four digits; F1 is
// computed from the rounded values.
func SampleMetrics(rng *rand.Rand) Metrics {
	precision := Round4(uniform(rng, 0.70, 0.92))
	recall := Round4(uniform(rng, 0.72, 0.94))
	return Metrics{
		Accuracy:  Round4(uniform(rng, 0.75, 0.95)),
		Precision: precision,
		Recall:    recall,
		F1Score:   F1Score(precision, recall),
	}
}

// Decide is the deployment gate: a pure function of the metrics record and
// the accuracy threshold. The comparison is >=, so a record exactly at the
// threshold deploys.
func Decide(m Metrics, threshold float64) string {
	if m.Accuracy >= threshold {
		return TaskDeploy
	}
	return TaskSkip
}

func (t *Tasks) train(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	rc.Logger.Info("training model", "version", t.version)
	rc.Logger.Info("loading data")
	rc.Logger.Info("preprocessing data")
	rc.Logger.Info("fitting model")
	rc.Logger.Info("model trained", "version", t.version)
	return &pipeline.Outcome{Status: "trained"}, nil
}

func (t *Tasks) evaluate(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	m := t.sample()
	rc.Logger.Info("model evaluated",
		"version", t.version,
		"accuracy", m.Accuracy,
		"precision", m.Precision,
		"recall", m.Recall,
		"f1_score", m.F1Score)

	if err := rc.Store.Put(TaskEvaluate, KeyMetrics, m); err != nil {
		return nil, fmt.Errorf("publish metrics: %w", err)
	}
	return &pipeline.Outcome{Status: "evaluated"}, nil
}

func (t *Tasks) check(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	m, err := t.metrics(rc)
	if err != nil {
		return nil, err
	}

	branch := Decide(m, t.threshold)
	if branch == TaskDeploy {
		rc.Logger.Info("metrics above threshold, deployment allowed",
			"accuracy", m.Accuracy, "threshold", t.threshold)
	} else {
		rc.Logger.Info("metrics below threshold, deployment rejected",
			"accuracy", m.Accuracy, "threshold", t.threshold)
	}
	return &pipeline.Outcome{Status: "checked", Branch: branch}, nil
}

func (t *Tasks) deploy(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	m, err := t.metrics(rc)
	if err != nil {
		return nil, err
	}

	rc.Logger.Info("deploying model", "version", t.version,
		"accuracy", m.Accuracy, "f1_score", m.F1Score)
	rc.Logger.Info("uploading artifacts")
	rc.Logger.Info("updating serving config")
	rc.Logger.Info("model deployed to production", "version", t.version)

	info := DeployInfo{
		Version:   t.version,
		Metrics:   m,
		Timestamp: t.now().UTC().Format(time.RFC3339),
	}
	if err := rc.Store.Put(TaskDeploy, KeyDeployInfo, info); err != nil {
		return nil, fmt.Errorf("publish deploy info: %w", err)
	}
	return &pipeline.Outcome{Status: "deployed"}, nil
}

func (t *Tasks) skip(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	m, err := t.metrics(rc)
	if err != nil {
		return nil, err
	}

	rc.Logger.Info("deployment skipped", "version", t.version,
		"accuracy", m.Accuracy, "threshold", t.threshold,
		"reason", "metrics_below_threshold")
	rc.Logger.Info("model needs more work or additional training data")
	return &pipeline.Outcome{Status: "skipped"}, nil
}

// notify posts the deployment summary. Every failure path here is
// deliberately non-fatal: a lost notification must never fail the run.
func (t *Tasks) notify(ctx context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	v, ok := rc.Store.Get(TaskDeploy, KeyDeployInfo)
	if !ok {
		rc.Logger.Info("no deployment info, nothing to notify")
		return &pipeline.Outcome{Status: "nothing_to_notify"}, nil
	}
	info, ok := v.(DeployInfo)
	if !ok {
		rc.Logger.Error("deploy info has unexpected type, nothing to notify")
		return &pipeline.Outcome{Status: "nothing_to_notify"}, nil
	}

	if t.notifier == nil || !t.notifier.Configured() {
		rc.Logger.Info("notifier credentials not set, logging instead",
			"message", fmt.Sprintf("model %s deployed", info.Version))
		return &pipeline.Outcome{Status: "notification_simulated"}, nil
	}

	if err := t.notifier.SendMessage(ctx, FormatMessage(info)); err != nil {
		rc.Logger.Error("notification failed", "err", err)
		return &pipeline.Outcome{Status: "notification_failed"}, nil
	}

	rc.Logger.Info("notification sent", "version", info.Version)
	return &pipeline.Outcome{Status: "notified"}, nil
}

func (t *Tasks) join(_ context.Context, rc *pipeline.RunContext) (*pipeline.Outcome, error) {
	rc.Logger.Info("pipeline joined")
	return &pipeline.Outcome{Status: "joined"}, nil
}

// metrics fetches the evaluation record. Its absence means a task ran
// without its producer, which is a wiring bug, not a recoverable condition.
func (t *Tasks) metrics(rc *pipeline.RunContext) (Metrics, error) {
	v, ok := rc.Store.Get(TaskEvaluate, KeyMetrics)
	if !ok {
		return Metrics{}, fmt.Errorf("metrics missing from store: evaluate did not run")
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}, fmt.Errorf("metrics have unexpected type %T", v)
	}
	return m, nil
}

// FormatMessage renders the Markdown notification body. Empty fields fall
// back to "N/A" so a partially filled record still produces a message.
func FormatMessage(info DeployInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[DEPLOY] Model %s*\n\n", orNA(info.Version))
	b.WriteString("Metrics:\n")
	fmt.Fprintf(&b, "  - Accuracy: `%s`\n", metricOrNA(info.Metrics.Accuracy))
	fmt.Fprintf(&b, "  - Precision: `%s`\n", metricOrNA(info.Metrics.Precision))
	fmt.Fprintf(&b, "  - Recall: `%s`\n", metricOrNA(info.Metrics.Recall))
	fmt.Fprintf(&b, "  - F1-score: `%s`\n\n", metricOrNA(info.Metrics.F1Score))
	fmt.Fprintf(&b, "Timestamp: %s\n", orNA(info.Timestamp))
	b.WriteString("Status: OK")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func metricOrNA(v float64) string {
	if v == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%g", v)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
