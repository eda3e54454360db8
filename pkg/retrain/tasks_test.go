package retrain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/modelops/retrainflow/pkg/pipeline"
)

// fakeNotifier records sent messages and can simulate delivery failure.
type fakeNotifier struct {
	configured bool
	sendErr    error
	sent       []string
}

func (f *fakeNotifier) Configured() bool { return f.configured }

func (f *fakeNotifier) SendMessage(_ context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func testRunContext() *pipeline.RunContext {
	return &pipeline.RunContext{
		RunID:  "test-run",
		Store:  pipeline.NewStore(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDecideBoundary(t *testing.T) {
	cases := []struct {
		accuracy float64
		want     string
	}{
		{0.92, TaskDeploy},
		{0.80, TaskDeploy}, // exact threshold deploys: the comparison is >=
		{0.7999, TaskSkip},
		{0.76, TaskSkip},
	}

	for _, tc := range cases {
		got := Decide(Metrics{Accuracy: tc.accuracy}, DefaultAccuracyThreshold)
		if got != tc.want {
			t.Fatalf("Decide(accuracy=%v) = %s, want %s", tc.accuracy, got, tc.want)
		}
	}
}

func TestSampleMetricsRangesAndF1(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		m := SampleMetrics(rng)
		if m.Accuracy < 0.75 || m.Accuracy > 0.95 {
			t.Fatalf("accuracy %v outside [0.75, 0.95]", m.Accuracy)
		}
		if m.Precision < 0.70 || m.Precision > 0.92 {
			t.Fatalf("precision %v outside [0.70, 0.92]", m.Precision)
		}
		if m.Recall < 0.72 || m.Recall > 0.94 {
			t.Fatalf("recall %v outside [0.72, 0.94]", m.Recall)
		}
		if want := F1Score(m.Precision, m.Recall); m.F1Score != want {
			t.Fatalf("f1 %v, want %v from rounded precision/recall", m.F1Score, want)
		}
	}
}

func TestEvaluatePublishesMetrics(t *testing.T) {
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, nil,
		WithRand(rand.New(rand.NewSource(1))))
	rc := testRunContext()

	out, err := tasks.evaluate(context.Background(), rc)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != "evaluated" {
		t.Fatalf("status = %q", out.Status)
	}

	v, ok := rc.Store.Get(TaskEvaluate, KeyMetrics)
	if !ok {
		t.Fatal("metrics not published to store")
	}
	if _, ok := v.(Metrics); !ok {
		t.Fatalf("published value has type %T", v)
	}
}

func TestCheckFailsWithoutMetrics(t *testing.T) {
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, nil)

	if _, err := tasks.check(context.Background(), testRunContext()); err == nil {
		t.Fatal("expected error when metrics are absent")
	}
}

func TestDeployPublishesDeployInfo(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tasks := NewTasks("v2.1.0", DefaultAccuracyThreshold, nil,
		WithClock(func() time.Time { return fixed }))

	rc := testRunContext()
	metrics := Metrics{Accuracy: 0.92, Precision: 0.85, Recall: 0.88, F1Score: 0.8647}
	if err := rc.Store.Put(TaskEvaluate, KeyMetrics, metrics); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	out, err := tasks.deploy(context.Background(), rc)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if out.Status != "deployed" {
		t.Fatalf("status = %q", out.Status)
	}

	v, ok := rc.Store.Get(TaskDeploy, KeyDeployInfo)
	if !ok {
		t.Fatal("deploy info not published")
	}
	info := v.(DeployInfo)
	if info.Version != "v2.1.0" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Metrics != metrics {
		t.Fatalf("metrics = %+v", info.Metrics)
	}
	if info.Timestamp != "2025-06-01T12:00:00Z" {
		t.Fatalf("timestamp = %q", info.Timestamp)
	}
}

func TestNotifyWithoutDeployInfoMakesNoCall(t *testing.T) {
	notifier := &fakeNotifier{configured: true}
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, notifier)

	out, err := tasks.notify(context.Background(), testRunContext())
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if out.Status != "nothing_to_notify" {
		t.Fatalf("status = %q", out.Status)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("no message may be sent without deploy info")
	}
}

func TestNotifyWithoutCredentialsSimulates(t *testing.T) {
	notifier := &fakeNotifier{configured: false}
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, notifier)

	rc := testRunContext()
	seedDeployInfo(t, rc)

	out, err := tasks.notify(context.Background(), rc)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if out.Status != "notification_simulated" {
		t.Fatalf("status = %q", out.Status)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("no message may be sent without credentials")
	}
}

func TestNotifySendsExactlyOneMessage(t *testing.T) {
	notifier := &fakeNotifier{configured: true}
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, notifier)

	rc := testRunContext()
	seedDeployInfo(t, rc)

	out, err := tasks.notify(context.Background(), rc)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if out.Status != "notified" {
		t.Fatalf("status = %q", out.Status)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "v1.0.0") {
		t.Fatalf("message does not mention the version: %q", notifier.sent[0])
	}
}

func TestNotifyDeliveryFailureIsNonFatal(t *testing.T) {
	notifier := &fakeNotifier{configured: true, sendErr: errors.New("HTTP 502")}
	tasks := NewTasks("v1.0.0", DefaultAccuracyThreshold, notifier)

	rc := testRunContext()
	seedDeployInfo(t, rc)

	out, err := tasks.notify(context.Background(), rc)
	if err != nil {
		t.Fatalf("delivery failure must not propagate, got: %v", err)
	}
	if out.Status != "notification_failed" {
		t.Fatalf("status = %q", out.Status)
	}
}

func TestFormatMessage(t *testing.T) {
	info := DeployInfo{
		Version:   "v1.0.0",
		Metrics:   Metrics{Accuracy: 0.92, Precision: 0.85, Recall: 0.88, F1Score: 0.8647},
		Timestamp: "2025-06-01T12:00:00Z",
	}

	msg := FormatMessage(info)

	for _, want := range []string{
		"*[DEPLOY] Model v1.0.0*",
		"Accuracy: `0.92`",
		"Precision: `0.85`",
		"Recall: `0.88`",
		"F1-score: `0.8647`",
		"Timestamp: 2025-06-01T12:00:00Z",
		"Status: OK",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessageFallsBackToNA(t *testing.T) {
	msg := FormatMessage(DeployInfo{Version: "v1.0.0"})

	if !strings.Contains(msg, "Accuracy: `N/A`") {
		t.Fatalf("expected N/A fallback for missing metrics:\n%s", msg)
	}
	if !strings.Contains(msg, "Timestamp: N/A") {
		t.Fatalf("expected N/A fallback for missing timestamp:\n%s", msg)
	}
}

func seedDeployInfo(t *testing.T, rc *pipeline.RunContext) {
	t.Helper()
	info := DeployInfo{
		Version:   "v1.0.0",
		Metrics:   Metrics{Accuracy: 0.9, Precision: 0.8, Recall: 0.8, F1Score: 0.8},
		Timestamp: "2025-06-01T12:00:00Z",
	}
	if err := rc.Store.Put(TaskDeploy, KeyDeployInfo, info); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}
