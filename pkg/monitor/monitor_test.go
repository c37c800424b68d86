package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/openclaw/warden/pkg/config"
	"github.com/openclaw/warden/pkg/gateway"
	"github.com/openclaw/warden/pkg/health"
	"github.com/openclaw/warden/pkg/quota"
	"github.com/openclaw/warden/pkg/sessions"
	"github.com/openclaw/warden/pkg/state"
)

type fakeSampler struct {
	report *sessions.Report
	err    error
}

func (f *fakeSampler) Sample() (*sessions.Report, error) { return f.report, f.err }

type fakeSummarizer struct {
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, rec sessions.Record) error {
	f.calls++
	return f.err
}

type fakeCreator struct {
	err   error
	calls int
}

func (f *fakeCreator) Rollover(ctx context.Context, rec sessions.Record) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "new12345", nil
}

type fakeMaintainer struct {
	calls int
}

func (f *fakeMaintainer) Maintain(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Name() string { return "fake" }
func (f *fakeNotifier) Notify(ctx context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

type fakeGateway struct {
	health  gateway.Health
	channel gateway.ChannelHealth
}

func (f *fakeGateway) Health(ctx context.Context) gateway.Health { return f.health }
func (f *fakeGateway) Channel(ctx context.Context, name string) gateway.ChannelHealth {
	return f.channel
}
func (f *fakeGateway) Restart(ctx context.Context) error { return nil }

type fixture struct {
	monitor    *Monitor
	store      *state.Store
	sampler    *fakeSampler
	summarizer *fakeSummarizer
	creator    *fakeCreator
	maintainer *fakeMaintainer
	notifier   *fakeNotifier
	cfg        *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()

	f := &fixture{
		cfg:   cfg,
		store: state.NewStore(filepath.Join(cfg.StateDirPath(), "state.json")),
		sampler: &fakeSampler{report: &sessions.Report{
			Sessions: []sessions.Record{},
		}},
		summarizer: &fakeSummarizer{},
		creator:    &fakeCreator{},
		maintainer: &fakeMaintainer{},
		notifier:   &fakeNotifier{},
	}

	fg := &fakeGateway{
		health:  gateway.Health{Status: gateway.StatusHealthy},
		channel: gateway.ChannelHealth{Status: gateway.ChannelNotConfigured},
	}
	f.monitor = New(cfg, f.store, f.sampler, health.NewProber(cfg, fg),
		f.summarizer, f.creator, f.maintainer, quota.NewTracker(cfg), f.notifier)
	return f
}

func overThresholdReport() *sessions.Report {
	rec := sessions.Record{
		Key:          "agent:main:topic:464",
		SessionID:    "s1",
		TotalTokens:  170000,
		ContextLimit: 200000,
		UsagePercent: 85,
		TopicID:      "464",
	}
	return &sessions.Report{
		Sessions:      []sessions.Record{rec},
		Highest:       &rec,
		OverallUsage:  85,
		NeedsRollover: true,
	}
}

func TestCycleIncrementsCheckCount(t *testing.T) {
	f := newFixture(t)

	if _, err := f.monitor.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.store.Load().CheckCount; got != 1 {
		t.Errorf("expected check count 1, got %d", got)
	}
}

func TestRolloverHappyPath(t *testing.T) {
	f := newFixture(t)
	f.sampler.report = overThresholdReport()

	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.RolledOver {
		t.Fatal("expected rollover")
	}
	if result.NewSessionID != "new12345" {
		t.Errorf("unexpected new session id: %q", result.NewSessionID)
	}
	if f.summarizer.calls != 1 || f.creator.calls != 1 {
		t.Errorf("expected summarize then create, got %d/%d", f.summarizer.calls, f.creator.calls)
	}
	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %v", f.notifier.messages)
	}
	if !f.store.Load().HasProcessed("agent:main:topic:464") {
		t.Error("session should be marked processed")
	}
}

func TestRolloverAtMostOnce(t *testing.T) {
	f := newFixture(t)
	f.sampler.report = overThresholdReport()

	if _, err := f.monitor.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.RolledOver {
		t.Error("second cycle must not roll over the same session")
	}
	if f.summarizer.calls != 1 || f.creator.calls != 1 {
		t.Errorf("orchestration ran twice: %d/%d", f.summarizer.calls, f.creator.calls)
	}
}

func TestRolloverMarkedBeforeOrchestration(t *testing.T) {
	f := newFixture(t)
	f.sampler.report = overThresholdReport()
	f.summarizer.err = errors.New("summary blew up")

	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledOver {
		t.Error("failed summary must not report a rollover")
	}
	// At-most-once: the mark persists even though orchestration failed
	if !f.store.Load().HasProcessed("agent:main:topic:464") {
		t.Error("session should be marked processed before orchestration")
	}

	// And the next cycle does not retry
	f.summarizer.err = nil
	f.monitor.RunCycle(context.Background())
	if f.summarizer.calls != 1 {
		t.Errorf("expected no retry after failed summary, got %d calls", f.summarizer.calls)
	}
}

func TestSummaryFailureShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.sampler.report = overThresholdReport()
	f.summarizer.err = errors.New("nope")

	f.monitor.RunCycle(context.Background())

	if f.creator.calls != 0 {
		t.Error("creator must not run after failed summary")
	}
	if len(f.notifier.messages) != 0 {
		t.Errorf("no notification after failed summary, got %v", f.notifier.messages)
	}
}

func TestCreateFailureNoNotification(t *testing.T) {
	f := newFixture(t)
	f.sampler.report = overThresholdReport()
	f.creator.err = errors.New("create failed")

	result, _ := f.monitor.RunCycle(context.Background())
	if result.RolledOver {
		t.Error("failed create must not report a rollover")
	}
	if len(f.notifier.messages) != 0 {
		t.Errorf("no notification after failed create, got %v", f.notifier.messages)
	}
}

func TestBelowThresholdNoRollover(t *testing.T) {
	f := newFixture(t)
	rec := sessions.Record{Key: "agent:main:topic:464", UsagePercent: 50}
	f.sampler.report = &sessions.Report{
		Sessions: []sessions.Record{rec}, Highest: &rec, OverallUsage: 50,
	}

	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledOver || f.summarizer.calls != 0 {
		t.Error("no rollover below threshold")
	}
}

func TestSamplerErrorCycleContinues(t *testing.T) {
	f := newFixture(t)
	f.sampler.err = errors.New("records missing")

	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Report != nil {
		t.Error("expected nil report on sampler error")
	}
	// Gateway probe still ran
	if result.Gateway.Health.Status != gateway.StatusHealthy {
		t.Error("gateway check should still run")
	}
}

func TestQuotaEdgeTrigger(t *testing.T) {
	f := newFixture(t)

	// 25 sessions * 5 units = 125 >= 100
	recs := make([]sessions.Record, 25)
	f.sampler.report = &sessions.Report{Sessions: recs}

	f.monitor.RunCycle(context.Background())
	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected quota alarm, got %v", f.notifier.messages)
	}
	if !f.store.Load().QuotaAlarmed {
		t.Error("quota alarm should be latched")
	}

	// Still over threshold: no second alarm
	f.monitor.RunCycle(context.Background())
	if len(f.notifier.messages) != 1 {
		t.Errorf("quota alarm must fire once per edge, got %v", f.notifier.messages)
	}

	// Drops below: latch resets
	f.sampler.report = &sessions.Report{Sessions: recs[:2]}
	f.monitor.RunCycle(context.Background())
	if f.store.Load().QuotaAlarmed {
		t.Error("latch should reset below threshold")
	}

	// Rises again: new edge, new alarm
	f.sampler.report = &sessions.Report{Sessions: recs}
	f.monitor.RunCycle(context.Background())
	if len(f.notifier.messages) != 2 {
		t.Errorf("expected second alarm on new edge, got %v", f.notifier.messages)
	}
}

func TestMaintenanceEveryNthCycle(t *testing.T) {
	f := newFixture(t)
	f.cfg.Monitor.MaintenanceEvery = 3

	for i := 0; i < 7; i++ {
		if _, err := f.monitor.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// Cycles 3 and 6
	if f.maintainer.calls != 2 {
		t.Errorf("expected 2 maintenance passes in 7 cycles, got %d", f.maintainer.calls)
	}
}

func TestMaintenanceCronSchedule(t *testing.T) {
	f := newFixture(t)
	f.cfg.Monitor.MaintenanceEvery = 0
	f.cfg.Monitor.MaintenanceCron = "* * * * *"

	if _, err := f.monitor.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.maintainer.calls != 1 {
		t.Errorf("expected maintenance on an always-due schedule, got %d calls", f.maintainer.calls)
	}

	f.cfg.Monitor.MaintenanceCron = "not a cron"
	if _, err := f.monitor.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.maintainer.calls != 1 {
		t.Errorf("invalid schedule must skip maintenance, got %d calls", f.maintainer.calls)
	}
}

func TestRolloverKeepsConcurrentlyMarkedSessions(t *testing.T) {
	f := newFixture(t)

	// Another writer lands a processed key after this cycle loaded its
	// state snapshot.
	cycleStart := f.store.Load()
	external := state.Fresh()
	external.MarkProcessed("agent:main:topic:1186")
	if err := f.store.Save(external); err != nil {
		t.Fatal(err)
	}

	rec := overThresholdReport().Sessions[0]
	rolled, _ := f.monitor.maybeRollover(context.Background(), cycleStart, rec)
	if !rolled {
		t.Fatal("expected rollover to proceed")
	}

	saved := f.store.Load()
	if !saved.HasProcessed("agent:main:topic:1186") {
		t.Error("externally marked session dropped on save")
	}
	if !saved.HasProcessed(rec.Key) {
		t.Error("rolled-over session not marked")
	}
}

func TestMaintenanceDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Monitor.MaintenanceEvery = 0

	for i := 0; i < 5; i++ {
		f.monitor.RunCycle(context.Background())
	}
	if f.maintainer.calls != 0 {
		t.Errorf("expected no maintenance when disabled, got %d", f.maintainer.calls)
	}
}
