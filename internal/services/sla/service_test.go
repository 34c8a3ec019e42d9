package sla_test

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/repository/memory"
	"github.com/tracklane-io/tracklane/internal/services/sla"
)

// fakeClock is a settable "now" provider.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func utc(day, hour, min int) time.Time {
	// January 2025: the 6th is a Monday.
	return time.Date(2025, 1, day, hour, min, 0, 0, time.UTC)
}

func testConfig(targetMinutes int) *models.SLAConfig {
	return &models.SLAConfig{
		ID:            "cfg-1",
		TenantID:      "tenant-1",
		Name:          "resolution within target",
		Metric:        models.MetricResolution,
		TargetMinutes: targetMinutes,
		Calendar:      models.CalendarSpec{WorkStart: 9, WorkEnd: 17},
		IsActive:      true,
	}
}

func newTestService(t *testing.T, cfg *models.SLAConfig) (*sla.Service, *memory.SLAStore, *fakeClock) {
	t.Helper()
	store := memory.NewSLAStore()
	if cfg != nil {
		if err := store.CreateConfig(context.Background(), cfg); err != nil {
			t.Fatalf("seed config: %v", err)
		}
	}
	clock := &fakeClock{t: utc(6, 10, 0)}
	svc := sla.NewService(store,
		sla.WithClock(clock.Now),
		sla.WithLogger(log.New(testWriter{t}, "", 0)),
	)
	return svc, store, clock
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestStartCreatesActiveInstance(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	clock.Set(utc(6, 10, 0)) // Monday 10:00

	inst, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if inst.Status != models.StatusActive {
		t.Errorf("status = %s, want active", inst.Status)
	}
	if !inst.StartedAt.Equal(utc(6, 10, 0)) {
		t.Errorf("StartedAt = %v, want Monday 10:00", inst.StartedAt)
	}
	if inst.ElapsedMs != 0 {
		t.Errorf("ElapsedMs = %d, want 0", inst.ElapsedMs)
	}
	if want := int64(60 * 60_000); inst.RemainingMs != want {
		t.Errorf("RemainingMs = %d, want %d", inst.RemainingMs, want)
	}
	if !inst.BreachAt.Equal(utc(6, 11, 0)) {
		t.Errorf("BreachAt = %v, want Monday 11:00", inst.BreachAt)
	}
}

func TestStartBreachAcrossDayBoundary(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	clock.Set(utc(6, 16, 30)) // Monday 16:30, 30 min left in the day

	inst, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !inst.BreachAt.Equal(utc(7, 9, 30)) {
		t.Errorf("BreachAt = %v, want Tuesday 09:30", inst.BreachAt)
	}
}

func TestStartUnknownConfig(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Start(context.Background(), "missing", "issue-42")
	if !sla.IsNotFound(err) {
		t.Errorf("Start() error = %v, want NotFoundError", err)
	}
}

func TestStartInactiveConfig(t *testing.T) {
	cfg := testConfig(60)
	cfg.IsActive = false
	svc, _, _ := newTestService(t, cfg)

	_, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if !sla.IsValidation(err) {
		t.Errorf("Start() error = %v, want ValidationError", err)
	}
}

func TestCompleteOnTime(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	clock.Set(utc(6, 10, 0))

	inst, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	clock.Set(utc(6, 10, 45))
	done, err := svc.Complete(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if done.Status != models.StatusMet {
		t.Errorf("status = %s, want met", done.Status)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(utc(6, 10, 45)) {
		t.Errorf("CompletedAt = %v, want Monday 10:45", done.CompletedAt)
	}
}

func TestCompleteExactlyAtDeadlineIsMet(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	clock.Set(utc(6, 10, 0))

	inst, _ := svc.Start(context.Background(), "cfg-1", "issue-42")

	clock.Set(inst.BreachAt)
	done, err := svc.Complete(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if done.Status != models.StatusMet {
		t.Errorf("status = %s, want met at the exact deadline", done.Status)
	}
}

func TestCompleteBreachAcrossBoundary(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	clock.Set(utc(6, 16, 30)) // Monday 16:30

	inst, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	clock.Set(utc(7, 10, 0)) // Tuesday 10:00, past the 09:30 deadline
	done, err := svc.Complete(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if done.Status != models.StatusBreached {
		t.Errorf("status = %s, want breached", done.Status)
	}
}

func TestPauseResumeShiftsDeadline(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(240))
	clock.Set(utc(6, 9, 0)) // Monday 09:00

	inst, err := svc.Start(context.Background(), "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !inst.BreachAt.Equal(utc(6, 13, 0)) {
		t.Fatalf("initial BreachAt = %v, want Monday 13:00", inst.BreachAt)
	}

	clock.Set(utc(6, 10, 0))
	paused, err := svc.Pause(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if paused.Status != models.StatusPaused {
		t.Errorf("status = %s, want paused", paused.Status)
	}
	if want := int64(60 * 60_000); paused.ElapsedMs != want {
		t.Errorf("ElapsedMs = %d, want %d", paused.ElapsedMs, want)
	}
	if paused.PausedAt == nil || !paused.PausedAt.Equal(utc(6, 10, 0)) {
		t.Errorf("PausedAt = %v, want Monday 10:00", paused.PausedAt)
	}
	// RemainingMs stays as of the last active entry until resume.
	if want := int64(240 * 60_000); paused.RemainingMs != want {
		t.Errorf("RemainingMs after pause = %d, want %d", paused.RemainingMs, want)
	}

	clock.Set(utc(6, 14, 0))
	resumed, err := svc.Resume(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if resumed.Status != models.StatusActive {
		t.Errorf("status = %s, want active", resumed.Status)
	}
	if resumed.PausedAt != nil {
		t.Errorf("PausedAt = %v, want nil after resume", resumed.PausedAt)
	}
	if want := int64(180 * 60_000); resumed.RemainingMs != want {
		t.Errorf("RemainingMs = %d, want %d", resumed.RemainingMs, want)
	}
	if !resumed.BreachAt.Equal(utc(6, 17, 0)) {
		t.Errorf("BreachAt = %v, want Monday 17:00", resumed.BreachAt)
	}
}

func TestPauseConservation(t *testing.T) {
	// Business time accrued across several active cycles must equal the sum
	// of the individually bookkept cycle windows, with no leak and no double
	// counting. All windows sit inside one working day to keep the wall-clock
	// bookkeeping in the test trivial.
	svc, _, clock := newTestService(t, testConfig(480))
	ctx := context.Background()

	clock.Set(utc(6, 9, 0))
	inst, err := svc.Start(ctx, "cfg-1", "issue-42")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	cycles := []struct {
		pauseAt  time.Time
		resumeAt time.Time
	}{
		{utc(6, 9, 30), utc(6, 10, 0)},
		{utc(6, 10, 45), utc(6, 12, 0)},
		{utc(6, 12, 5), utc(6, 15, 0)},
	}

	var wantElapsed int64
	last := inst.StartedAt
	for _, cyc := range cycles {
		clock.Set(cyc.pauseAt)
		paused, err := svc.Pause(ctx, inst.ID)
		if err != nil {
			t.Fatalf("Pause() error: %v", err)
		}
		wantElapsed += cyc.pauseAt.Sub(last).Milliseconds()
		if paused.ElapsedMs != wantElapsed {
			t.Errorf("ElapsedMs after pause at %v = %d, want %d", cyc.pauseAt, paused.ElapsedMs, wantElapsed)
		}

		clock.Set(cyc.resumeAt)
		if _, err := svc.Resume(ctx, inst.ID); err != nil {
			t.Fatalf("Resume() error: %v", err)
		}
		last = cyc.resumeAt
	}

	clock.Set(utc(6, 16, 0))
	final, err := svc.Pause(ctx, inst.ID)
	if err != nil {
		t.Fatalf("final Pause() error: %v", err)
	}
	wantElapsed += utc(6, 16, 0).Sub(last).Milliseconds()
	if final.ElapsedMs != wantElapsed {
		t.Errorf("final ElapsedMs = %d, want %d", final.ElapsedMs, wantElapsed)
	}
}

func TestPausedClockDoesNotRun(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(120))
	ctx := context.Background()

	clock.Set(utc(6, 9, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42")

	clock.Set(utc(6, 10, 0))
	if _, err := svc.Pause(ctx, inst.ID); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}

	// Paused across two working days; none of it counts.
	clock.Set(utc(8, 11, 0))
	resumed, err := svc.Resume(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if want := int64(60 * 60_000); resumed.ElapsedMs != want {
		t.Errorf("ElapsedMs = %d, want %d", resumed.ElapsedMs, want)
	}
	if want := int64(60 * 60_000); resumed.RemainingMs != want {
		t.Errorf("RemainingMs = %d, want %d", resumed.RemainingMs, want)
	}
	if !resumed.BreachAt.Equal(utc(8, 12, 0)) {
		t.Errorf("BreachAt = %v, want Wednesday 12:00", resumed.BreachAt)
	}
}

func TestCompleteWhilePausedUsesFrozenDeadline(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	ctx := context.Background()

	clock.Set(utc(6, 10, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42") // deadline Monday 11:00

	clock.Set(utc(6, 10, 30))
	if _, err := svc.Pause(ctx, inst.ID); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}

	// Completing a paused instance judges wall-clock now against the
	// deadline frozen at the last start/resume.
	clock.Set(utc(6, 15, 0))
	done, err := svc.Complete(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if done.Status != models.StatusBreached {
		t.Errorf("status = %s, want breached", done.Status)
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	ctx := context.Background()

	clock.Set(utc(6, 10, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42")

	if _, err := svc.Resume(ctx, inst.ID); !sla.IsValidation(err) {
		t.Errorf("Resume(active) error = %v, want ValidationError", err)
	}

	if _, err := svc.Pause(ctx, inst.ID); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if _, err := svc.Pause(ctx, inst.ID); !sla.IsValidation(err) {
		t.Errorf("Pause(paused) error = %v, want ValidationError", err)
	}

	for _, op := range []string{"pause", "resume", "complete"} {
		if _, err := svc.Pause(ctx, "missing"); !sla.IsNotFound(err) {
			t.Errorf("%s(missing) error = %v, want NotFoundError", op, err)
		}
	}
}

func TestTerminalImmutability(t *testing.T) {
	svc, store, clock := newTestService(t, testConfig(60))
	ctx := context.Background()

	clock.Set(utc(6, 10, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42")
	clock.Set(utc(6, 10, 30))
	done, err := svc.Complete(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if _, err := svc.Pause(ctx, inst.ID); !sla.IsValidation(err) {
		t.Errorf("Pause(terminal) error = %v, want ValidationError", err)
	}
	if _, err := svc.Resume(ctx, inst.ID); !sla.IsValidation(err) {
		t.Errorf("Resume(terminal) error = %v, want ValidationError", err)
	}
	if _, err := svc.Complete(ctx, inst.ID); !sla.IsValidation(err) {
		t.Errorf("Complete(terminal) error = %v, want ValidationError", err)
	}

	// Rejected transitions leave the record untouched.
	cur, err := store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if cur.Status != done.Status {
		t.Errorf("status = %s, want %s", cur.Status, done.Status)
	}
	if cur.CompletedAt == nil || !cur.CompletedAt.Equal(*done.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", cur.CompletedAt, done.CompletedAt)
	}
	if !cur.UpdatedAt.Equal(done.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", cur.UpdatedAt, done.UpdatedAt)
	}
}

func TestListByEntity(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(60))
	ctx := context.Background()
	clock.Set(utc(6, 10, 0))

	a, _ := svc.Start(ctx, "cfg-1", "issue-1")
	b, _ := svc.Start(ctx, "cfg-1", "issue-1")
	if _, err := svc.Start(ctx, "cfg-1", "issue-2"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	clock.Set(utc(6, 10, 30))
	if _, err := svc.Complete(ctx, b.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	all, err := svc.ListByEntity(ctx, "issue-1", nil)
	if err != nil {
		t.Fatalf("ListByEntity() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	active := models.StatusActive
	got, err := svc.ListByEntity(ctx, "issue-1", &active)
	if err != nil {
		t.Fatalf("ListByEntity(active) error: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("active filter returned %d instances, want exactly the active one", len(got))
	}
}

func TestGetProgress(t *testing.T) {
	svc, _, clock := newTestService(t, testConfig(120))
	ctx := context.Background()

	clock.Set(utc(6, 9, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42")

	clock.Set(utc(6, 9, 45))
	p, err := svc.GetProgress(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetProgress() error: %v", err)
	}
	if want := int64(45 * 60_000); p.ElapsedMs != want {
		t.Errorf("ElapsedMs = %d, want %d", p.ElapsedMs, want)
	}
	if want := int64(75 * 60_000); p.RemainingMs != want {
		t.Errorf("RemainingMs = %d, want %d", p.RemainingMs, want)
	}

	// The live view never mutates the stored record.
	stored, err := svc.ListByEntity(ctx, "issue-42", nil)
	if err != nil || len(stored) != 1 {
		t.Fatalf("ListByEntity() = %v, %v", stored, err)
	}
	if stored[0].ElapsedMs != 0 {
		t.Errorf("stored ElapsedMs = %d, want 0", stored[0].ElapsedMs)
	}
}

func TestConcurrentPausesCannotDoubleCount(t *testing.T) {
	// A pause that lost the store race surfaces as a ValidationError after a
	// re-read rather than writing from the stale snapshot.
	svc, store, clock := newTestService(t, testConfig(60))
	ctx := context.Background()

	clock.Set(utc(6, 10, 0))
	inst, _ := svc.Start(ctx, "cfg-1", "issue-42")

	// Simulate the race: another writer pauses between this call's read and
	// its guarded write by flipping the stored status out from under it.
	snapshot, _ := store.GetInstance(ctx, inst.ID)
	snapshot.Status = models.StatusPaused
	if err := store.UpdateInstance(ctx, snapshot, models.StatusActive); err != nil {
		t.Fatalf("seed race: %v", err)
	}

	_, err := svc.Pause(ctx, inst.ID)
	if !sla.IsValidation(err) {
		t.Errorf("Pause() after race error = %v, want ValidationError", err)
	}
}
