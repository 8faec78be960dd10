package persistence

import (
	"context"
	"errors"
	"testing"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSaveAndGetRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{
		Graph:       "resnet",
		Fingerprint: 0xfeedfacecafebeef, // High bit set
		Arch:        "MTL",
		PoolSize:    2 << 20,
		Status:      RunCompiled,
		Makespan:    42,
		Spills:      3,
		Budget:      16,
		Attempts:    2,
		PeakLive:    14,
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun should assign an ID")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if got.Graph != "resnet" || got.Arch != "MTL" || got.PoolSize != 2<<20 {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Fingerprint != run.Fingerprint {
		t.Errorf("fingerprint = %x, want %x", got.Fingerprint, run.Fingerprint)
	}
	if got.Status != RunCompiled || got.Makespan != 42 || got.Spills != 3 {
		t.Errorf("schedule fields mismatch: %+v", got)
	}
	if got.Budget != 16 || got.Attempts != 2 || got.PeakLive != 14 {
		t.Errorf("barrier fields mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestSaveRunIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", Graph: "g", Arch: "KMB", Status: RunCompiled}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	run.Status = RunFailed
	run.Error = "no feasible barrier budget"
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != RunFailed || runs[0].Error != "no feasible barrier budget" {
		t.Errorf("update not applied: %+v", runs[0])
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, graph := range []string{"a", "b", "a"} {
		if err := store.SaveRun(ctx, &Run{Graph: graph, Arch: "MTL"}); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	tests := []struct {
		graph string
		want  int
	}{
		{"", 3},
		{"a", 2},
		{"b", 1},
		{"c", 0},
	}
	for _, tt := range tests {
		runs, err := store.ListRuns(ctx, tt.graph)
		if err != nil {
			t.Fatalf("failed to list runs for %q: %v", tt.graph, err)
		}
		if runs == nil {
			t.Errorf("ListRuns(%q) returned nil, want empty slice", tt.graph)
		}
		if len(runs) != tt.want {
			t.Errorf("ListRuns(%q) = %d runs, want %d", tt.graph, len(runs), tt.want)
		}
	}
}

func TestLatestRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := &Run{Graph: "g", Fingerprint: 7, Arch: "MTL", Status: RunCompiled, Budget: 32}
	second := &Run{Graph: "g", Fingerprint: 7, Arch: "MTL", Status: RunCompiled, Budget: 16}
	failed := &Run{Graph: "g", Fingerprint: 7, Arch: "MTL", Status: RunFailed}
	for _, r := range []*Run{first, second, failed} {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	got, err := store.LatestRun(ctx, 7)
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("latest run = %s (budget %d), want %s", got.ID, got.Budget, second.ID)
	}

	if _, err := store.LatestRun(ctx, 8); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for unknown fingerprint, got %v", err)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{Graph: "g", Arch: "MTL"}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	tasks := []ScheduledTask{
		{Position: 0, Task: 0, Name: "I", Kind: "ORIGINAL", Time: 1},
		{Position: 1, Task: 0, Name: "I", Kind: "SPILL_WRITE", Time: 2, IsDataOp: true},
		{Position: 2, Task: 1, Name: "D1", Kind: "ORIGINAL", Time: 3, IsDataOp: true},
	}
	if err := store.SaveSchedule(ctx, run.ID, tasks); err != nil {
		t.Fatalf("failed to save schedule: %v", err)
	}
	// Saving again replaces the rows
	if err := store.SaveSchedule(ctx, run.ID, tasks); err != nil {
		t.Fatalf("failed to re-save schedule: %v", err)
	}

	got, err := store.GetSchedule(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get schedule: %v", err)
	}
	if len(got) != len(tasks) {
		t.Fatalf("expected %d entries, got %d", len(tasks), len(got))
	}
	for i := range tasks {
		if got[i] != tasks[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], tasks[i])
		}
	}

	empty, err := store.GetSchedule(ctx, "other")
	if err != nil {
		t.Fatalf("failed to get empty schedule: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty slice, got %v", empty)
	}
}

func TestBarriersRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{Graph: "g", Arch: "MTL"}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	barriers := []BarrierAssignment{
		{Virtual: 1, Name: "D1", Real: 1, Producers: 1, Consumers: 1, NextSameID: -1},
		{Virtual: 0, Name: "I", Real: 0, Producers: 4, Consumers: 2, NextSameID: 2},
		{Virtual: 2, Name: "C", Real: 0, Producers: 1, Consumers: 1, NextSameID: -1},
	}
	if err := store.SaveBarriers(ctx, run.ID, barriers); err != nil {
		t.Fatalf("failed to save barriers: %v", err)
	}

	got, err := store.GetBarriers(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get barriers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 barriers, got %d", len(got))
	}
	for i, b := range got {
		if b.Virtual != i {
			t.Errorf("barrier %d has virtual ID %d, want ordered by virtual ID", i, b.Virtual)
		}
	}
	if got[0] != barriers[1] {
		t.Errorf("barrier 0 = %+v, want %+v", got[0], barriers[1])
	}
}

func TestDetailsRequireRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.SaveSchedule(ctx, "missing", []ScheduledTask{{Name: "x"}})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SaveSchedule: expected ErrRunNotFound, got %v", err)
	}
	err = store.SaveBarriers(ctx, "missing", []BarrierAssignment{{Name: "b"}})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SaveBarriers: expected ErrRunNotFound, got %v", err)
	}
}

func TestStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if err := a.SaveRun(ctx, &Run{Graph: "g", Arch: "MTL"}); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	runs, err := b.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("second store sees %d runs from the first", len(runs))
	}
}

func TestRunStatusString(t *testing.T) {
	if RunCompiled.String() != "compiled" || RunFailed.String() != "failed" {
		t.Errorf("unexpected status strings: %s, %s", RunCompiled, RunFailed)
	}
}
