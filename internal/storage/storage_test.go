package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testTable = models.Table{ID: "2010", DisplayName: "Speed Roulette"}

func insertValues(t *testing.T, s *Storage, table models.Table, start time.Time, values ...int) {
	t.Helper()
	for i, v := range values {
		o := models.NewOutcome(table.ID, v, start.Add(time.Duration(i)*time.Minute))
		if err := s.InsertOutcome(context.Background(), table, o); err != nil {
			t.Fatalf("InsertOutcome(%d): %v", v, err)
		}
	}
}

func TestStorage_EnsureTable(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.EnsureTable(ctx, testTable); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	renamed := models.Table{ID: testTable.ID, DisplayName: "Speed Roulette 2"}
	if err := s.EnsureTable(ctx, renamed); err != nil {
		t.Fatalf("EnsureTable again: %v", err)
	}

	var name, id string
	row := s.db.QueryRow(`SELECT display_name, uuid FROM tables WHERE id = ?`, testTable.ID)
	if err := row.Scan(&name, &id); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "Speed Roulette 2" {
		t.Errorf("display name = %q, want refreshed name", name)
	}
	if id != models.TableUUID(testTable.ID).String() {
		t.Errorf("uuid = %s, want %s", id, models.TableUUID(testTable.ID))
	}

	if err := s.EnsureTable(ctx, models.Table{}); err == nil {
		t.Error("expected error for empty table id")
	}
}

func TestStorage_RecentOutcomes(t *testing.T) {
	s := newTestStorage(t)
	insertValues(t, s, testTable, time.Now(), 4, 17, 0, 32)

	got, err := s.RecentOutcomes(context.Background(), testTable.ID, 3)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	want := []int{32, 0, 17}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStorage_RecentOutcomes_Empty(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.RecentOutcomes(context.Background(), "missing", 5)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestStorage_InsertOutcome_RejectsInvalid(t *testing.T) {
	s := newTestStorage(t)
	o := models.Outcome{TableID: testTable.ID, Value: 40, ObservedAt: time.Now()}
	if err := s.InsertOutcome(context.Background(), testTable, o); err == nil {
		t.Error("expected error for out-of-range value")
	}
}

func TestStorage_StrategyStateRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	st := models.StrategyState{
		TableID:              testTable.ID,
		State:                models.StatePostAdjustNeutral,
		TriggerValue:         7,
		PreviousTriggerValue: 5,
		Terminals:            []int{4, 7, 8},
		PreviousTerminals:    []int{5, 6, 9},
		Wins:                 3,
		Losses:               2,
		LastOutcome:          7,
	}
	if err := s.UpsertStrategyState(ctx, testTable, st); err != nil {
		t.Fatalf("UpsertStrategyState: %v", err)
	}
	st.Wins = 4
	if err := s.UpsertStrategyState(ctx, testTable, st); err != nil {
		t.Fatalf("UpsertStrategyState again: %v", err)
	}

	got, err := s.LoadStrategyState(ctx, testTable.ID)
	if err != nil {
		t.Fatalf("LoadStrategyState: %v", err)
	}
	if got == nil {
		t.Fatal("expected saved state")
	}
	if got.State != st.State || got.Wins != 4 || got.Losses != 2 || got.TriggerValue != 7 {
		t.Errorf("unexpected state %+v", got)
	}
	if len(got.PreviousTerminals) != 3 || got.PreviousTerminals[2] != 9 {
		t.Errorf("previous terminals = %v", got.PreviousTerminals)
	}

	all, err := s.LoadStrategyStates(ctx)
	if err != nil {
		t.Fatalf("LoadStrategyStates: %v", err)
	}
	if len(all) != 1 || all[testTable.ID].Wins != 4 {
		t.Errorf("unexpected states %+v", all)
	}

	history, err := s.StrategyHistory(ctx, testTable.ID, 10)
	if err != nil {
		t.Fatalf("StrategyHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].Wins != 4 || history[1].Wins != 3 {
		t.Errorf("history not newest first: %+v", history)
	}
}

func TestStorage_LoadStrategyState_Missing(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.LoadStrategyState(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadStrategyState: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestStorage_NeutralStateHasNoTerminals(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	st := models.StrategyState{TableID: testTable.ID, State: models.StateNeutral, TriggerValue: -1, LastOutcome: -1}
	if err := s.UpsertStrategyState(ctx, testTable, st); err != nil {
		t.Fatalf("UpsertStrategyState: %v", err)
	}
	got, err := s.LoadStrategyState(ctx, testTable.ID)
	if err != nil {
		t.Fatalf("LoadStrategyState: %v", err)
	}
	if got.Terminals != nil {
		t.Errorf("expected nil terminals, got %v", got.Terminals)
	}
}

func TestStorage_RotateOutcomes(t *testing.T) {
	s, err := New(3, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	other := models.Table{ID: "2011", DisplayName: "Auto Roulette"}
	insertValues(t, s, testTable, time.Now(), 1, 2, 3, 4, 5)
	insertValues(t, s, other, time.Now(), 9, 8)

	if err := s.RotateOutcomes(ctx); err != nil {
		t.Fatalf("RotateOutcomes: %v", err)
	}

	got, _ := s.RecentOutcomes(ctx, testTable.ID, 10)
	if len(got) != 3 || got[0] != 5 || got[2] != 3 {
		t.Errorf("rotated outcomes = %v, want [5 4 3]", got)
	}
	got, _ = s.RecentOutcomes(ctx, other.ID, 10)
	if len(got) != 2 {
		t.Errorf("other table outcomes = %v, want 2 values", got)
	}
}

func TestStorage_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	insertValues(t, s, testTable, time.Now(), 11)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.RecentOutcomes(context.Background(), testTable.ID, 1)
	if err != nil || len(got) != 1 || got[0] != 11 {
		t.Errorf("after reopen got %v, %v", got, err)
	}
}
