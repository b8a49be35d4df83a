package store

import (
	"context"
	"testing"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
)

func TestQueueOrdering(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first := saveTestRecord(t, st, "2026-03-02")
	second := saveTestRecord(t, st, "2026-03-03")

	// Edit the first record so it queues another entry after the
	// second record's create.
	if _, err := st.SaveAttendance(ctx, "2026-03-02", 1, 1, []schema.StudentStatus{
		{StudentID: 1, Status: schema.StatusExcused},
	}, first); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	pending, err := st.PendingChanges(ctx, schema.TableAttendanceRecords)
	if err != nil {
		t.Fatalf("PendingChanges failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 queued changes, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].Seq <= pending[i-1].Seq {
			t.Errorf("queue not in oldest-first order: %d after %d", pending[i].Seq, pending[i-1].Seq)
		}
	}
	if pending[0].EntityID != first || pending[1].EntityID != second || pending[2].EntityID != first {
		t.Errorf("unexpected replay order: %s, %s, %s",
			pending[0].EntityID, pending[1].EntityID, pending[2].EntityID)
	}
}

func TestAcknowledgeIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	saveTestRecord(t, st, "2026-03-02")

	pending, _ := st.PendingChanges(ctx, schema.TableAttendanceRecords)
	seq := pending[0].Seq

	if err := st.Acknowledge(ctx, seq); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if err := st.Acknowledge(ctx, seq); err != nil {
		t.Errorf("second Acknowledge must be a no-op, got %v", err)
	}

	count, _ := st.UnsyncedCount(ctx, schema.TableAttendanceRecords)
	if count != 0 {
		t.Errorf("expected empty queue, got %d", count)
	}
}

func TestBumpAttemptPoisons(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	saveTestRecord(t, st, "2026-03-02")
	pending, _ := st.PendingChanges(ctx, schema.TableAttendanceRecords)
	seq := pending[0].Seq

	ceiling := 3
	for i := 1; i < ceiling; i++ {
		poisoned, err := st.BumpAttempt(ctx, seq, ceiling)
		if err != nil {
			t.Fatalf("BumpAttempt failed: %v", err)
		}
		if poisoned {
			t.Fatalf("entry poisoned after %d attempts, ceiling is %d", i, ceiling)
		}
	}

	poisoned, err := st.BumpAttempt(ctx, seq, ceiling)
	if err != nil {
		t.Fatalf("BumpAttempt failed: %v", err)
	}
	if !poisoned {
		t.Fatal("expected entry to be poisoned at the ceiling")
	}

	// Poisoned entries leave the automatic replay set but still count
	// as unsynced.
	pending, _ = st.PendingChanges(ctx, schema.TableAttendanceRecords)
	if len(pending) != 0 {
		t.Errorf("poisoned entry must not be pending, got %d entries", len(pending))
	}
	count, _ := st.UnsyncedCount(ctx, schema.TableAttendanceRecords)
	if count != 1 {
		t.Errorf("poisoned entry must still count as unsynced, got %d", count)
	}
	poisonedCount, _ := st.PoisonedCount(ctx, schema.TableAttendanceRecords)
	if poisonedCount != 1 {
		t.Errorf("expected 1 poisoned entry, got %d", poisonedCount)
	}
}

func TestRetryPoisoned(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	saveTestRecord(t, st, "2026-03-02")
	pending, _ := st.PendingChanges(ctx, schema.TableAttendanceRecords)
	seq := pending[0].Seq

	if _, err := st.BumpAttempt(ctx, seq, 1); err != nil {
		t.Fatalf("BumpAttempt failed: %v", err)
	}

	n, err := st.RetryPoisoned(ctx, schema.TableAttendanceRecords)
	if err != nil {
		t.Fatalf("RetryPoisoned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 revived entry, got %d", n)
	}

	pending, _ = st.PendingChanges(ctx, schema.TableAttendanceRecords)
	if len(pending) != 1 {
		t.Fatalf("revived entry must be pending again, got %d entries", len(pending))
	}
	if pending[0].Attempts != 0 {
		t.Errorf("revived entry must restart its attempt count, got %d", pending[0].Attempts)
	}
}

func TestDiscardEntity(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	id := saveTestRecord(t, st, "2026-03-02")
	other := saveTestRecord(t, st, "2026-03-03")

	if _, err := st.SaveAttendance(ctx, "2026-03-02", 1, 1, []schema.StudentStatus{
		{StudentID: 1, Status: schema.StatusExcused},
	}, id); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	n, err := st.DiscardEntity(ctx, schema.TableAttendanceRecords, id)
	if err != nil {
		t.Fatalf("DiscardEntity failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 discarded entries, got %d", n)
	}

	pending, _ := st.PendingChanges(ctx, schema.TableAttendanceRecords)
	if len(pending) != 1 || pending[0].EntityID != other {
		t.Errorf("other entity's entries must survive, got %v", pending)
	}

	has, err := st.HasPendingChange(ctx, schema.TableAttendanceRecords, id)
	if err != nil {
		t.Fatalf("HasPendingChange failed: %v", err)
	}
	if has {
		t.Error("discarded entity must have no pending change")
	}
}

func TestWatermark(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	w, err := st.Watermark(ctx, schema.TableAttendanceRecords)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !w.IsZero() {
		t.Errorf("expected zero watermark before first pull, got %v", w)
	}

	mark := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	if err := st.SetWatermark(ctx, schema.TableAttendanceRecords, mark); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	w, err = st.Watermark(ctx, schema.TableAttendanceRecords)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !w.Equal(mark) {
		t.Errorf("expected watermark %v, got %v", mark, w)
	}

	// Entity types keep independent watermarks.
	w, _ = st.Watermark(ctx, schema.TableOffices)
	if !w.IsZero() {
		t.Errorf("office watermark should be untouched, got %v", w)
	}
}
