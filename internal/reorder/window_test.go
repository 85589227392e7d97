package reorder

import (
	"errors"
	"testing"
)

func TestWindow_InOrderDrain(t *testing.T) {
	w := New(4, 0)

	for i := uint64(0); i < 4; i++ {
		if err := w.Put(i, i*10); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	out := w.DrainContiguous()
	if len(out) != 4 {
		t.Fatalf("DrainContiguous() len = %d, want 4", len(out))
	}
	for i, v := range out {
		if v.(uint64) != uint64(i)*10 {
			t.Errorf("out[%d] = %v, want %d", i, v, uint64(i)*10)
		}
	}
	if w.Base() != 4 {
		t.Errorf("Base() = %d, want 4", w.Base())
	}
}

func TestWindow_OutOfOrderEmitsContiguousPrefix(t *testing.T) {
	w := New(4, 0)

	_ = w.Put(2, "c")
	_ = w.Put(0, "a")

	out := w.DrainContiguous()
	if len(out) != 1 || out[0] != "a" {
		t.Fatalf("DrainContiguous() = %v, want [a]", out)
	}

	if err := w.Put(1, "b"); err != nil {
		t.Fatalf("Put(1) failed: %v", err)
	}

	out = w.DrainContiguous()
	if len(out) != 2 || out[0] != "b" || out[1] != "c" {
		t.Fatalf("DrainContiguous() = %v, want [b c]", out)
	}
}

func TestWindow_DuplicateIndexBelowBase(t *testing.T) {
	w := New(4, 0)

	if err := w.Put(0, "a"); err != nil {
		t.Fatalf("Put(0) failed: %v", err)
	}
	if _, ok := w.TryPopNext(); !ok {
		t.Fatalf("TryPopNext() expected a value")
	}

	if err := w.Put(0, "replay"); !errors.Is(err, ErrDuplicateChunkIndex) {
		t.Errorf("Put(0) error = %v, want ErrDuplicateChunkIndex", err)
	}
}

func TestWindow_DuplicateIndexStillPending(t *testing.T) {
	w := New(4, 0)

	if err := w.Put(2, "first"); err != nil {
		t.Fatalf("Put(2) failed: %v", err)
	}
	if err := w.Put(2, "second"); !errors.Is(err, ErrDuplicateChunkIndex) {
		t.Errorf("Put(2) error = %v, want ErrDuplicateChunkIndex", err)
	}
}

func TestWindow_GrowsPastInitialCapacity(t *testing.T) {
	w := New(2, 0)

	if err := w.Put(10, "far"); err != nil {
		t.Fatalf("Put(10) failed: %v", err)
	}
	if w.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", w.Pending())
	}

	for i := uint64(0); i < 10; i++ {
		if err := w.Put(i, i); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	out := w.DrainContiguous()
	if len(out) != 11 {
		t.Fatalf("DrainContiguous() len = %d, want 11", len(out))
	}
	if out[10] != "far" {
		t.Errorf("out[10] = %v, want far", out[10])
	}
}

func TestWindow_OverflowBeyondWindowCap(t *testing.T) {
	w := New(2, 4)

	if err := w.Put(0, "a"); err != nil {
		t.Fatalf("Put(0) failed: %v", err)
	}

	if err := w.Put(10, "too-far"); !errors.Is(err, ErrReorderOverflow) {
		t.Errorf("Put(10) error = %v, want ErrReorderOverflow", err)
	}
}

func TestWindow_TryPopNextFalseWhenGapPending(t *testing.T) {
	w := New(4, 0)

	if err := w.Put(1, "b"); err != nil {
		t.Fatalf("Put(1) failed: %v", err)
	}

	if _, ok := w.TryPopNext(); ok {
		t.Error("TryPopNext() returned ok=true while index 0 is still missing")
	}
}
