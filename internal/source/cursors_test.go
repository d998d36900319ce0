package source

import (
	"context"
	"errors"
	"testing"
)

func TestSlicerAdvance(t *testing.T) {
	t.Parallel()

	s := newSlicer(100)
	if got := s.limit(); got != 100 {
		t.Fatalf("limit = %d, want 100", got)
	}
	if got := s.offset(); got != 0 {
		t.Fatalf("offset = %d, want 0", got)
	}

	s.advance(100)
	if got := s.offset(); got != 100 {
		t.Errorf("offset after full page = %d, want 100", got)
	}
	if s.complete {
		t.Error("complete after full page")
	}

	// A short page still advances; only an empty page completes.
	s.advance(40)
	if s.complete {
		t.Error("complete after short page")
	}
	s.advance(0)
	if !s.complete {
		t.Error("not complete after empty page")
	}
}

func TestSlicerNextBatchSkipsFilteredPages(t *testing.T) {
	t.Parallel()

	// Three pages of source rows; the middle page's rows all fail
	// validation and map to zero documents. The consumer must still see
	// page three before exhaustion.
	pages := []struct {
		docs []any
		rows int
	}{
		{[]any{"a", "b"}, 2},
		{nil, 2},
		{[]any{"c"}, 1},
		{nil, 0},
	}
	calls := 0
	page := func(ctx context.Context, limit, offset int) ([]any, int, error) {
		p := pages[calls]
		calls++
		return p.docs, p.rows, nil
	}

	s := newSlicer(2)
	batch, err := s.nextBatch(context.Background(), page)
	if err != nil || len(batch) != 2 {
		t.Fatalf("first batch = %v, %v; want 2 docs", batch, err)
	}

	batch, err = s.nextBatch(context.Background(), page)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(batch) != 1 || batch[0] != "c" {
		t.Fatalf("second batch = %v, want [c]", batch)
	}

	batch, err = s.nextBatch(context.Background(), page)
	if err != nil || batch != nil {
		t.Fatalf("after exhaustion = %v, %v; want nil, nil", batch, err)
	}
	if calls != 4 {
		t.Errorf("page calls = %d, want 4", calls)
	}

	// Exhausted cursors keep returning empty without touching the source.
	if batch, err := s.nextBatch(context.Background(), page); err != nil || batch != nil || calls != 4 {
		t.Errorf("exhausted cursor re-queried: batch=%v err=%v calls=%d", batch, err, calls)
	}
}

func TestSlicerNextBatchPropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := newSlicer(10)
	_, err := s.nextBatch(context.Background(), func(ctx context.Context, limit, offset int) ([]any, int, error) {
		return nil, 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
