package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"reqlens/internal/domain"
)

func newTx(id, method, url string) domain.Transaction {
	return domain.Transaction{
		ID:     id,
		Status: domain.StatusCompleted,
		Source: domain.SourceCaptured,
		Request: domain.Request{
			Method:  method,
			URL:     url,
			Headers: []domain.Header{{Name: "Accept", Value: "*/*"}},
		},
	}
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a, _ := s.Append(ctx, newTx("a", "GET", "http://x/1"))
	b, _ := s.Append(ctx, newTx("b", "GET", "http://x/2"))
	if a.Seq >= b.Seq {
		t.Fatalf("seq not monotonic: %d then %d", a.Seq, b.Seq)
	}
	got, ok, _ := s.Get(ctx, "a")
	if !ok || got.ID != "a" || got.Seq != a.Seq {
		t.Fatalf("lookup mismatch: ok=%v tx=%+v", ok, got)
	}
}

func TestListPreservesCaptureOrderWithCursor(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, newTx(fmt.Sprintf("t%d", i), "GET", "http://x"))
	}
	page1, next, _ := s.List(ctx, "", 2)
	if len(page1) != 2 || page1[0].ID != "t0" || page1[1].ID != "t1" || next != "t1" {
		t.Fatalf("page1=%v next=%q", ids(page1), next)
	}
	page2, next, _ := s.List(ctx, next, 2)
	if len(page2) != 2 || page2[0].ID != "t2" || next != "t3" {
		t.Fatalf("page2=%v next=%q", ids(page2), next)
	}
	rest, next, _ := s.List(ctx, next, 0)
	if len(rest) != 1 || rest[0].ID != "t4" || next != "" {
		t.Fatalf("rest=%v next=%q", ids(rest), next)
	}
}

func TestDeleteRemovesFromLookupAndIteration(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, newTx("a", "GET", "http://x"))
	_, _ = s.Append(ctx, newTx("b", "GET", "http://x"))
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("deleted id still resolvable")
	}
	all, _, _ := s.List(ctx, "", 0)
	if len(all) != 1 || all[0].ID != "b" {
		t.Fatalf("iteration after delete: %v", ids(all))
	}
	if err := s.Delete(ctx, "a"); err != domain.ErrNotFound {
		t.Fatalf("double delete should be not-found, got %v", err)
	}
}

func TestCompleteIsForwardOnly(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newTx("p", "POST", "http://x")
	tx.Status = domain.StatusPending
	_, _ = s.Append(ctx, tx)

	resp := &domain.Response{StatusCode: 200, DurationMs: 12}
	got, changed, err := s.Complete(ctx, "p", resp, domain.StatusCompleted, "", "")
	if err != nil || !changed || got.Status != domain.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("complete: changed=%v err=%v tx=%+v", changed, err, got)
	}
	// second transition must be rejected
	got, changed, err = s.Complete(ctx, "p", nil, domain.StatusFailed, "boom", domain.ErrKindNetwork)
	if err != nil || changed || got.Status != domain.StatusCompleted {
		t.Fatalf("terminal status changed: changed=%v tx=%+v", changed, got)
	}
}

func TestMarkReplayedIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, newTx("a", "GET", "http://x"))
	_, flagged, _ := s.MarkReplayed(ctx, "a")
	if !flagged {
		t.Fatalf("first flag should report change")
	}
	_, flagged, _ = s.MarkReplayed(ctx, "a")
	if flagged {
		t.Fatalf("second flag should be a no-op")
	}
}

func TestUpdateRequestRejectsReplayedOrigin(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, newTx("a", "GET", "http://x/1"))
	if _, _, err := s.MarkReplayed(ctx, "a"); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	req := domain.Request{Method: "POST", URL: "http://x/2"}
	if _, err := s.UpdateRequest(ctx, "a", req); !errors.Is(err, domain.ErrReplayed) {
		t.Fatalf("expected ErrReplayed, got %v", err)
	}
	got, _, _ := s.Get(ctx, "a")
	if got.Request.Method != "GET" {
		t.Fatalf("request mutated despite rejection: %s", got.Request.Method)
	}
}

func TestStoredCopyIsIsolatedFromCaller(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newTx("a", "GET", "http://x")
	_, _ = s.Append(ctx, tx)
	tx.Request.Headers[0].Value = "mutated"
	got, _, _ := s.Get(ctx, "a")
	if got.Request.Headers[0].Value != "*/*" {
		t.Fatalf("stored state shares memory with caller")
	}
	got.Request.Headers[0].Value = "mutated-again"
	again, _, _ := s.Get(ctx, "a")
	if again.Request.Headers[0].Value != "*/*" {
		t.Fatalf("read copy shares memory with store")
	}
}

func TestConcurrentWritersDifferentIDs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			_, _ = s.Append(ctx, newTx(id, "GET", "http://x"))
			_, _, _ = s.MarkReplayed(ctx, id)
		}(i)
	}
	wg.Wait()
	n2, _ := s.Len(ctx)
	if n2 != n {
		t.Fatalf("expected %d transactions, got %d", n, n2)
	}
}

func ids(txs []domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
