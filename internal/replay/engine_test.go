package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqlens/internal/adapters/search"
	"reqlens/internal/adapters/storage/memory"
	"reqlens/internal/bus"
	"reqlens/internal/domain"
	obs "reqlens/internal/infrastructure/observability"
	"reqlens/internal/usecase"
)

// probeDoer fakes the network and tracks the number of concurrent calls.
type probeDoer struct {
	mu       sync.Mutex
	inflight int
	maxSeen  int
	calls    atomic.Int64
	delay    time.Duration
	respond  func(req *http.Request) (*http.Response, error)
}

func (p *probeDoer) Do(req *http.Request) (*http.Response, error) {
	p.mu.Lock()
	p.inflight++
	if p.inflight > p.maxSeen {
		p.maxSeen = p.inflight
	}
	p.mu.Unlock()
	p.calls.Add(1)

	if p.delay > 0 {
		select {
		case <-req.Context().Done():
		case <-time.After(p.delay):
		}
	}

	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()

	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if p.respond != nil {
		return p.respond(req)
	}
	return okResponse("replayed"), nil
}

func (p *probeDoer) max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newHarness(t *testing.T, client Doer) (*Engine, *usecase.TransactionService) {
	t.Helper()
	logger := zerolog.Nop()
	svc := usecase.NewTransactionService(memory.NewStore(), search.New(), bus.New())
	return NewEngine(svc, client, &logger, obs.NewMetrics()), svc
}

func seed(t *testing.T, svc *usecase.TransactionService, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tx, err := svc.Capture(ctx, domain.Transaction{
			Status: domain.StatusCompleted,
			Source: domain.SourceCaptured,
			Request: domain.Request{
				Method:  "GET",
				URL:     fmt.Sprintf("http://upstream.test/item/%d", i),
				Headers: []domain.Header{{Name: "X-Seed", Value: fmt.Sprint(i)}},
			},
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	return ids
}

func TestReplayDerivesLinkedTransaction(t *testing.T) {
	probe := &probeDoer{}
	eng, svc := newHarness(t, probe)
	ctx := context.Background()
	ids := seed(t, svc, 1)

	derived, err := eng.Replay(ctx, ids[0], nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceReplayed, derived.Source)
	assert.Equal(t, ids[0], derived.OriginID)
	assert.Equal(t, domain.StatusCompleted, derived.Status)
	require.NotNil(t, derived.Response)
	assert.Equal(t, 200, derived.Response.StatusCode)
	assert.Equal(t, []byte("replayed"), derived.Response.Body)

	origin, ok, _ := svc.Get(ctx, ids[0])
	require.True(t, ok)
	assert.True(t, origin.Replayed, "origin must be flagged, not mutated")
	assert.Nil(t, origin.Response, "origin response untouched")
	assert.Equal(t, "GET", origin.Request.Method)
}

func TestReplayAppliesOverrides(t *testing.T) {
	var got *http.Request
	probe := &probeDoer{respond: func(req *http.Request) (*http.Response, error) {
		got = req
		return okResponse("ok"), nil
	}}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 1)

	method := "DELETE"
	url := "http://other.test/v2"
	_, err := eng.Replay(context.Background(), ids[0], &usecase.RequestPatch{
		Method:     &method,
		URL:        &url,
		SetHeaders: []domain.Header{{Name: "Authorization", Value: "Bearer tok"}},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "DELETE", got.Method)
	assert.Equal(t, "http://other.test/v2", got.URL.String())
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))

	// the origin's own request is unchanged
	origin, _, _ := svc.Get(context.Background(), ids[0])
	assert.Equal(t, "GET", origin.Request.Method)
}

func TestReplayNetworkFailureSurfacesOnTransaction(t *testing.T) {
	probe := &probeDoer{respond: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 1)

	tx, err := eng.Replay(context.Background(), ids[0], nil)
	require.NoError(t, err, "dispatch failure must not surface as an error")
	assert.Equal(t, domain.StatusFailed, tx.Status)
	assert.Equal(t, domain.ErrKindNetwork, tx.ErrorKind)
	assert.Contains(t, tx.Error, "connection refused")
	_ = svc
}

func TestReplayTimeoutResolvesAsFailed(t *testing.T) {
	probe := &probeDoer{delay: 200 * time.Millisecond}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 1)

	b, err := eng.ReplayBulk(context.Background(), ids, BulkOptions{TimeoutMs: 20})
	require.NoError(t, err)
	res := <-b.Results()
	require.NoError(t, res.Err)
	assert.Equal(t, domain.StatusFailed, res.Tx.Status)
	assert.Equal(t, domain.ErrKindTimeout, res.Tx.ErrorKind)
	sum := b.Wait()
	assert.Equal(t, 1, sum.Dispatched)
	assert.Equal(t, 1, sum.Failed)
	_ = svc
}

func TestReplayUnknownID(t *testing.T) {
	eng, _ := newHarness(t, &probeDoer{})
	_, err := eng.Replay(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBulkHonorsConcurrencyLimit(t *testing.T) {
	probe := &probeDoer{delay: 30 * time.Millisecond}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 12)

	b, err := eng.ReplayBulk(context.Background(), ids, BulkOptions{ConcurrencyLimit: 3})
	require.NoError(t, err)
	n := 0
	for range b.Results() {
		n++
	}
	sum := b.Wait()
	assert.Equal(t, 12, n)
	assert.Equal(t, 12, sum.Dispatched)
	assert.Equal(t, 12, sum.Succeeded)
	assert.LessOrEqual(t, probe.max(), 3, "in-flight calls exceeded the limit")
	assert.GreaterOrEqual(t, probe.max(), 2, "pool never ran concurrently")
}

func TestBulkInvalidOptionsFailFast(t *testing.T) {
	probe := &probeDoer{}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 2)

	_, err := eng.ReplayBulk(context.Background(), ids, BulkOptions{ConcurrencyLimit: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)
	assert.Equal(t, int64(0), probe.calls.Load(), "no work may start on contract violation")
}

func TestBulkCancellationStopsDispatchAndDrains(t *testing.T) {
	probe := &probeDoer{delay: 80 * time.Millisecond}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 10)

	ctx, cancel := context.WithCancel(context.Background())
	b, err := eng.ReplayBulk(ctx, ids, BulkOptions{ConcurrencyLimit: 2, DelayMs: 10})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	cancel()

	var results []Result
	for res := range b.Results() {
		results = append(results, res)
	}
	sum := b.Wait()
	assert.Equal(t, sum.Dispatched, len(results), "one result per dispatched item")
	assert.Less(t, sum.Dispatched, 10, "cancellation must stop new dispatches")
	assert.Greater(t, sum.Dispatched, 0, "items before cancellation were dispatched")
	// in-flight items drained: each dispatched item resolved terminally
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.True(t, res.Tx.Terminal())
	}
}

func TestBulkCancelledBeforeStartDispatchesNothing(t *testing.T) {
	probe := &probeDoer{}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// repeat: the failure mode is a racy select, not a deterministic path
	for i := 0; i < 50; i++ {
		b, err := eng.ReplayBulk(ctx, ids, BulkOptions{ConcurrencyLimit: 2})
		require.NoError(t, err)
		for range b.Results() {
		}
		sum := b.Wait()
		assert.Equal(t, 0, sum.Dispatched, "no dispatches on an already-cancelled context")
	}
	assert.Equal(t, int64(0), probe.calls.Load())
}

func TestBulkPartialFailureIsIsolated(t *testing.T) {
	probe := &probeDoer{respond: func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/1") {
			return nil, errors.New("boom")
		}
		return okResponse("ok"), nil
	}}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 3)
	// one unknown id rejected per-item, not fatally
	ids = append(ids, "ghost")

	b, err := eng.ReplayBulk(context.Background(), ids, BulkOptions{ConcurrencyLimit: 2})
	require.NoError(t, err)
	byID := map[string]Result{}
	for res := range b.Results() {
		byID[res.ID] = res
	}
	sum := b.Wait()
	assert.Equal(t, 4, sum.Dispatched)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.ErrorIs(t, byID["ghost"].Err, domain.ErrNotFound)
	assert.Equal(t, domain.StatusFailed, byID[ids[1]].Tx.Status)
	assert.Equal(t, domain.StatusCompleted, byID[ids[0]].Tx.Status)
}

func TestBulkDelaySpacesDispatchStarts(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	probe := &probeDoer{respond: func(*http.Request) (*http.Response, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return okResponse("ok"), nil
	}}
	eng, svc := newHarness(t, probe)
	ids := seed(t, svc, 3)

	b, err := eng.ReplayBulk(context.Background(), ids, BulkOptions{ConcurrencyLimit: 4, DelayMs: 40})
	require.NoError(t, err)
	for range b.Results() {
	}
	b.Wait()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 30*time.Millisecond,
			"dispatch starts must be spaced by at least the configured delay")
	}
}
