package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reqlens/internal/domain"
	obs "reqlens/internal/infrastructure/observability"
	"reqlens/internal/usecase"
)

const (
	defaultConcurrency = 4
	defaultTimeoutMs   = 30000
)

// Doer issues a single HTTP request. *http.Client satisfies it; tests
// substitute a probe.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BulkOptions configures a bulk replay. Zero values take the defaults:
// ConcurrencyLimit 4, DelayMs 0, TimeoutMs 30000.
type BulkOptions struct {
	ConcurrencyLimit int `json:"concurrencyLimit"`
	DelayMs          int `json:"delayMs"`
	TimeoutMs        int `json:"timeoutMs"`
}

func (o BulkOptions) withDefaults() (BulkOptions, error) {
	if o.ConcurrencyLimit == 0 {
		o.ConcurrencyLimit = defaultConcurrency
	}
	if o.TimeoutMs == 0 {
		o.TimeoutMs = defaultTimeoutMs
	}
	if o.ConcurrencyLimit < 1 || o.DelayMs < 0 || o.TimeoutMs < 0 {
		return o, fmt.Errorf("%w: concurrencyLimit=%d delayMs=%d timeoutMs=%d",
			domain.ErrInvalidOptions, o.ConcurrencyLimit, o.DelayMs, o.TimeoutMs)
	}
	return o, nil
}

// Result is one per-id bulk outcome, delivered in completion order.
// Err is set only for rejected items (unknown id); network failures and
// timeouts land on Tx.Status instead.
type Result struct {
	ID  string
	Tx  domain.Transaction
	Err error
}

// Summary is the aggregate state of a finished (or cancelled) batch.
type Summary struct {
	BatchID    string `json:"batchId"`
	Dispatched int    `json:"dispatched"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

// Bulk is a running bulk replay. Results delivers one Result per
// dispatched item and closes after in-flight work drains.
type Bulk struct {
	BatchID string

	results    chan Result
	done       chan struct{}
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
}

func (b *Bulk) Results() <-chan Result { return b.results }

// Wait blocks until the batch is fully resolved and returns the aggregate.
// The results channel must be drained by another reader (or ignored;
// delivery is buffered for the whole batch).
func (b *Bulk) Wait() Summary {
	<-b.done
	return Summary{
		BatchID:    b.BatchID,
		Dispatched: int(b.dispatched.Load()),
		Succeeded:  int(b.succeeded.Load()),
		Failed:     int(b.failed.Load()),
	}
}

// Engine re-issues stored transactions against the live network. Originals
// are never mutated: every replay derives a new transaction linked through
// OriginID, and failures surface on that transaction rather than as
// returned errors.
type Engine struct {
	svc     *usecase.TransactionService
	client  Doer
	logger  *zerolog.Logger
	metrics *obs.Metrics
	timeout time.Duration
}

func NewEngine(svc *usecase.TransactionService, client Doer, logger *zerolog.Logger, metrics *obs.Metrics) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		svc:     svc,
		client:  client,
		logger:  logger,
		metrics: metrics,
		timeout: defaultTimeoutMs * time.Millisecond,
	}
}

// Replay re-issues the transaction id with optional request overrides and
// returns the replay-derived transaction. Only an unknown id yields an
// error; dispatch failures resolve the derived transaction as failed.
func (e *Engine) Replay(ctx context.Context, id string, overrides *usecase.RequestPatch) (domain.Transaction, error) {
	return e.replayOne(ctx, id, overrides, "", e.timeout)
}

func (e *Engine) replayOne(ctx context.Context, id string, overrides *usecase.RequestPatch, batchID string, timeout time.Duration) (domain.Transaction, error) {
	origin, ok, err := e.svc.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, fmt.Errorf("replay %s: %w", id, domain.ErrNotFound)
	}

	req := origin.Request.Clone()
	if overrides != nil {
		overrides.Apply(&req)
	}

	derived, err := e.svc.BeginReplay(ctx, origin.ID, req, batchID)
	if err != nil {
		return domain.Transaction{}, err
	}

	resp, failMsg, kind := e.dispatch(ctx, req, timeout)
	status := domain.StatusCompleted
	if failMsg != "" {
		status = domain.StatusFailed
	}
	e.metrics.ReplaysTotal.WithLabelValues(string(status)).Inc()
	e.logger.Debug().Str("id", derived.ID).Str("origin", origin.ID).Str("status", string(status)).Msg("replay resolved")
	return e.svc.FinishReplay(ctx, derived.ID, origin.ID, resp, status, failMsg, kind, batchID)
}

// dispatch performs the network call within its own timeout. The parent
// context is detached first: cancelling a bulk replay stops new dispatches
// but lets in-flight calls finish or time out.
func (e *Engine) dispatch(ctx context.Context, req domain.Request, timeout time.Duration) (*domain.Response, string, domain.ErrorKind) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Sprintf("build request: %v", err), domain.ErrKindNetwork
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	e.metrics.ReplayInflight.Inc()
	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	elapsed := time.Since(start).Milliseconds()
	e.metrics.ReplayInflight.Dec()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Sprintf("timeout after %s", timeout), domain.ErrKindTimeout
		}
		return nil, err.Error(), domain.ErrKindNetwork
	}
	defer httpResp.Body.Close()

	respBody, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		return nil, fmt.Sprintf("read response: %v", readErr), domain.ErrKindNetwork
	}
	resp := &domain.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    flattenHeader(httpResp.Header),
		DurationMs: elapsed,
	}
	if len(respBody) > 0 {
		resp.Body = respBody
	}
	return resp, "", ""
}

// ReplayBulk dispatches ids with at most opts.ConcurrencyLimit calls in
// flight and at least opts.DelayMs between dispatch starts. Invalid
// options fail immediately before any work. Cancelling ctx stops new
// dispatches; items already in flight drain and the results channel
// closes afterwards.
func (e *Engine) ReplayBulk(ctx context.Context, ids []string, opts BulkOptions) (*Bulk, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	b := &Bulk{
		BatchID: uuid.NewString(),
		results: make(chan Result, len(ids)),
		done:    make(chan struct{}),
	}
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	delay := time.Duration(opts.DelayMs) * time.Millisecond
	sem := make(chan struct{}, opts.ConcurrencyLimit)

	e.logger.Info().Str("batchId", b.BatchID).Int("items", len(ids)).
		Int("concurrencyLimit", opts.ConcurrencyLimit).Int("delayMs", opts.DelayMs).
		Msg("bulk replay started")

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(b.results)
			close(b.done)
			e.logger.Info().Str("batchId", b.BatchID).
				Int64("dispatched", b.dispatched.Load()).
				Int64("failed", b.failed.Load()).
				Msg("bulk replay drained")
		}()
	dispatch:
		for i, id := range ids {
			// cancellation has priority: select picks randomly among ready
			// cases, so a done context must be checked on its own before
			// and after the semaphore acquire
			if ctx.Err() != nil {
				break dispatch
			}
			if i > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					break dispatch
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				break dispatch
			case sem <- struct{}{}:
			}
			if ctx.Err() != nil {
				<-sem
				break dispatch
			}
			b.dispatched.Add(1)
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()
				tx, err := e.replayOne(ctx, id, nil, b.BatchID, timeout)
				if err != nil || tx.Status == domain.StatusFailed {
					b.failed.Add(1)
				} else {
					b.succeeded.Add(1)
				}
				b.results <- Result{ID: id, Tx: tx, Err: err}
			}(id)
		}
	}()
	return b, nil
}

// flattenHeader converts net/http's header map into ordered pairs. The
// wire order of live response headers is not observable through
// net/http, so names are sorted for determinism; values keep their order.
func flattenHeader(h http.Header) []domain.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.Header, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, domain.Header{Name: name, Value: v})
		}
	}
	return out
}
