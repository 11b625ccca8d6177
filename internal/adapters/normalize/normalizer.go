package normalize

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reqlens/internal/domain"
)

// maxRemembered bounds the ring of correlation ids whose transaction has
// already been emitted. Stragglers for a remembered id are dropped instead
// of producing a second emission.
const maxRemembered = 4096

type inflight struct {
	mu          sync.Mutex
	started     bool
	method      string
	url         string
	reqHeaders  []domain.Header
	respHeaders []domain.Header
	reqBody     bytes.Buffer
	respBody    bytes.Buffer
	statusCode  int
	durationMs  int64
	firstTs     time.Time
	emitted     bool
}

// Normalizer buffers host capture events per correlation id and emits
// exactly one Transaction per id once the host signals completion or
// failure. Events for the same id serialize on the entry lock; different
// ids normalize independently. Feed never fails toward the host: partial
// data yields a best-effort transaction tagged "error".
type Normalizer struct {
	mu       sync.Mutex
	pending  map[string]*inflight
	doneRing []string
	doneSet  map[string]struct{}

	emit   func(domain.Transaction)
	logger *zerolog.Logger
}

func New(emit func(domain.Transaction), logger *zerolog.Logger) *Normalizer {
	return &Normalizer{
		pending: make(map[string]*inflight, 64),
		doneSet: make(map[string]struct{}, maxRemembered),
		emit:    emit,
		logger:  logger,
	}
}

// Feed applies one capture event. Any phase order is tolerated; data
// phases arriving before "started" are buffered as usual.
func (n *Normalizer) Feed(ev domain.CaptureEvent) {
	if ev.CorrelationID == "" {
		n.logger.Warn().Str("phase", string(ev.Phase)).Msg("capture event without correlation id dropped")
		return
	}

	n.mu.Lock()
	if _, done := n.doneSet[ev.CorrelationID]; done {
		n.mu.Unlock()
		return
	}
	f, ok := n.pending[ev.CorrelationID]
	if !ok {
		f = &inflight{firstTs: eventTime(ev)}
		n.pending[ev.CorrelationID] = f
	}
	n.mu.Unlock()

	f.mu.Lock()
	if f.emitted {
		f.mu.Unlock()
		return
	}
	switch ev.Phase {
	case domain.PhaseStarted:
		f.started = true
		f.method = ev.Method
		f.url = ev.URL
		if len(ev.Headers) > 0 {
			f.reqHeaders = append(f.reqHeaders, ev.Headers...)
		}
	case domain.PhaseHeaders:
		if ev.Direction == domain.DirectionResponse {
			f.respHeaders = append(f.respHeaders, ev.Headers...)
		} else {
			f.reqHeaders = append(f.reqHeaders, ev.Headers...)
		}
	case domain.PhaseBodyChunk:
		if ev.Direction == domain.DirectionResponse {
			f.respBody.Write(ev.BodyChunk)
		} else {
			f.reqBody.Write(ev.BodyChunk)
		}
	case domain.PhaseCompleted:
		f.statusCode = ev.StatusCode
		f.durationMs = ev.DurationMs
		if ev.Direction == domain.DirectionResponse && len(ev.Headers) > 0 {
			f.respHeaders = append(f.respHeaders, ev.Headers...)
		}
		n.finish(ev.CorrelationID, f, "")
		f.mu.Unlock()
		return
	case domain.PhaseFailed:
		msg := ev.Error
		if msg == "" {
			msg = "capture failed"
		}
		n.finish(ev.CorrelationID, f, msg)
		f.mu.Unlock()
		return
	default:
		n.logger.Warn().Str("phase", string(ev.Phase)).Str("correlationId", ev.CorrelationID).Msg("unknown capture phase ignored")
	}
	f.mu.Unlock()
}

// finish builds and emits the transaction. Caller holds f.mu.
func (n *Normalizer) finish(correlationID string, f *inflight, failure string) {
	f.emitted = true

	tx := domain.Transaction{
		Source:     domain.SourceCaptured,
		CapturedAt: f.firstTs,
		Request: domain.Request{
			Method:  f.method,
			URL:     f.url,
			Headers: f.reqHeaders,
		},
	}
	if f.reqBody.Len() > 0 {
		tx.Request.Body = f.reqBody.Bytes()
	}
	tx.Request.ParseURL()

	switch {
	case failure != "":
		tx.Status = domain.StatusFailed
		tx.Error = failure
		tx.ErrorKind = domain.ErrKindNetwork
	default:
		tx.Status = domain.StatusCompleted
		resp := &domain.Response{
			StatusCode: f.statusCode,
			Headers:    f.respHeaders,
			DurationMs: f.durationMs,
		}
		if f.respBody.Len() > 0 {
			resp.Body = f.respBody.Bytes()
		}
		tx.Response = resp
	}
	now := time.Now().UTC()
	tx.CompletedAt = &now

	// best-effort emission: the host cannot retry, so incomplete data is
	// kept and flagged instead of dropped
	if !f.started || f.method == "" || f.url == "" {
		tx.AddTag("error")
		if tx.Error == "" {
			tx.Error = fmt.Sprintf("incomplete capture for %s", correlationID)
			tx.ErrorKind = domain.ErrKindCaptureIncomplete
		}
	}

	n.mu.Lock()
	delete(n.pending, correlationID)
	n.remember(correlationID)
	n.mu.Unlock()

	n.emit(tx)
}

// remember records an emitted correlation id. Caller holds n.mu.
func (n *Normalizer) remember(id string) {
	if len(n.doneRing) >= maxRemembered {
		oldest := n.doneRing[0]
		n.doneRing = n.doneRing[1:]
		delete(n.doneSet, oldest)
	}
	n.doneRing = append(n.doneRing, id)
	n.doneSet[id] = struct{}{}
}

// PendingCount reports buffered in-flight exchanges, for diagnostics.
func (n *Normalizer) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func eventTime(ev domain.CaptureEvent) time.Time {
	if !ev.Ts.IsZero() {
		return ev.Ts.UTC()
	}
	return time.Now().UTC()
}
