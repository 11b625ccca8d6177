package domain

import "time"

// CapturePhase is the lifecycle phase reported by the host capture API for
// one in-flight exchange.
type CapturePhase string

const (
	PhaseStarted   CapturePhase = "started"
	PhaseHeaders   CapturePhase = "headers"
	PhaseBodyChunk CapturePhase = "body-chunk"
	PhaseCompleted CapturePhase = "completed"
	PhaseFailed    CapturePhase = "failed"
)

// CaptureDirection tells whether a headers or body-chunk phase carries
// request or response data.
type CaptureDirection string

const (
	DirectionRequest  CaptureDirection = "request"
	DirectionResponse CaptureDirection = "response"
)

// CaptureEvent is one host-delivered notification describing part of an
// in-flight network exchange. Events for the same CorrelationID may arrive
// in any order and with partial data; the normalizer buffers them.
type CaptureEvent struct {
	CorrelationID string           `json:"correlationId"`
	Phase         CapturePhase     `json:"phase"`
	Direction     CaptureDirection `json:"direction,omitempty"`

	// started
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`

	// headers (may be delivered in multiple chunks, order preserved)
	Headers []Header `json:"headers,omitempty"`

	// body-chunk
	BodyChunk []byte `json:"bodyChunk,omitempty"`

	// completed
	StatusCode int   `json:"statusCode,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`

	// failed
	Error string `json:"error,omitempty"`

	Ts time.Time `json:"ts,omitempty"`
}
