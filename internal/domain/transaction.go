package domain

import (
	"mime"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a Transaction. Transitions only move
// forward: pending -> completed or pending -> failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Source records how a Transaction entered the store.
type Source string

const (
	SourceCaptured Source = "captured"
	SourceReplayed Source = "replayed"
	SourceImported Source = "imported"
)

// Header is a single name/value pair. Headers are kept as an ordered slice
// (duplicates permitted) so wire order and casing survive round trips.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is the immutable request half of a Transaction. URL components
// are derived once via ParseURL and carried alongside the raw URL.
type Request struct {
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Scheme   string   `json:"scheme,omitempty"`
	Host     string   `json:"host,omitempty"`
	Path     string   `json:"path,omitempty"`
	Query    string   `json:"query,omitempty"`
	Headers  []Header `json:"headers"`
	Body     []byte   `json:"body,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
}

// ParseURL fills the derived URL components and MimeType. Unparsable URLs
// leave the components empty; the raw URL is kept as delivered.
func (r *Request) ParseURL() {
	if u, err := url.Parse(r.URL); err == nil {
		r.Scheme = u.Scheme
		r.Host = u.Host
		r.Path = u.Path
		r.Query = u.RawQuery
	}
	r.MimeType = ""
	if ct := HeaderValue(r.Headers, "Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			r.MimeType = mt
		} else {
			r.MimeType = ct
		}
	}
}

type Response struct {
	StatusCode int      `json:"status"`
	Headers    []Header `json:"headers"`
	Body       []byte   `json:"body,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// Transaction is one captured, replayed, or imported request/response pair
// with lifecycle metadata. ID is opaque and immutable; Seq is assigned by
// the store and reflects capture order.
type Transaction struct {
	ID          string     `json:"id"`
	Seq         uint64     `json:"seq"`
	Request     Request    `json:"request"`
	Response    *Response  `json:"response,omitempty"`
	Status      Status     `json:"status"`
	Replayed    bool       `json:"replayed"`
	CapturedAt  time.Time  `json:"capturedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Source      Source     `json:"source"`
	OriginID    string     `json:"originId,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"errorKind,omitempty"`
}

// Clone returns a deep copy; slices are duplicated so callers can mutate
// the copy without touching stored state.
func (t Transaction) Clone() Transaction {
	out := t
	out.Request = t.Request.Clone()
	if t.Response != nil {
		resp := *t.Response
		resp.Headers = cloneHeaders(t.Response.Headers)
		resp.Body = cloneBytes(t.Response.Body)
		out.Response = &resp
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	return out
}

func (r Request) Clone() Request {
	out := r
	out.Headers = cloneHeaders(r.Headers)
	out.Body = cloneBytes(r.Body)
	return out
}

// HasTag reports whether the tag set contains tag.
func (t Transaction) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// AddTag inserts tag keeping set semantics; tags stay sorted.
func (t *Transaction) AddTag(tag string) {
	if tag == "" || t.HasTag(tag) {
		return
	}
	t.Tags = append(t.Tags, tag)
	sort.Strings(t.Tags)
}

// RemoveTag drops tag if present.
func (t *Transaction) RemoveTag(tag string) {
	for i, v := range t.Tags {
		if v == tag {
			t.Tags = append(t.Tags[:i], t.Tags[i+1:]...)
			return
		}
	}
}

// Terminal reports whether the status can no longer change.
func (t Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// HeaderValue returns the first value for name (case-insensitive), or "".
func HeaderValue(hs []Header, name string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func cloneHeaders(hs []Header) []Header {
	if hs == nil {
		return nil
	}
	return append([]Header(nil), hs...)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
