package usecase

import (
	"context"

	"reqlens/internal/domain"
)

// TransactionRepository is the store port. Implementations must make each
// mutation visible to subsequent reads before returning, serialize writers
// per id, and allow concurrent reads. Append assigns the monotonic
// sequence number; every other method returns domain.ErrNotFound for
// unknown or deleted ids.
type TransactionRepository interface {
	Append(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	Get(ctx context.Context, id string) (domain.Transaction, bool, error)
	// List iterates in capture order. from is an exclusive cursor id
	// ("" starts from the beginning); the returned cursor is "" when the
	// sequence is exhausted.
	List(ctx context.Context, from string, limit int) ([]domain.Transaction, string, error)
	// UpdateRequest rewrites the request in place. The replayed flag is
	// checked under the per-id write lock; a flagged transaction returns
	// domain.ErrReplayed so the caller derives a copy instead.
	UpdateRequest(ctx context.Context, id string, req domain.Request) (domain.Transaction, error)
	// Complete moves a pending transaction to a terminal status. The bool
	// result is false when the transaction was already terminal (no-op).
	Complete(ctx context.Context, id string, resp *domain.Response, status domain.Status, errMsg string, kind domain.ErrorKind) (domain.Transaction, bool, error)
	// MarkReplayed sets the replayed flag; false when it was already set.
	MarkReplayed(ctx context.Context, id string) (domain.Transaction, bool, error)
	SetTags(ctx context.Context, id string, tags []string) (domain.Transaction, error)
	// Delete removes id from lookup and iteration. Implementations may
	// keep a tombstone; replay holders work on copies either way.
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// Indexer is the search index port used by the service layer to keep the
// index in lockstep with store mutations.
type Indexer interface {
	Index(tx domain.Transaction)
	Remove(id string)
}

// Publisher is the event bus port.
type Publisher interface {
	Publish(ev domain.Event)
}

// RequestPatch describes an edit to a transaction's request. Nil fields
// are left untouched. SetHeaders upserts by name (first occurrence
// replaced, order preserved); RemoveHeaders drops every occurrence.
type RequestPatch struct {
	Method        *string          `json:"method,omitempty"`
	URL           *string          `json:"url,omitempty"`
	Headers       *[]domain.Header `json:"headers,omitempty"`
	SetHeaders    []domain.Header  `json:"setHeaders,omitempty"`
	RemoveHeaders []string         `json:"removeHeaders,omitempty"`
	Body          *[]byte          `json:"body,omitempty"`
}
