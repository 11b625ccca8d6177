package memory

import (
	"context"
	"sync"
	"time"

	"reqlens/internal/domain"
)

type entry struct {
	mu      sync.RWMutex
	tx      domain.Transaction
	deleted bool
}

// Store is the in-memory transaction store. The structure (order slice +
// id map) is guarded by mu; each entry carries its own lock so writers to
// different ids proceed concurrently while writes to one id serialize.
// Deletion is logical: the entry stays as a tombstone, removed from lookup
// and iteration.
type Store struct {
	mu    sync.RWMutex
	order []string
	items map[string]*entry
	seq   uint64
}

func NewStore() *Store {
	return &Store{
		order: make([]string, 0, 256),
		items: make(map[string]*entry, 256),
	}
}

// Append stores tx and assigns its capture-order sequence number. The id
// must be unique; re-appending an existing id returns the stored copy
// unchanged (ids are immutable once assigned).
func (s *Store) Append(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[tx.ID]; ok {
		e.mu.RLock()
		existing := e.tx.Clone()
		deleted := e.deleted
		e.mu.RUnlock()
		if !deleted {
			return existing, nil
		}
		// tombstone resurrection keeps the order slot
		s.seq++
		tx.Seq = s.seq
		e.mu.Lock()
		e.tx = tx.Clone()
		e.deleted = false
		e.mu.Unlock()
		return tx, nil
	}
	s.seq++
	tx.Seq = s.seq
	if tx.CapturedAt.IsZero() {
		tx.CapturedAt = time.Now().UTC()
	}
	s.items[tx.ID] = &entry{tx: tx.Clone()}
	s.order = append(s.order, tx.ID)
	return tx, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Transaction, bool, error) {
	s.mu.RLock()
	e := s.items[id]
	s.mu.RUnlock()
	if e == nil {
		return domain.Transaction{}, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deleted {
		return domain.Transaction{}, false, nil
	}
	return e.tx.Clone(), true, nil
}

func (s *Store) List(ctx context.Context, from string, limit int) ([]domain.Transaction, string, error) {
	s.mu.RLock()
	order := make([]string, len(s.order))
	copy(order, s.order)
	s.mu.RUnlock()

	start := 0
	if from != "" {
		for i, id := range order {
			if id == from {
				start = i + 1
				break
			}
		}
	}
	out := make([]domain.Transaction, 0, limit)
	next := ""
	for i := start; i < len(order); i++ {
		s.mu.RLock()
		e := s.items[order[i]]
		s.mu.RUnlock()
		if e == nil {
			continue
		}
		e.mu.RLock()
		deleted := e.deleted
		var tx domain.Transaction
		if !deleted {
			tx = e.tx.Clone()
		}
		e.mu.RUnlock()
		if deleted {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			if i+1 < len(order) {
				next = tx.ID
			}
			break
		}
	}
	return out, next, nil
}

func (s *Store) UpdateRequest(ctx context.Context, id string, req domain.Request) (domain.Transaction, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Transaction{}, domain.ErrNotFound
	}
	// re-checked under the entry lock: a replay may have flagged the
	// transaction between the caller's read and this write
	if e.tx.Replayed {
		return domain.Transaction{}, domain.ErrReplayed
	}
	e.tx.Request = req.Clone()
	return e.tx.Clone(), nil
}

func (s *Store) Complete(ctx context.Context, id string, resp *domain.Response, status domain.Status, errMsg string, kind domain.ErrorKind) (domain.Transaction, bool, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.Transaction{}, false, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Transaction{}, false, domain.ErrNotFound
	}
	// forward-only: a terminal transaction never changes status again
	if e.tx.Terminal() {
		return e.tx.Clone(), false, nil
	}
	if resp != nil {
		r := *resp
		r.Headers = append([]domain.Header(nil), resp.Headers...)
		r.Body = append([]byte(nil), resp.Body...)
		e.tx.Response = &r
	}
	e.tx.Status = status
	e.tx.Error = errMsg
	e.tx.ErrorKind = kind
	now := time.Now().UTC()
	e.tx.CompletedAt = &now
	return e.tx.Clone(), true, nil
}

func (s *Store) MarkReplayed(ctx context.Context, id string) (domain.Transaction, bool, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.Transaction{}, false, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Transaction{}, false, domain.ErrNotFound
	}
	if e.tx.Replayed {
		return e.tx.Clone(), false, nil
	}
	e.tx.Replayed = true
	return e.tx.Clone(), true, nil
}

func (s *Store) SetTags(ctx context.Context, id string, tags []string) (domain.Transaction, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.Transaction{}, domain.ErrNotFound
	}
	e.tx.Tags = append([]string(nil), tags...)
	return e.tx.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	e := s.lookup(id)
	if e == nil {
		return domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.ErrNotFound
	}
	e.deleted = true
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.items {
		e.mu.RLock()
		if !e.deleted {
			n++
		}
		e.mu.RUnlock()
	}
	return n, nil
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id]
}
