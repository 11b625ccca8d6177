package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"reqlens/internal/domain"
)

// TransactionService owns the mutate -> index -> notify ordering for every
// write path. The index is updated synchronously before the bus event goes
// out, so a listener reacting to "added" can immediately query and find
// the new record.
type TransactionService struct {
	repo  TransactionRepository
	index Indexer
	bus   Publisher
}

func NewTransactionService(repo TransactionRepository, index Indexer, bus Publisher) *TransactionService {
	return &TransactionService{repo: repo, index: index, bus: bus}
}

// Capture appends a new transaction, assigning an id when the creator did
// not. Used by the normalizer, the import path, and replay derivation.
func (s *TransactionService) Capture(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CapturedAt.IsZero() {
		tx.CapturedAt = time.Now().UTC()
	}
	stored, err := s.repo.Append(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.index.Index(stored)
	s.bus.Publish(domain.Event{Type: domain.EventAdded, ID: stored.ID})
	return stored, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (domain.Transaction, bool, error) {
	return s.repo.Get(ctx, id)
}

func (s *TransactionService) List(ctx context.Context, from string, limit int) ([]domain.Transaction, string, error) {
	return s.repo.List(ctx, from, limit)
}

func (s *TransactionService) Len(ctx context.Context) (int, error) {
	return s.repo.Len(ctx)
}

// Edit applies patch to a transaction's request. Unreplayed transactions
// are mutated in place; a transaction that already served as a replay
// origin gets a derived copy instead, so replay history is never
// overwritten. The bool result reports whether a copy was derived.
func (s *TransactionService) Edit(ctx context.Context, id string, patch RequestPatch) (domain.Transaction, bool, error) {
	tx, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if !ok {
		return domain.Transaction{}, false, domain.ErrNotFound
	}
	req := tx.Request.Clone()
	patch.Apply(&req)
	if !tx.Replayed {
		updated, err := s.repo.UpdateRequest(ctx, id, req)
		if err == nil {
			s.index.Index(updated)
			s.bus.Publish(domain.Event{Type: domain.EventUpdated, ID: id})
			return updated, false, nil
		}
		// a replay flagged the origin between our read and the write; the
		// store rejected the in-place update, so derive a copy instead
		if !errors.Is(err, domain.ErrReplayed) {
			return domain.Transaction{}, false, err
		}
	}
	derived := domain.Transaction{
		ID:         uuid.NewString(),
		Request:    req,
		Status:     domain.StatusPending,
		CapturedAt: time.Now().UTC(),
		Tags:       append([]string(nil), tx.Tags...),
		Source:     tx.Source,
		OriginID:   tx.ID,
	}
	stored, err := s.repo.Append(ctx, derived)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	s.index.Index(stored)
	s.bus.Publish(domain.Event{Type: domain.EventAdded, ID: stored.ID})
	return stored, true, nil
}

func (s *TransactionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.index.Remove(id)
	s.bus.Publish(domain.Event{Type: domain.EventRemoved, ID: id})
	return nil
}

// Tag adds a tag to the transaction's tag set.
func (s *TransactionService) Tag(ctx context.Context, id, tag string) (domain.Transaction, error) {
	tx, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if tx.HasTag(tag) {
		return tx, nil
	}
	tx.AddTag(tag)
	return s.setTags(ctx, id, tx.Tags)
}

// Untag removes a tag from the transaction's tag set.
func (s *TransactionService) Untag(ctx context.Context, id, tag string) (domain.Transaction, error) {
	tx, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if !tx.HasTag(tag) {
		return tx, nil
	}
	tx.RemoveTag(tag)
	return s.setTags(ctx, id, tx.Tags)
}

func (s *TransactionService) setTags(ctx context.Context, id string, tags []string) (domain.Transaction, error) {
	updated, err := s.repo.SetTags(ctx, id, tags)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.index.Index(updated)
	s.bus.Publish(domain.Event{Type: domain.EventUpdated, ID: id})
	return updated, nil
}

// BeginReplay appends the pending replay-derived transaction and announces
// the dispatch. The origin is only flagged once the result lands, in
// FinishReplay.
func (s *TransactionService) BeginReplay(ctx context.Context, originID string, req domain.Request, batchID string) (domain.Transaction, error) {
	derived := domain.Transaction{
		ID:         uuid.NewString(),
		Request:    req,
		Status:     domain.StatusPending,
		CapturedAt: time.Now().UTC(),
		Source:     domain.SourceReplayed,
		OriginID:   originID,
	}
	stored, err := s.repo.Append(ctx, derived)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.index.Index(stored)
	s.bus.Publish(domain.Event{Type: domain.EventAdded, ID: stored.ID})
	s.bus.Publish(domain.Event{Type: domain.EventReplayStarted, ID: stored.ID, BatchID: batchID})
	return stored, nil
}

// FinishReplay records the replay outcome on the derived transaction and
// flags the origin as replayed.
func (s *TransactionService) FinishReplay(ctx context.Context, id, originID string, resp *domain.Response, status domain.Status, errMsg string, kind domain.ErrorKind, batchID string) (domain.Transaction, error) {
	tx, changed, err := s.repo.Complete(ctx, id, resp, status, errMsg, kind)
	if err != nil {
		return domain.Transaction{}, err
	}
	if changed {
		s.index.Index(tx)
		s.bus.Publish(domain.Event{Type: domain.EventUpdated, ID: id})
	}
	if origin, flagged, err := s.repo.MarkReplayed(ctx, originID); err == nil && flagged {
		s.index.Index(origin)
		s.bus.Publish(domain.Event{Type: domain.EventUpdated, ID: originID})
	}
	s.bus.Publish(domain.Event{Type: domain.EventReplayCompleted, ID: id, BatchID: batchID})
	return tx, nil
}

// RebuildIndex re-indexes every stored transaction from a full scan.
// Safe to call on a warm index; the result equals incremental updates.
func (s *TransactionService) RebuildIndex(ctx context.Context) error {
	if r, ok := s.index.(interface{ Reset() }); ok {
		r.Reset()
	}
	from := ""
	for {
		txs, next, err := s.repo.List(ctx, from, 500)
		if err != nil {
			return err
		}
		for _, tx := range txs {
			s.index.Index(tx)
		}
		if next == "" {
			return nil
		}
		from = next
	}
}

// Apply mutates req according to the patch. URL changes re-derive the
// parsed components; header and mime derivation stays consistent.
func (p RequestPatch) Apply(req *domain.Request) {
	if p.Method != nil && *p.Method != "" {
		req.Method = strings.ToUpper(*p.Method)
	}
	if p.URL != nil && *p.URL != "" {
		req.URL = *p.URL
	}
	if p.Headers != nil {
		req.Headers = append([]domain.Header(nil), (*p.Headers)...)
	}
	for _, set := range p.SetHeaders {
		replaced := false
		for i := range req.Headers {
			if strings.EqualFold(req.Headers[i].Name, set.Name) {
				req.Headers[i] = set
				replaced = true
				break
			}
		}
		if !replaced {
			req.Headers = append(req.Headers, set)
		}
	}
	for _, name := range p.RemoveHeaders {
		kept := req.Headers[:0]
		for _, h := range req.Headers {
			if !strings.EqualFold(h.Name, name) {
				kept = append(kept, h)
			}
		}
		req.Headers = kept
	}
	if p.Body != nil {
		req.Body = append([]byte(nil), (*p.Body)...)
	}
	req.ParseURL()
}
