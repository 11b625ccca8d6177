package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"reqlens/internal/domain"
)

var (
	bucketTx    = []byte("transactions")
	bucketOrder = []byte("order")
	bucketMeta  = []byte("meta")
	keySeq      = []byte("seq")
)

// record wraps a transaction with the tombstone flag so logical deletes
// survive restarts.
type record struct {
	Tx      domain.Transaction
	Deleted bool
}

// Store is a bbolt-backed transaction store implementing the same port as
// the memory store. Entries are gob-encoded; a secondary order bucket maps
// the big-endian sequence number to the id for capture-order iteration.
// bbolt serializes writers internally, which covers per-id serialization.
type Store struct {
	db *bolt.DB
}

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTx, bucketOrder, bucketMeta} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	err := s.db.Update(func(btx *bolt.Tx) error {
		txs := btx.Bucket(bucketTx)
		if v := txs.Get([]byte(tx.ID)); v != nil {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if !rec.Deleted {
				tx = rec.Tx
				return nil
			}
		}
		meta := btx.Bucket(bucketMeta)
		seq := uint64(1)
		if v := meta.Get(keySeq); v != nil {
			seq = binary.BigEndian.Uint64(v) + 1
		}
		var sb [8]byte
		binary.BigEndian.PutUint64(sb[:], seq)
		if err := meta.Put(keySeq, sb[:]); err != nil {
			return err
		}
		tx.Seq = seq
		if tx.CapturedAt.IsZero() {
			tx.CapturedAt = time.Now().UTC()
		}
		if err := btx.Bucket(bucketOrder).Put(sb[:], []byte(tx.ID)); err != nil {
			return err
		}
		return putRecord(txs, record{Tx: tx})
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Transaction, bool, error) {
	var out domain.Transaction
	found := false
	err := s.db.View(func(btx *bolt.Tx) error {
		v := btx.Bucket(bucketTx).Get([]byte(id))
		if v == nil {
			return nil
		}
		rec, err := decode(v)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return nil
		}
		out = rec.Tx
		found = true
		return nil
	})
	return out, found, err
}

func (s *Store) List(ctx context.Context, from string, limit int) ([]domain.Transaction, string, error) {
	out := make([]domain.Transaction, 0, limit)
	next := ""
	err := s.db.View(func(btx *bolt.Tx) error {
		txs := btx.Bucket(bucketTx)
		c := btx.Bucket(bucketOrder).Cursor()
		k, v := c.First()
		if from != "" {
			raw := txs.Get([]byte(from))
			if raw == nil {
				return fmt.Errorf("cursor %q: %w", from, domain.ErrNotFound)
			}
			rec, err := decode(raw)
			if err != nil {
				return err
			}
			var sb [8]byte
			binary.BigEndian.PutUint64(sb[:], rec.Tx.Seq)
			c.Seek(sb[:])
			k, v = c.Next()
		}
		for ; k != nil; k, v = c.Next() {
			raw := txs.Get(v)
			if raw == nil {
				continue
			}
			rec, err := decode(raw)
			if err != nil {
				return err
			}
			if rec.Deleted {
				continue
			}
			out = append(out, rec.Tx)
			if limit > 0 && len(out) == limit {
				if nk, _ := c.Next(); nk != nil {
					next = rec.Tx.ID
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

func (s *Store) UpdateRequest(ctx context.Context, id string, req domain.Request) (domain.Transaction, error) {
	return s.mutate(id, func(rec *record) error {
		// the replayed flag is re-checked inside the update transaction so
		// an edit racing a replay cannot rewrite a fresh origin
		if rec.Tx.Replayed {
			return domain.ErrReplayed
		}
		rec.Tx.Request = req.Clone()
		return nil
	})
}

func (s *Store) Complete(ctx context.Context, id string, resp *domain.Response, status domain.Status, errMsg string, kind domain.ErrorKind) (domain.Transaction, bool, error) {
	changed := false
	out, err := s.mutate(id, func(rec *record) error {
		if rec.Tx.Terminal() {
			return nil
		}
		if resp != nil {
			r := *resp
			rec.Tx.Response = &r
		}
		rec.Tx.Status = status
		rec.Tx.Error = errMsg
		rec.Tx.ErrorKind = kind
		now := time.Now().UTC()
		rec.Tx.CompletedAt = &now
		changed = true
		return nil
	})
	return out, changed, err
}

func (s *Store) MarkReplayed(ctx context.Context, id string) (domain.Transaction, bool, error) {
	flagged := false
	out, err := s.mutate(id, func(rec *record) error {
		if rec.Tx.Replayed {
			return nil
		}
		rec.Tx.Replayed = true
		flagged = true
		return nil
	})
	return out, flagged, err
}

func (s *Store) SetTags(ctx context.Context, id string, tags []string) (domain.Transaction, error) {
	return s.mutate(id, func(rec *record) error {
		rec.Tx.Tags = append([]string(nil), tags...)
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.mutate(id, func(rec *record) error {
		rec.Deleted = true
		return nil
	})
	return err
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketTx).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if !rec.Deleted {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (s *Store) mutate(id string, fn func(*record) error) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.db.Update(func(btx *bolt.Tx) error {
		txs := btx.Bucket(bucketTx)
		v := txs.Get([]byte(id))
		if v == nil {
			return domain.ErrNotFound
		}
		rec, err := decode(v)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return domain.ErrNotFound
		}
		if err := fn(&rec); err != nil {
			return err
		}
		out = rec.Tx
		return putRecord(txs, rec)
	})
	return out, err
}

func putRecord(b *bolt.Bucket, rec record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return b.Put([]byte(rec.Tx.ID), buf.Bytes())
}

func decode(v []byte) (record, error) {
	var rec record
	err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec)
	return rec, err
}
