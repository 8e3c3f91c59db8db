package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/rl1809/baller-exchange/internal/port"
)

var errTxDone = errors.New("transaction already finished")

type docKey struct {
	kind port.Kind
	id   string
}

type storedDoc struct {
	version int64
	body    []byte
}

type pendingWrite struct {
	insert bool
	base   int64 // version the write was made against, 0 for inserts
	body   []byte
}

// fetchFunc reads the committed state of one document.
type fetchFunc func(ctx context.Context, key docKey) (storedDoc, bool, error)

// txBuffer implements the read tracking and write buffering shared by the
// store backends. Every key it touches ends up in reads with the version it
// was observed at (0 for absent), which the backend validates on commit.
type txBuffer struct {
	fetch  fetchFunc
	reads  map[docKey]int64
	writes map[docKey]*pendingWrite
	done   bool
}

func newTxBuffer(fetch fetchFunc) *txBuffer {
	return &txBuffer{
		fetch:  fetch,
		reads:  make(map[docKey]int64),
		writes: make(map[docKey]*pendingWrite),
	}
}

func (b *txBuffer) Get(ctx context.Context, kind port.Kind, id string) (port.Record, error) {
	if b.done {
		return port.Record{}, errTxDone
	}
	key := docKey{kind: kind, id: id}

	if w, ok := b.writes[key]; ok {
		return port.Record{Kind: kind, ID: id, Version: w.base + 1, Body: cloneBytes(w.body)}, nil
	}

	doc, found, err := b.fetch(ctx, key)
	if err != nil {
		return port.Record{}, err
	}
	if err := b.observe(key, doc.version, found); err != nil {
		return port.Record{}, err
	}
	if !found {
		return port.Record{}, port.ErrDocumentNotFound
	}
	return port.Record{Kind: kind, ID: id, Version: doc.version, Body: doc.body}, nil
}

// observe records the version seen for key. Seeing a different version than
// an earlier read means another writer already committed in between.
func (b *txBuffer) observe(key docKey, version int64, found bool) error {
	if !found {
		version = 0
	}
	if prev, ok := b.reads[key]; ok && prev != version {
		return port.ErrConflict
	}
	b.reads[key] = version
	return nil
}

func (b *txBuffer) Insert(ctx context.Context, kind port.Kind, id string, body []byte) error {
	if b.done {
		return errTxDone
	}
	key := docKey{kind: kind, id: id}

	if _, ok := b.writes[key]; ok {
		return port.ErrConflict
	}
	if v, ok := b.reads[key]; ok && v != 0 {
		return port.ErrConflict
	}

	doc, found, err := b.fetch(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return port.ErrConflict
	}
	if err := b.observe(key, doc.version, false); err != nil {
		return err
	}

	b.writes[key] = &pendingWrite{insert: true, body: cloneBytes(body)}
	return nil
}

func (b *txBuffer) Replace(ctx context.Context, kind port.Kind, id string, expectedVersion int64, body []byte) error {
	if b.done {
		return errTxDone
	}
	key := docKey{kind: kind, id: id}

	if w, ok := b.writes[key]; ok {
		if w.base+1 != expectedVersion {
			return port.ErrConflict
		}
		w.body = cloneBytes(body)
		return nil
	}

	if v, ok := b.reads[key]; ok {
		if v == 0 || v != expectedVersion {
			return port.ErrConflict
		}
	} else {
		doc, found, err := b.fetch(ctx, key)
		if err != nil {
			return err
		}
		if !found || doc.version != expectedVersion {
			return port.ErrConflict
		}
		b.reads[key] = doc.version
	}

	b.writes[key] = &pendingWrite{base: expectedVersion, body: cloneBytes(body)}
	return nil
}

func (b *txBuffer) UpdateWhere(ctx context.Context, kind port.Kind, ids []string, mutate port.Mutation) (int, error) {
	changed := 0
	for _, id := range ids {
		rec, err := b.Get(ctx, kind, id)
		if errors.Is(err, port.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return changed, err
		}

		body, ok, err := mutate(rec)
		if err != nil {
			return changed, err
		}
		if !ok {
			continue
		}
		if err := b.Replace(ctx, kind, id, rec.Version, body); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// touched returns every key the transaction read or wrote in a stable order,
// so backends that lock rows acquire them consistently.
func (b *txBuffer) touched() []docKey {
	keys := make([]docKey, 0, len(b.reads))
	for k := range b.reads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].id < keys[j].id
	})
	return keys
}

func (b *txBuffer) finish() {
	b.done = true
	b.reads = nil
	b.writes = nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
