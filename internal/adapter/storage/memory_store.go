package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rl1809/baller-exchange/internal/port"
)

// MemoryStore is an in-process document store with the same optimistic
// transaction semantics as the MySQL store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[docKey]storedDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[docKey]storedDoc)}
}

func (m *MemoryStore) Get(ctx context.Context, kind port.Kind, id string) (port.Record, error) {
	doc, found, err := m.fetch(ctx, docKey{kind: kind, id: id})
	if err != nil {
		return port.Record{}, err
	}
	if !found {
		return port.Record{}, port.ErrDocumentNotFound
	}
	return port.Record{Kind: kind, ID: id, Version: doc.version, Body: doc.body}, nil
}

func (m *MemoryStore) fetch(_ context.Context, key docKey) (storedDoc, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return storedDoc{}, false, nil
	}
	return storedDoc{version: doc.version, body: cloneBytes(doc.body)}, true, nil
}

func (m *MemoryStore) Query(_ context.Context, q port.Query) ([]port.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	type row struct {
		rec    port.Record
		fields map[string]any
	}

	m.mu.RLock()
	rows := make([]row, 0)
	for key, doc := range m.docs {
		if key.kind != q.Kind {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(doc.body, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("decode %s/%s: %w", key.kind, key.id, err)
		}
		fields["id"] = key.id
		if !matchesAll(fields, q.Filters) {
			continue
		}
		rows = append(rows, row{
			rec:    port.Record{Kind: key.kind, ID: key.id, Version: doc.version, Body: cloneBytes(doc.body)},
			fields: fields,
		})
	}
	m.mu.RUnlock()

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i].fields[orderBy], rows[j].fields[orderBy])
		if c == 0 {
			c = strings.Compare(rows[i].rec.ID, rows[j].rec.ID)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Offset >= len(rows) {
		return []port.Record{}, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}

	out := make([]port.Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (m *MemoryStore) Begin(_ context.Context) (port.Tx, error) {
	return &memoryTx{txBuffer: newTxBuffer(m.fetch), store: m}, nil
}

// Len reports the number of stored documents of kind.
func (m *MemoryStore) Len(kind port.Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for key := range m.docs {
		if key.kind == kind {
			n++
		}
	}
	return n
}

type memoryTx struct {
	*txBuffer
	store *MemoryStore
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	defer t.finish()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, key := range t.touched() {
		current := int64(0)
		if doc, ok := t.store.docs[key]; ok {
			current = doc.version
		}
		if current != t.reads[key] {
			return port.ErrConflict
		}
	}

	for key, w := range t.writes {
		t.store.docs[key] = storedDoc{version: w.base + 1, body: w.body}
	}
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func matchesAll(fields map[string]any, filters []port.Filter) bool {
	for _, f := range filters {
		if !matches(fields[f.Field], f) {
			return false
		}
	}
	return true
}

func matches(v any, f port.Filter) bool {
	switch f.Op {
	case port.FilterEq:
		return compareValues(v, f.Value) == 0 && v != nil
	case port.FilterIn:
		values, _ := f.Value.([]string)
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, want := range values {
			if s == want {
				return true
			}
		}
		return false
	case port.FilterPrefix:
		s, ok := v.(string)
		prefix, _ := f.Value.(string)
		return ok && strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
	}
	return false
}

// compareValues orders decoded JSON values: numbers numerically, strings
// lexically, missing values first.
func compareValues(a, b any) int {
	an, aNum := toFloat(a)
	bn, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
