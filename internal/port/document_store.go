package port

import (
	"context"
	"errors"
)

var (
	// ErrDocumentNotFound is returned when no record exists under a key.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrConflict signals a write-write conflict detected by the store: a
	// document read or written by the transaction changed before commit, an
	// insert collided with an existing key, or an expected version was stale.
	ErrConflict = errors.New("document conflict")
)

// Kind names a record collection.
type Kind string

const (
	KindUser  Kind = "users"
	KindItem  Kind = "items"
	KindTrade Kind = "trades"
)

// Record is a stored document. Body holds the JSON encoding of the record.
// Version starts at 1 on insert and grows by one on every replace.
type Record struct {
	Kind    Kind
	ID      string
	Version int64
	Body    []byte
}

type FilterOp string

const (
	FilterEq     FilterOp = "eq"
	FilterIn     FilterOp = "in"
	FilterPrefix FilterOp = "prefix" // case-insensitive string prefix
)

// Filter matches a top-level JSON field of the record body. Value is a
// string, an int64, or a []string for FilterIn.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type Query struct {
	Kind       Kind
	Filters    []Filter
	OrderBy    string // top-level body field; empty orders by id
	Descending bool
	Offset     int
	Limit      int // 0 means no limit
}

// Mutation rewrites a record body inside UpdateWhere. Returning changed=false
// leaves the record untouched; a non-nil error aborts the whole update.
type Mutation func(rec Record) (body []byte, changed bool, err error)

// Reader is the read surface shared by the store and its transactions.
type Reader interface {
	// Get returns ErrDocumentNotFound when no record exists under id.
	Get(ctx context.Context, kind Kind, id string) (Record, error)
}

// DocumentStore is a key-addressed document store with optimistic
// multi-document transactions.
type DocumentStore interface {
	Reader

	// Query returns records of one kind matching every filter.
	Query(ctx context.Context, q Query) ([]Record, error)

	// Begin opens a transaction. Reads made through it are tracked and
	// validated at commit.
	Begin(ctx context.Context) (Tx, error)
}

// Tx buffers writes until Commit. Reads observe the transaction's own
// buffered writes.
type Tx interface {
	Reader

	// Insert fails with ErrConflict if the id already exists.
	Insert(ctx context.Context, kind Kind, id string, body []byte) error

	// Replace fails with ErrConflict if the stored version differs from
	// expectedVersion.
	Replace(ctx context.Context, kind Kind, id string, expectedVersion int64, body []byte) error

	// UpdateWhere applies mutate to every existing record among ids and
	// returns how many were changed. Missing ids are skipped.
	UpdateWhere(ctx context.Context, kind Kind, ids []string, mutate Mutation) (int, error)

	// Commit applies all buffered writes atomically, or none of them and
	// returns ErrConflict.
	Commit(ctx context.Context) error

	// Rollback discards buffered writes. Safe to call after Commit.
	Rollback(ctx context.Context) error
}
