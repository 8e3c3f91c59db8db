package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/baller-exchange/internal/port"
)

const (
	selectDoc    = `SELECT version, body FROM documents WHERE kind = ? AND id = ?`
	lockDoc      = `SELECT version FROM documents WHERE kind = ? AND id = ? FOR UPDATE`
	insertDoc    = `INSERT INTO documents (kind, id, version, body) VALUES (?, ?, 1, ?)`
	updateDocPat = `UPDATE documents\s+SET version = version \+ 1, body = \?\s+WHERE kind = \? AND id = \? AND version = \?`
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(sqlx.NewDb(db, "mysql")), mock
}

func docRows(version int64, body string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"version", "body"}).AddRow(version, []byte(body))
}

func TestMySQLStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(3, `{"display_name":"alice"}`))

	rec, err := store.Get(ctx, port.KindUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, "u1", rec.ID)
	assert.JSONEq(t, `{"display_name":"alice"}`, string(rec.Body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("items", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"version", "body"}))

	_, err := store.Get(context.Background(), port.KindItem, "nope")
	assert.ErrorIs(t, err, port.ErrDocumentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitReplace(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	body := []byte(`{"currency_balance":0}`)

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(3, `{"currency_balance":1000}`))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(updateDocPat).
		WithArgs(body, "users", "u1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Get(ctx, port.KindUser, "u1")
	require.NoError(t, err)
	require.NoError(t, tx.Replace(ctx, port.KindUser, "u1", rec.Version, body))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitDetectsMovedVersion(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(3, `{}`))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))
	mock.ExpectRollback()

	tx, _ := store.Begin(ctx)
	_, err := tx.Get(ctx, port.KindUser, "u1")
	require.NoError(t, err)
	require.NoError(t, tx.Replace(ctx, port.KindUser, "u1", 3, []byte(`{"x":1}`)))

	assert.ErrorIs(t, tx.Commit(ctx), port.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitUpdateLostRace(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("items", "i1").
		WillReturnRows(docRows(1, `{}`))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WithArgs("items", "i1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec(updateDocPat).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.Replace(ctx, port.KindItem, "i1", 1, []byte(`{}`)))
	assert.ErrorIs(t, tx.Commit(ctx), port.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitInsert(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	body := []byte(`{"owner":"u1"}`)

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("items", "i1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "body"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WithArgs("items", "i1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(regexp.QuoteMeta(insertDoc)).
		WithArgs("items", "i1", body).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.Insert(ctx, port.KindItem, "i1", body))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_DuplicateInsertIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("trades", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "body"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WithArgs("trades", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(regexp.QuoteMeta(insertDoc)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.Insert(ctx, port.KindTrade, "t1", []byte(`{}`)))
	assert.ErrorIs(t, tx.Commit(ctx), port.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_DeadlockIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(2, `{}`))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockDoc)).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()

	tx, _ := store.Begin(ctx)
	require.NoError(t, tx.Replace(ctx, port.KindUser, "u1", 2, []byte(`{}`)))
	assert.ErrorIs(t, tx.Commit(ctx), port.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_ReadOnlyCommitValidates(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(5, `{}`))
	mock.ExpectQuery(regexp.QuoteMeta(selectDoc)).
		WithArgs("users", "u1").
		WillReturnRows(docRows(6, `{}`))

	tx, _ := store.Begin(ctx)
	_, err := tx.Get(ctx, port.KindUser, "u1")
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Commit(ctx), port.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_Query(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, version, body FROM documents WHERE kind = ? AND JSON_UNQUOTE(JSON_EXTRACT(body, '$.owner')) = ? ORDER BY JSON_EXTRACT(body, '$.creation_time'), id LIMIT ? OFFSET ?`)).
		WithArgs("items", "u1", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "body"}).
			AddRow("i1", 1, []byte(`{"owner":"u1"}`)).
			AddRow("i2", 3, []byte(`{"owner":"u1"}`)))

	recs, err := store.Query(context.Background(), port.Query{
		Kind:    port.KindItem,
		Filters: []port.Filter{{Field: "owner", Op: port.FilterEq, Value: "u1"}},
		OrderBy: "creation_time",
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "i2", recs[1].ID)
	assert.Equal(t, int64(3), recs[1].Version)
	assert.Equal(t, port.KindItem, recs[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		q        port.Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "kind only",
			q:        port.Query{Kind: port.KindUser},
			wantSQL:  `SELECT id, version, body FROM documents WHERE kind = ? ORDER BY id`,
			wantArgs: []any{"users"},
		},
		{
			name: "status and sender, newest first",
			q: port.Query{
				Kind: port.KindTrade,
				Filters: []port.Filter{
					{Field: "sender_id", Op: port.FilterEq, Value: "u1"},
					{Field: "status", Op: port.FilterEq, Value: "sent"},
				},
				OrderBy:    "creation_time",
				Descending: true,
				Limit:      5,
				Offset:     10,
			},
			wantSQL: `SELECT id, version, body FROM documents WHERE kind = ?` +
				` AND JSON_UNQUOTE(JSON_EXTRACT(body, '$.sender_id')) = ?` +
				` AND JSON_UNQUOTE(JSON_EXTRACT(body, '$.status')) = ?` +
				` ORDER BY JSON_EXTRACT(body, '$.creation_time') DESC, id LIMIT ? OFFSET ?`,
			wantArgs: []any{"trades", "u1", "sent", 5, 10},
		},
		{
			name: "prefix escapes wildcards",
			q: port.Query{
				Kind:    port.KindUser,
				Filters: []port.Filter{{Field: "display_name", Op: port.FilterPrefix, Value: "Ab_%"}},
			},
			wantSQL: `SELECT id, version, body FROM documents WHERE kind = ?` +
				` AND LOWER(JSON_UNQUOTE(JSON_EXTRACT(body, '$.display_name'))) LIKE ? ORDER BY id`,
			wantArgs: []any{"users", `ab\_\%%`},
		},
		{
			name: "numeric eq and in on id",
			q: port.Query{
				Kind: port.KindItem,
				Filters: []port.Filter{
					{Field: "creation_time", Op: port.FilterEq, Value: int64(7)},
					{Field: "id", Op: port.FilterIn, Value: []string{"a", "b"}},
				},
				Offset: 3,
			},
			wantSQL: `SELECT id, version, body FROM documents WHERE kind = ?` +
				` AND CAST(JSON_EXTRACT(body, '$.creation_time') AS SIGNED) = ?` +
				` AND id IN (?,?) ORDER BY id LIMIT ` + maxRows + ` OFFSET ?`,
			wantArgs: []any{"items", int64(7), "a", "b", 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs := buildQuery(tt.q)
			assert.Equal(t, tt.wantSQL, gotSQL)
			assert.Equal(t, tt.wantArgs, gotArgs)
		})
	}
}
