package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/baller-exchange/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MySQL error numbers that mean another transaction got there first.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// maxRows stands in for "no limit" since MySQL needs LIMIT to use OFFSET.
const maxRows = "18446744073709551615"

// MySQLStore keeps every record in one documents table. Transactions read
// without locks and, on commit, lock the touched rows, compare versions, and
// apply buffered writes, so a stale read turns into ErrConflict.
type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// MigrateMySQL applies the embedded schema migrations to the database at dsn.
// It opens its own connection so closing the migrator leaves the store's
// pool alone.
func MigrateMySQL(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "mysql://"+dsn)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

type docRow struct {
	ID      string `db:"id"`
	Version int64  `db:"version"`
	Body    []byte `db:"body"`
}

func (m *MySQLStore) Get(ctx context.Context, kind port.Kind, id string) (port.Record, error) {
	doc, found, err := m.fetch(ctx, docKey{kind: kind, id: id})
	if err != nil {
		return port.Record{}, err
	}
	if !found {
		return port.Record{}, port.ErrDocumentNotFound
	}
	return port.Record{Kind: kind, ID: id, Version: doc.version, Body: doc.body}, nil
}

func (m *MySQLStore) fetch(ctx context.Context, key docKey) (storedDoc, bool, error) {
	var row docRow
	err := m.db.GetContext(ctx, &row,
		`SELECT version, body FROM documents WHERE kind = ? AND id = ?`,
		string(key.kind), key.id,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return storedDoc{}, false, nil
	}
	if err != nil {
		return storedDoc{}, false, fmt.Errorf("get %s/%s: %w", key.kind, key.id, err)
	}
	return storedDoc{version: row.Version, body: row.Body}, true, nil
}

func (m *MySQLStore) Query(ctx context.Context, q port.Query) ([]port.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	query, args := buildQuery(q)
	var rows []docRow
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Kind, err)
	}

	out := make([]port.Record, len(rows))
	for i, row := range rows {
		out[i] = port.Record{Kind: q.Kind, ID: row.ID, Version: row.Version, Body: row.Body}
	}
	return out, nil
}

func buildQuery(q port.Query) (string, []any) {
	var sb strings.Builder
	args := []any{string(q.Kind)}

	sb.WriteString(`SELECT id, version, body FROM documents WHERE kind = ?`)
	for _, f := range q.Filters {
		col := jsonText(f.Field)
		switch f.Op {
		case port.FilterEq:
			if _, isString := f.Value.(string); !isString {
				col = "CAST(JSON_EXTRACT(body, '$." + f.Field + "') AS SIGNED)"
			}
			sb.WriteString(" AND " + col + " = ?")
			args = append(args, f.Value)
		case port.FilterIn:
			values := f.Value.([]string)
			if len(values) == 0 {
				sb.WriteString(" AND FALSE")
				continue
			}
			sb.WriteString(" AND " + col + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")")
			for _, v := range values {
				args = append(args, v)
			}
		case port.FilterPrefix:
			sb.WriteString(" AND LOWER(" + col + ") LIKE ?")
			args = append(args, strings.ToLower(escapeLike(f.Value.(string)))+"%")
		}
	}

	if q.OrderBy == "" || q.OrderBy == "id" {
		sb.WriteString(" ORDER BY id")
		if q.Descending {
			sb.WriteString(" DESC")
		}
	} else {
		sb.WriteString(" ORDER BY JSON_EXTRACT(body, '$." + q.OrderBy + "')")
		if q.Descending {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", id")
	}

	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	case q.Offset > 0:
		sb.WriteString(" LIMIT " + maxRows + " OFFSET ?")
		args = append(args, q.Offset)
	}

	return sb.String(), args
}

// jsonText addresses a top-level body field as text; "id" is the key column.
func jsonText(field string) string {
	if field == "id" {
		return "id"
	}
	return "JSON_UNQUOTE(JSON_EXTRACT(body, '$." + field + "'))"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (m *MySQLStore) Begin(_ context.Context) (port.Tx, error) {
	return &mysqlTx{txBuffer: newTxBuffer(m.fetch), db: m.db}, nil
}

type mysqlTx struct {
	*txBuffer
	db *sqlx.DB
}

func (t *mysqlTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	defer t.finish()

	if len(t.writes) == 0 {
		return t.validateReadOnly(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, key := range t.touched() {
		var current int64
		err := tx.GetContext(ctx, &current,
			`SELECT version FROM documents WHERE kind = ? AND id = ? FOR UPDATE`,
			string(key.kind), key.id,
		)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return classify(fmt.Errorf("lock %s/%s: %w", key.kind, key.id, err))
		}
		if current != t.reads[key] {
			return port.ErrConflict
		}

		w, ok := t.writes[key]
		if !ok {
			continue
		}
		if w.insert {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO documents (kind, id, version, body) VALUES (?, ?, 1, ?)`,
				string(key.kind), key.id, w.body,
			)
			if err != nil {
				return classify(fmt.Errorf("insert %s/%s: %w", key.kind, key.id, err))
			}
			continue
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET version = version + 1, body = ?
			WHERE kind = ? AND id = ? AND version = ?`,
			w.body, string(key.kind), key.id, w.base,
		)
		if err != nil {
			return classify(fmt.Errorf("update %s/%s: %w", key.kind, key.id, err))
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return port.ErrConflict
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// validateReadOnly confirms nothing the transaction read has moved since.
func (t *mysqlTx) validateReadOnly(ctx context.Context) error {
	for _, key := range t.touched() {
		doc, found, err := t.fetch(ctx, key)
		if err != nil {
			return err
		}
		current := int64(0)
		if found {
			current = doc.version
		}
		if current != t.reads[key] {
			return port.ErrConflict
		}
	}
	return nil
}

func (t *mysqlTx) Rollback(_ context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

// classify turns MySQL contention errors into ErrConflict so the caller retries.
func classify(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDupEntry, mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %v", port.ErrConflict, err)
		}
	}
	return err
}
