package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (o operationType) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[o]
}

// mockOperation is one expected call on the scripted connection. query is
// compared with whitespace collapsed; an empty query matches anything.
type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return 0, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

// scriptDriver replays ops in order and fails on anything unexpected.
type scriptDriver struct {
	mu  sync.Mutex
	ops []mockOperation
	pos int
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *scriptDriver) {
	t.Helper()

	drv := &scriptDriver{ops: ops}
	name := fmt.Sprintf("activity-script-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{typ: opBegin} }
func commitOp() mockOperation   { return mockOperation{typ: opCommit} }
func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *scriptDriver) assertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.ops) {
		t.Fatalf("scripted operations left unused: %d/%d", d.pos, len(d.ops))
	}
}

// take pops the next op, checks its type and query, and returns its error.
func (d *scriptDriver) take(typ operationType, query string) (mockOperation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.ops) {
		return mockOperation{}, fmt.Errorf("unexpected %s", typ)
	}
	op := d.ops[d.pos]
	if op.typ != typ {
		return mockOperation{}, fmt.Errorf("expected %s, got %s", op.typ, typ)
	}
	d.pos++
	if op.query != "" && collapse(op.query) != collapse(query) {
		return mockOperation{}, fmt.Errorf("unexpected query. want %q got %q", collapse(op.query), collapse(query))
	}
	return op, op.err
}

func (d *scriptDriver) Open(string) (driver.Conn, error) {
	return scriptConn{d}, nil
}

type scriptConn struct {
	d *scriptDriver
}

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c scriptConn) Close() error { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.take(opBegin, ""); err != nil {
		return nil, err
	}
	return scriptTx{c.d}, nil
}

func (c scriptConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.d.take(opExec, query)
	if err != nil {
		return nil, err
	}
	return op.result, nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.d.take(opQuery, query)
	if err != nil {
		return nil, err
	}
	return &scriptRows{data: op.rows}, nil
}

type scriptTx struct {
	d *scriptDriver
}

func (t scriptTx) Commit() error {
	_, err := t.d.take(opCommit, "")
	return err
}

func (t scriptTx) Rollback() error {
	_, err := t.d.take(opRollback, "")
	return err
}

type scriptRows struct {
	data mockRowsData
	next int
}

func (r *scriptRows) Columns() []string { return r.data.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.next >= len(r.data.values) {
		return io.EOF
	}
	copy(dest, r.data.values[r.next])
	r.next++
	return nil
}

func collapse(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
