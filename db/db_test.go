package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.relite.dev/core/lifecycle"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/vfs"
)

type testFixture struct {
	files *vfs.Registry
	obs   *lifecycle.Counts
	name  string
}

func newFixture(t *testing.T) *testFixture {
	return &testFixture{
		files: vfs.NewRegistry(),
		obs:   new(lifecycle.Counts),
		name:  filepath.Join(t.TempDir(), "test.db"),
	}
}

func (f *testFixture) open(t *testing.T) *DB {
	var d, err = Open(f.name, OpenCreate|OpenReadWrite, "wal-target", f.files, f.obs)
	require.NoError(t, err)
	return d
}

func mustExec(t *testing.T, d *DB, sql string, params ...protocol.Value) {
	var stmt, err = d.Prepare(sql)
	require.NoError(t, err)
	_, _, err = stmt.Exec(params)
	require.NoError(t, err)
	require.NoError(t, d.Finalize(stmt))
}

func TestOpenPrepareExecFinalize(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	mustExec(t, d, "CREATE TABLE t (n INTEGER)")

	var stmt, err = d.Prepare("INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	require.Equal(t, uint64(1), stmt.NumInput())
	require.Equal(t, "", stmt.Tail())

	var lastID, affected, eerr = stmt.Exec([]protocol.Value{{Type: protocol.Integer, Int: 42}})
	require.NoError(t, eerr)
	require.Equal(t, uint64(1), lastID)
	require.Equal(t, uint64(1), affected)

	require.NoError(t, d.Finalize(stmt))

	// The statement registry is empty and no transaction was implicitly
	// opened.
	require.Zero(t, d.StmtCount())
	require.False(t, d.InTx())
	require.Zero(t, d.File().TxRefcount())

	// The inserted row reads back.
	stmt, err = d.Prepare("SELECT n FROM t")
	require.NoError(t, err)

	var columns, rows, qerr = stmt.Query(nil)
	require.NoError(t, qerr)
	require.Equal(t, []string{"n"}, columns)
	require.Equal(t, [][]protocol.Value{{{Type: protocol.Integer, Int: 42}}}, rows)

	require.NoError(t, d.Finalize(stmt))
	require.NoError(t, d.Close())

	require.Zero(t, f.obs.Live(lifecycle.DB))
	require.Zero(t, f.obs.Live(lifecycle.Stmt))
}

func TestQueryValueTypes(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	mustExec(t, d, "CREATE TABLE v (i INTEGER, f REAL, s TEXT, b BLOB, n INTEGER)")
	mustExec(t, d, "INSERT INTO v VALUES (?, ?, ?, ?, ?)",
		protocol.Value{Type: protocol.Integer, Int: -7},
		protocol.Value{Type: protocol.Float, Float: 1.25},
		protocol.Value{Type: protocol.Text, Text: "hello"},
		protocol.Value{Type: protocol.Blob, Blob: []byte{0x01, 0x02}},
		protocol.Value{Type: protocol.Null},
	)

	var stmt, err = d.Prepare("SELECT i, f, s, b, n FROM v")
	require.NoError(t, err)

	var _, rows, qerr = stmt.Query(nil)
	require.NoError(t, qerr)
	require.Equal(t, [][]protocol.Value{{
		{Type: protocol.Integer, Int: -7},
		{Type: protocol.Float, Float: 1.25},
		{Type: protocol.Text, Text: "hello"},
		{Type: protocol.Blob, Blob: []byte{0x01, 0x02}},
		{Type: protocol.Null},
	}}, rows)

	require.NoError(t, d.Finalize(stmt))
	require.NoError(t, d.Close())
}

func TestPrepareFailureLeaksNoEntry(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	var _, err = d.Prepare("NOT VALID SQL")
	require.Error(t, err)
	require.Equal(t, protocol.CodeEngine, protocol.CodeOf(err))

	require.Zero(t, d.StmtCount())
	require.Zero(t, f.obs.Live(lifecycle.Stmt))
	require.NoError(t, d.Close())
}

func TestStmtLookupAndDoubleFinalize(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	var stmt, err = d.Prepare("SELECT 1")
	require.NoError(t, err)

	var got *Stmt
	got, err = d.Stmt(stmt.ID())
	require.NoError(t, err)
	require.Same(t, stmt, got)

	_, err = d.Stmt(99)
	require.EqualError(t, err, "no stmt with id 99")
	require.Equal(t, protocol.CodeNotFound, protocol.CodeOf(err))

	require.NoError(t, d.Finalize(stmt))

	// A second finalize of the same handle is NotFound, not a double
	// free.
	err = d.Finalize(stmt)
	require.Equal(t, protocol.CodeNotFound, protocol.CodeOf(err))

	require.NoError(t, d.Close())
}

func TestPrepareTail(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	var stmt, err = d.Prepare("SELECT 1; SELECT 2")
	require.NoError(t, err)
	require.Equal(t, "SELECT 2", stmt.Tail())

	require.NoError(t, d.Finalize(stmt))
	require.NoError(t, d.Close())
}

func TestSQLTailSkipsQuotesAndComments(t *testing.T) {
	var cases = []struct{ sql, tail string }{
		{"SELECT 1", ""},
		{"SELECT 1; SELECT 2", "SELECT 2"},
		{"SELECT ';'", ""},
		{"SELECT 'a''b; c'", ""},
		{`SELECT ";"`, ""},
		{"SELECT 1 /* ; */", ""},
		{"SELECT 1 -- trailing ; comment", ""},
		{"SELECT 1 /* ; */; SELECT 2", "SELECT 2"},
		{"SELECT 1 -- c\n; SELECT 2", "SELECT 2"},
		{"SELECT 1 /* unterminated ;", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.tail, sqlTail(c.sql), "sql: %s", c.sql)
	}
}

func TestBeginTwice(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	require.NoError(t, d.Begin())
	require.Equal(t, int64(1), d.File().TxRefcount())

	// A second Begin fails and leaves the refcount unchanged.
	var err = d.Begin()
	require.EqualError(t, err, "a transaction is already open")
	require.Equal(t, protocol.CodeAlreadyInTx, protocol.CodeOf(err))
	require.Equal(t, int64(1), d.File().TxRefcount())

	require.NoError(t, d.Commit())
	require.Zero(t, d.File().TxRefcount())
	require.NoError(t, d.Close())
}

func TestCommitRollbackWithoutBegin(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	var err = d.Commit()
	require.Equal(t, protocol.CodeNoTx, protocol.CodeOf(err))
	require.Zero(t, d.File().TxRefcount())

	err = d.Rollback()
	require.Equal(t, protocol.CodeNoTx, protocol.CodeOf(err))
	require.Zero(t, d.File().TxRefcount())

	require.NoError(t, d.Close())
}

func TestTransactionCommitAndRollback(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	mustExec(t, d, "CREATE TABLE t (n INTEGER)")

	// Committed work is visible.
	require.NoError(t, d.Begin())
	mustExec(t, d, "INSERT INTO t VALUES (?)", protocol.Value{Type: protocol.Integer, Int: 1})
	require.NoError(t, d.Commit())

	// Rolled-back work is not, and the refcount returns to zero.
	require.NoError(t, d.Begin())
	mustExec(t, d, "INSERT INTO t VALUES (?)", protocol.Value{Type: protocol.Integer, Int: 2})
	require.NoError(t, d.Rollback())
	require.Zero(t, d.File().TxRefcount())
	require.False(t, d.InTx())

	var stmt, err = d.Prepare("SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	var _, rows, qerr = stmt.Query(nil)
	require.NoError(t, qerr)
	require.Equal(t, int64(1), rows[0][0].Int)

	require.NoError(t, d.Finalize(stmt))
	require.NoError(t, d.Close())
}

func TestCrossSessionExclusivity(t *testing.T) {
	var f = newFixture(t)
	var d1 = f.open(t)
	var d2 = f.open(t)

	// Both sessions share one replicated file state.
	require.Same(t, d1.File(), d2.File())

	require.NoError(t, d1.Begin())

	// The second session fails immediately, without blocking, and the
	// refcount is untouched.
	var err = d2.Begin()
	require.EqualError(t, err, "a transaction is open on another connection")
	require.Equal(t, protocol.CodeBusy, protocol.CodeOf(err))
	require.Equal(t, int64(1), d1.File().TxRefcount())
	require.False(t, d2.InTx())

	// Once released, the slot is free for the other session.
	require.NoError(t, d1.Commit())
	require.NoError(t, d2.Begin())
	require.NoError(t, d2.Rollback())

	require.NoError(t, d1.Close())
	require.NoError(t, d2.Close())
}

func TestCloseWhileOtherSessionHoldsTransaction(t *testing.T) {
	var f = newFixture(t)
	var d1 = f.open(t)
	var d2 = f.open(t)

	require.NoError(t, d1.Begin())

	// Closing a session without a transaction must not disturb the other
	// session's hold on the shared file.
	require.NoError(t, d2.Close())
	require.Equal(t, int64(1), d1.File().TxRefcount())

	require.NoError(t, d1.Commit())
	require.NoError(t, d1.Close())
	require.Zero(t, f.obs.Live(lifecycle.DB))
}

func TestCloseWithOpenTransactionRefused(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	require.NoError(t, d.Begin())

	var err = d.Close()
	require.Equal(t, protocol.CodeInternal, protocol.CodeOf(err))

	require.NoError(t, d.Rollback())
	require.NoError(t, d.Close())
	require.Zero(t, f.obs.Live(lifecycle.DB))
}

func TestCloseFinalizesStatements(t *testing.T) {
	var f = newFixture(t)
	var d = f.open(t)

	var _, err = d.Prepare("SELECT 1")
	require.NoError(t, err)
	_, err = d.Prepare("SELECT 2")
	require.NoError(t, err)
	require.Equal(t, 2, d.StmtCount())

	require.NoError(t, d.Close())
	require.Zero(t, f.obs.Live(lifecycle.Stmt))
	require.Zero(t, f.obs.Live(lifecycle.DB))
}

func TestOpenFailure(t *testing.T) {
	var f = newFixture(t)

	// A directory path cannot be opened as a database.
	var _, err = Open(t.TempDir(), OpenReadWrite, "wal-target", f.files, f.obs)
	require.Error(t, err)
	require.Equal(t, protocol.CodeEngine, protocol.CodeOf(err))
	require.Zero(t, f.obs.Live(lifecycle.DB))
}
