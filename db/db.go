// Package db implements the session layer between the request gateway and
// the embedded SQLite engine. A DB is one client's open binding to a
// replicated database file: it owns the engine connection, a registry of
// prepared statements, and the session's transaction bookkeeping against
// the file's shared transaction refcount.
package db

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"go.relite.dev/core/lifecycle"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/registry"
	"go.relite.dev/core/vfs"
)

// Open flags understood by the wire protocol, mirroring the engine's own
// open flags.
const (
	OpenReadOnly  uint64 = 0x1
	OpenReadWrite uint64 = 0x2
	OpenCreate    uint64 = 0x4
)

// DB is one session against a named, replicated database file.
type DB struct {
	name string

	conn  *sqlite3.SQLiteConn
	file  *vfs.File
	files *vfs.Registry
	stmts *registry.Registry[Stmt]
	inTx  bool

	obs lifecycle.Observer
}

// Open opens the database |name| under the replication target |target|,
// applying the fixed initialization sequence: 4 KiB pages, synchronous
// off, WAL journaling, foreign key enforcement, and registration of the
// file as WAL-replication leader under |target|. The open aborts on the
// first failing step, surfacing the engine's error message.
func Open(name string, flags uint64, target string, files *vfs.Registry, obs lifecycle.Observer) (*DB, error) {
	var conn, err = openConn(name, flags)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeEngine, Message: err.Error()}
	}

	var db = &DB{
		name:  name,
		conn:  conn,
		files: files,
		stmts: registry.New[Stmt](),
		obs:   obs,
	}

	for _, step := range []struct {
		sql, context string
	}{
		{"PRAGMA page_size=4096", "unable to set page size"},
		{"PRAGMA synchronous=OFF", "unable to switch off syncs"},
		{"PRAGMA journal_mode=WAL", "unable to set WAL mode"},
		{"PRAGMA foreign_keys=1", "unable to set foreign keys checks"},
	} {
		if err = db.exec(step.sql); err != nil {
			_ = conn.Close()
			return nil, protocol.WrapErr(protocol.CodeEngine, err, step.context)
		}
	}

	// Register the file as WAL-replication leader under the target. The
	// replication layer finds its matching extension by this name.
	db.file = files.Open(target, name)

	db.obs.Born(lifecycle.DB)
	return db, nil
}

func openConn(name string, flags uint64) (*sqlite3.SQLiteConn, error) {
	var mode string
	switch {
	case flags&OpenReadOnly != 0:
		mode = "ro"
	case flags&OpenCreate != 0:
		mode = "rwc"
	default:
		mode = "rw"
	}
	var dsn = fmt.Sprintf("file:%s?mode=%s", name, mode)

	var conn, err = (&sqlite3.SQLiteDriver{}).Open(dsn)
	if err != nil {
		return nil, err
	}
	return conn.(*sqlite3.SQLiteConn), nil
}

// Name returns the database file name.
func (db *DB) Name() string { return db.name }

// File returns the shared replicated file state.
func (db *DB) File() *vfs.File { return db.file }

// InTx returns whether the session holds an open transaction.
func (db *DB) InTx() bool { return db.inTx }

// StmtCount returns the number of registered prepared statements.
func (db *DB) StmtCount() int { return db.stmts.Len() }

// exec runs |sql| on the engine connection, returning the engine's error
// as-is. Callers wrap it into a protocol error at their boundary so that
// the engine message is surfaced verbatim.
func (db *DB) exec(sql string) error {
	var _, err = db.conn.Exec(sql, nil)
	return err
}

func engineErr(err error) error {
	return &protocol.Error{Code: protocol.CodeEngine, Message: err.Error()}
}

// Prepare compiles |sql| into a registered statement handle. The registry
// entry is added first and removed again if compilation fails, so a
// failed prepare never leaks an entry.
func (db *DB) Prepare(sql string) (*Stmt, error) {
	var stmt = &Stmt{sql: sql}
	stmt.id = db.stmts.Add(stmt)

	var ds, err = db.conn.Prepare(sql)
	if err != nil {
		db.stmts.Remove(stmt)
		return nil, &protocol.Error{Code: protocol.CodeEngine, Message: err.Error()}
	}
	stmt.ds = ds.(*sqlite3.SQLiteStmt)
	stmt.tail = sqlTail(sql)

	db.obs.Born(lifecycle.Stmt)
	return stmt, nil
}

// Stmt returns the statement registered under |id|.
func (db *DB) Stmt(id uint32) (*Stmt, error) {
	var stmt, ok = db.stmts.Get(id)
	if !ok {
		return nil, protocol.Errf(protocol.CodeNotFound, "no stmt with id %d", id)
	}
	return stmt, nil
}

// Finalize removes |stmt| from the registry and finalizes it. The handle
// is removed even when the engine reports a finalization error, so a dead
// handle is never left registered.
func (db *DB) Finalize(stmt *Stmt) error {
	if _, ok := db.stmts.Remove(stmt); !ok {
		return protocol.Errf(protocol.CodeNotFound, "stmt is not registered")
	}
	db.obs.Died(lifecycle.Stmt)

	if stmt.ds == nil {
		return nil
	}
	var err = stmt.ds.Close()
	stmt.ds = nil
	if err != nil {
		return &protocol.Error{Code: protocol.CodeEngine, Message: err.Error()}
	}
	return nil
}

// Begin opens a transaction. It fails with AlreadyInTx if this session
// already holds one, and with Busy, immediately and without blocking, if
// another session holds the transaction slot of the shared file.
func (db *DB) Begin() error {
	if db.inTx {
		return protocol.Errf(protocol.CodeAlreadyInTx, "a transaction is already open")
	}
	if !db.file.TryAcquireTx() {
		return protocol.Errf(protocol.CodeBusy,
			"a transaction is open on another connection")
	}

	if err := db.exec("BEGIN"); err != nil {
		db.file.ReleaseTx()
		return engineErr(err)
	}
	db.inTx = true

	return db.checkTxState(true)
}

// Commit commits the open transaction. A busy report from the engine here
// breaks the single-writer guarantee and surfaces as an internal error
// rather than being retried.
func (db *DB) Commit() error {
	if !db.inTx {
		return protocol.Errf(protocol.CodeNoTx, "no transaction is open")
	}

	if err := db.exec("COMMIT"); err != nil {
		if isBusy(err) {
			return protocol.WrapErr(protocol.CodeInternal, err,
				"commit reported busy with a single writer")
		}
		return engineErr(err)
	}
	db.inTx = false
	db.file.ReleaseTx()

	return db.checkTxState(false)
}

// Rollback rolls back the open transaction. The engine's own transaction
// state decides the bookkeeping: if the engine left the transaction, the
// session flag and refcount are released even when ROLLBACK itself
// reported an error; if the engine somehow remains in a transaction, the
// bookkeeping is kept and the disagreement surfaces as an internal error.
func (db *DB) Rollback() error {
	if !db.inTx {
		return protocol.Errf(protocol.CodeNoTx, "no transaction is open")
	}

	var execErr error
	if err := db.exec("ROLLBACK"); err != nil {
		execErr = engineErr(err)
	}

	if !db.conn.AutoCommit() {
		return protocol.Errf(protocol.CodeInternal,
			"engine still holds a transaction after rollback")
	}
	db.inTx = false
	db.file.ReleaseTx()

	return execErr
}

// checkTxState verifies that the session flag agrees with the engine's
// autocommit state. Disagreement is a logic defect, not a user error.
func (db *DB) checkTxState(wantTx bool) error {
	if db.conn.AutoCommit() == !wantTx {
		return nil
	}
	return protocol.Errf(protocol.CodeInternal,
		"session transaction flag (%v) disagrees with engine state", db.inTx)
}

// Close finalizes all registered statements and closes the engine
// connection. Closing with an open transaction is a caller bug: callers
// roll back first, and Close refuses rather than leave the shared file's
// refcount dangling.
func (db *DB) Close() error {
	if db.inTx {
		return protocol.Errf(protocol.CodeInternal,
			"session closed with an open transaction")
	}

	db.stmts.Each(func(id uint32, stmt *Stmt) {
		_ = db.Finalize(stmt)
	})

	var err = db.files.Release(db.file)
	if cerr := db.conn.Close(); err == nil && cerr != nil {
		err = cerr
	}

	db.obs.Died(lifecycle.DB)
	return err
}

func isBusy(err error) bool {
	if e, ok := err.(sqlite3.Error); ok {
		return e.Code == sqlite3.ErrBusy
	}
	return false
}
