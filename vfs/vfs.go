// Package vfs tracks the shared state of replicated database files. The
// replication VFS proper lives outside this process core; what sessions
// need from it is the per-file transaction refcount which gates both
// transaction exclusivity across connections and safe closure of the
// file. Files are registered under the replication target name they were
// opened with, so every session opening the same database through the
// same target observes the same state.
package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// File is the shared state of one replicated database file.
type File struct {
	target string
	name   string

	txRefcount int64 // Open transactions holding the file.
	opens      int64 // Sessions holding the file.
}

// Target returns the replication target the file is registered under.
func (f *File) Target() string { return f.target }

// Name returns the database file name.
func (f *File) Name() string { return f.name }

// TxRefcount returns the current transaction refcount.
func (f *File) TxRefcount() int64 { return atomic.LoadInt64(&f.txRefcount) }

// TryAcquireTx attempts to acquire the file's single transaction slot,
// incrementing the refcount from zero. It fails immediately, without
// blocking, if another session already holds an open transaction.
func (f *File) TryAcquireTx() bool {
	return atomic.CompareAndSwapInt64(&f.txRefcount, 0, 1)
}

// ReleaseTx decrements the transaction refcount. The count never goes
// negative: releasing without a matching acquire is a caller bug.
func (f *File) ReleaseTx() {
	if atomic.AddInt64(&f.txRefcount, -1) < 0 {
		panic("transaction refcount went negative")
	}
}

// Registry is the process-wide table of replicated file states.
type Registry struct {
	mu    sync.Mutex
	files map[fileKey]*File
}

type fileKey struct{ target, name string }

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[fileKey]*File)}
}

// Open returns the File for |name| under replication target |target|,
// creating it on first open, and retains it on behalf of the caller.
func (r *Registry) Open(target, name string) *File {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key = fileKey{target: target, name: name}
	var f, ok = r.files[key]
	if !ok {
		f = &File{target: target, name: name}
		r.files[key] = f
	}
	atomic.AddInt64(&f.opens, 1)
	return f
}

// Release drops one retention of |f|, forgetting the file state once no
// session holds it. The final retention cannot be released while the
// transaction refcount is non-zero: the open transaction still pins
// replication state. Releasing a non-final retention is always allowed,
// even while another session's transaction is open.
func (r *Registry) Release(f *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt64(&f.opens) == 1 && f.TxRefcount() != 0 {
		return errors.Errorf(
			"replicated file %s has %d open transactions", f.name, f.TxRefcount())
	}
	if atomic.AddInt64(&f.opens, -1) == 0 {
		delete(r.files, fileKey{target: f.target, name: f.name})
	}
	return nil
}
