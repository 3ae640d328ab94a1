// Package lifecycle instruments the number of live object instances per
// category, to detect leaks of connections, sessions and statements. It
// has no behavioral effect. The observer is injected rather than global
// so that tests can count in isolation and run in parallel.
package lifecycle

import (
	"sync/atomic"

	"go.relite.dev/core/metrics"
)

// Category of instrumented instances.
type Category string

const (
	Conn Category = "conn"
	DB   Category = "db"
	Stmt Category = "stmt"
)

// Observer is notified of instance construction and destruction.
type Observer interface {
	Born(c Category)
	Died(c Category)
}

// Prom is an Observer publishing live-instance counts to the
// metrics.LiveInstances gauge.
type Prom struct{}

func (Prom) Born(c Category) { metrics.LiveInstances.WithLabelValues(string(c)).Inc() }
func (Prom) Died(c Category) { metrics.LiveInstances.WithLabelValues(string(c)).Dec() }

// Counts is an in-memory Observer for tests, tracking the live count per
// category so a test can assert everything it created was torn down.
type Counts struct {
	conn, db, stmt int64
}

func (o *Counts) Born(c Category) { atomic.AddInt64(o.slot(c), 1) }
func (o *Counts) Died(c Category) {
	if atomic.AddInt64(o.slot(c), -1) < 0 {
		panic("lifecycle count went negative: " + string(c))
	}
}

// Live returns the live count of |c|.
func (o *Counts) Live(c Category) int64 { return atomic.LoadInt64(o.slot(c)) }

func (o *Counts) slot(c Category) *int64 {
	switch c {
	case Conn:
		return &o.conn
	case DB:
		return &o.db
	case Stmt:
		return &o.stmt
	}
	panic("unknown lifecycle category: " + string(c))
}
