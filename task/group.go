// Package task provides a Group for running the long-lived components of
// a server (listener mux, HTTP endpoint, protocol accept loop) as a unit:
// all are started together, and the first to fail cancels the rest.
package task

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group is a set of tasks executed concurrently and blocked on
// collectively. Tasks should be preemptable and monitor the Group
// Context. Group is not itself thread-safe.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	tasks   []task
	eg      *errgroup.Group
	started bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group rooted at |ctx|. The Group Context is
// cancelled by the first task returning a non-nil error, by Cancel, or by
// cancellation of |ctx| itself.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context returns the Group Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue a task for execution with the Group. Its |desc| prefixes any
// error it returns. Queue panics if called after GoRun.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// GoRun all queued tasks. GoRun may be called only once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for _, t := range g.tasks {
		t := t
		g.eg.Go(func() error { return errors.WithMessage(t.fn(), t.desc) })
	}
}

// Wait for all tasks, returning the first non-nil error encountered.
// Wait panics unless GoRun was called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	return g.eg.Wait()
}
