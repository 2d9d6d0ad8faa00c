package sync

import (
	"errors"
)

// A Context carries a cancellation signal and values across API boundaries inside a
// workflow. It mirrors the standard library's context, but cancellation is delivered
// through a deterministic Channel so workflow code observes it at suspension points
// only.
type Context interface {
	// Done returns a channel that is closed when work done on behalf of this context
	// should be canceled. Done may return nil if this context can never be canceled.
	Done() Channel[struct{}]

	// Err returns nil as long as Done is not closed and Canceled afterwards.
	Err() error

	// Value returns the value associated with this context for key, or nil.
	Value(key any) any
}

// Canceled is the error returned by Context.Err when the context is canceled.
//
//lint:ignore ST1012 for compat with "context" package
var Canceled = errors.New("context canceled")

type emptyCtx int

func (*emptyCtx) Done() Channel[struct{}] {
	return nil
}

func (*emptyCtx) Err() error {
	return nil
}

func (*emptyCtx) Value(key any) any {
	return nil
}

var background = new(emptyCtx)

// Background returns a non-nil, empty Context. It is never canceled and has no
// values.
func Background() Context {
	return background
}

// A CancelFunc tells an operation to abandon its work.
type CancelFunc func()

type canceler interface {
	cancel(err error)
}

type cancelCtx struct {
	Context

	done     Channel[struct{}]
	children []canceler
	err      error
}

// WithCancel returns a copy of parent with a new Done channel. The returned
// context's Done channel is closed when the returned cancel function is called or
// when the parent context's Done channel is closed, whichever happens first.
func WithCancel(parent Context) (Context, CancelFunc) {
	c := &cancelCtx{
		Context: parent,
		done:    NewChannel[struct{}](),
	}

	if parent.Err() != nil {
		// Parent already canceled
		c.cancel(parent.Err())
	} else {
		propagateCancel(parent, c)
	}

	return c, func() {
		c.cancel(Canceled)
	}
}

// NewDisconnectedContext returns a context that keeps the values of the given
// context but is not canceled when the given context is canceled.
func NewDisconnectedContext(ctx Context) (Context, CancelFunc) {
	c := &cancelCtx{
		Context: ctx,
		done:    NewChannel[struct{}](),
	}

	return c, func() {
		c.cancel(Canceled)
	}
}

func propagateCancel(parent Context, child canceler) {
	p, ok := parentCancelCtx(parent)
	if !ok {
		return
	}

	if p.err != nil {
		child.cancel(p.err)
		return
	}

	p.children = append(p.children, child)
}

func parentCancelCtx(parent Context) (*cancelCtx, bool) {
	for {
		switch c := parent.(type) {
		case *cancelCtx:
			return c, true
		case *valueCtx:
			parent = c.Context
		default:
			return nil, false
		}
	}
}

func (c *cancelCtx) Done() Channel[struct{}] {
	return c.done
}

func (c *cancelCtx) Err() error {
	return c.err
}

func (c *cancelCtx) cancel(err error) {
	if c.err != nil {
		// Already canceled
		return
	}

	c.err = err

	for _, child := range c.children {
		child.cancel(err)
	}
	c.children = nil

	c.done.Close()
}

type valueCtx struct {
	Context

	key, val any
}

// WithValue returns a copy of parent in which the value associated with key is val.
func WithValue(parent Context, key, val any) Context {
	if key == nil {
		panic("nil key")
	}

	return &valueCtx{parent, key, val}
}

func (c *valueCtx) Value(key any) any {
	if c.key == key {
		return c.val
	}

	return c.Context.Value(key)
}
