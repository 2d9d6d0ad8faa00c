package sync

// Channel is a deterministic, coroutine-aware channel. Blocking operations suspend
// the calling coroutine instead of the goroutine.
type Channel[T any] interface {
	// Send delivers v, suspending the calling coroutine until a receiver or buffer
	// capacity is available
	Send(ctx Context, v T)

	// SendNonBlocking delivers v if a receiver or buffer capacity is available
	SendNonBlocking(v T) (ok bool)

	// Receive returns the next value, suspending the calling coroutine until one is
	// available. ok is false once the channel is closed and drained.
	Receive(ctx Context) (v T, ok bool)

	// ReceiveNonBlocking returns the next value if one is available
	ReceiveNonBlocking() (v T, ok bool)

	// Close closes the channel. Sending to a closed channel panics.
	Close()
}

// ChannelInternal exposes callback registration on a channel. It is used to react
// to context cancellation without blocking a coroutine on a receive.
type ChannelInternal[T any] interface {
	// AddReceiveCallback registers cb to be invoked when a value is delivered or
	// the channel is closed
	AddReceiveCallback(cb func(v T, ok bool))

	// ReceiveNonBlocking returns the next value if one is available, without
	// blocking the coroutine
	ReceiveNonBlocking() (v T, ok bool)
}

func NewChannel[T any]() Channel[T] {
	return &channel[T]{}
}

func NewBufferedChannel[T any](size int) Channel[T] {
	return &channel[T]{
		buf:  make([]T, 0, size),
		size: size,
	}
}

type channel[T any] struct {
	buf       []T
	receivers []func(T, bool)
	senders   []func() T
	closed    bool
	size      int
}

func (c *channel[T]) Close() {
	c.closed = true

	// Wake up all blocked receivers with the zero value
	for len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]

		var zero T
		r(zero, false)
	}
}

func (c *channel[T]) Send(ctx Context, v T) {
	cr := getCoState(ctx)

	addedSender := false
	sentValue := false

	for {
		if c.trySend(v) {
			cr.MadeProgress()
			return
		}

		if !addedSender {
			addedSender = true

			c.senders = append(c.senders, func() T {
				sentValue = true
				return v
			})
		}

		cr.Yield()

		if sentValue {
			cr.MadeProgress()
			return
		}
	}
}

func (c *channel[T]) SendNonBlocking(v T) bool {
	return c.trySend(v)
}

func (c *channel[T]) Receive(ctx Context) (T, bool) {
	cr := getCoState(ctx)

	var received T
	receivedOk := false
	addedListener := false

	for {
		if v, ok, any := c.tryReceive(); any {
			cr.MadeProgress()
			return v, ok
		}

		if !addedListener {
			addedListener = true

			c.receivers = append(c.receivers, func(v T, ok bool) {
				received = v
				receivedOk = ok
			})
		}

		cr.Yield()

		// A sender or Close delivered a value via the callback
		if receivedOk || c.closed {
			cr.MadeProgress()
			return received, receivedOk
		}
	}
}

func (c *channel[T]) AddReceiveCallback(cb func(v T, ok bool)) {
	if c.closed {
		var zero T
		cb(zero, false)
		return
	}

	c.receivers = append(c.receivers, cb)
}

func (c *channel[T]) ReceiveNonBlocking() (T, bool) {
	v, ok, any := c.tryReceive()
	if !any {
		var zero T
		return zero, false
	}

	return v, ok
}

func (c *channel[T]) hasValue() bool {
	return len(c.buf) > 0
}

func (c *channel[T]) hasCapacity() bool {
	return len(c.buf) < c.size
}

func (c *channel[T]) trySend(v T) bool {
	if c.closed {
		panic("channel closed")
	}

	// Unblock the first waiting receiver with the value
	if len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers[0] = nil
		c.receivers = c.receivers[1:]
		r(v, true)
		return true
	}

	if c.hasCapacity() {
		c.buf = append(c.buf, v)
		return true
	}

	return false
}

// tryReceive returns (value, open, delivered). delivered is false when neither a
// buffered value, a blocked sender, nor a closed channel could produce a result.
func (c *channel[T]) tryReceive() (T, bool, bool) {
	if c.hasValue() {
		v := c.buf[0]
		c.buf = c.buf[1:]
		return v, true, true
	}

	if len(c.senders) > 0 {
		s := c.senders[0]
		c.senders[0] = nil
		c.senders = c.senders[1:]
		return s(), true, true
	}

	if c.closed {
		var zero T
		return zero, false, true
	}

	var zero T
	return zero, false, false
}
