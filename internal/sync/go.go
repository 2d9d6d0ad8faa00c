package sync

// Go spawns a new coroutine in the scheduler of the calling coroutine. The spawned
// coroutine is part of the same workflow instance and scheduled deterministically.
func Go(ctx Context, f func(ctx Context)) {
	cs := getCoState(ctx)

	if cs.creator == nil {
		panic("coroutine must be started from within a scheduler")
	}

	cs.creator.NewCoroutine(ctx, func(ctx Context) error {
		f(ctx)

		return nil
	})
}
