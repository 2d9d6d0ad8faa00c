package sync

// Scheduler runs the coroutines of a single workflow instance. Coroutines execute
// one at a time, in creation order, until all of them are blocked or finished. That
// order is part of the determinism contract: replaying a history must schedule
// coroutines identically.
type Scheduler struct {
	coroutines []Coroutine
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		coroutines: make([]Coroutine, 0),
	}
}

// NewCoroutine starts a new coroutine and tracks it in this scheduler
func (s *Scheduler) NewCoroutine(ctx Context, fn func(Context) error) {
	c := NewCoroutine(ctx, fn)
	s.coroutines = append(s.coroutines, c)
	c.SetCoroutineCreator(s)
}

// Execute executes all coroutines until they are all blocked
func (s *Scheduler) Execute() error {
	allBlocked := false
	for !allBlocked {
		allBlocked = true
		for i := 0; i < len(s.coroutines); i++ {
			c := s.coroutines[i]

			c.Execute()

			if c.Finished() {
				// Coroutine finished, this counts as progress
				allBlocked = false

				s.coroutines[i] = nil
				s.coroutines = append(s.coroutines[:i], s.coroutines[i+1:]...)
				i--

				if err := c.Error(); err != nil {
					// Coroutine encountered an error, abort execution
					return err
				}
			} else {
				// Stay in the loop if any coroutine made progress while blocked
				allBlocked = allBlocked && !c.Progress()
			}
		}
	}

	return nil
}

func (s *Scheduler) RunningCoroutines() int {
	return len(s.coroutines)
}

func (s *Scheduler) Exit() {
	for _, c := range s.coroutines {
		c.Exit()
	}
}
