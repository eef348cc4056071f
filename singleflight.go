package fiber

// singleFlightCall is an in-flight or completed call shared by every
// caller of the same key.
type singleFlightCall struct {
	wg   WaitGroup // Callers waiting on this call
	val  any       // Result value
	err  error     // Result error
	dups int       // Number of callers that joined
}

// singleFlight collapses concurrent calls with the same key into one
// execution. It belongs to a single scheduler.
type singleFlight struct {
	m map[any]*singleFlightCall
}

func (g *singleFlight) do(f *Fiber, key any, fn func() (any, error)) (v any, err error, shared bool) {
	if g.m == nil {
		g.m = make(map[any]*singleFlightCall)
	}

	if c, ok := g.m[key]; ok {
		c.dups++
		if err := c.wg.Wait(f); err != nil {
			return nil, err, false
		}
		return c.val, c.err, true
	}

	c := new(singleFlightCall)
	c.wg.Add(1)
	g.m[key] = c

	g.doCall(c, key, fn)
	return c.val, c.err, c.dups > 0
}

func (g *singleFlight) doCall(c *singleFlightCall, key any, fn func() (any, error)) {
	defer func() {
		c.wg.Done()
		if g.m[key] == c {
			delete(g.m, key)
		}
	}()

	c.val, c.err = fn()
}
