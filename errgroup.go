package fiber

import "context"

// Group runs fibers and collects the first error they return. The
// group's context is cancelled with that error.
type Group struct {
	f      *Fiber                  // Fiber that created the group
	ctx    context.Context         // Context shared by the group's fibers
	cancel context.CancelCauseFunc // Cancels ctx with the first error
	wg     WaitGroup               // Tracks the group's fibers
	err    error                   // First error returned
}

func newGroup(f *Fiber) *Group {
	ctx, cancel := context.WithCancelCause(f.ctx)
	return &Group{f: f, ctx: ctx, cancel: cancel}
}

// Go spawns fn on the group's scheduler with the group's context.
func (g *Group) Go(fn func(context.Context) error) {
	g.wg.Add(1)
	_, err := g.f.sched.spawn(g.ctx, func(ctx context.Context, _ *Fiber) {
		defer g.wg.Done()
		if err := fn(ctx); err != nil && g.err == nil {
			g.err = err
			g.cancel(err)
		}
	}, 0)
	if err != nil {
		g.wg.Done()
		if g.err == nil {
			g.err = err
			g.cancel(err)
		}
	}
}

// Wait suspends f until every fiber started with Go has returned, then
// returns the first error any of them returned.
func (g *Group) Wait(f *Fiber) error {
	if err := g.wg.Wait(f); err != nil {
		return err
	}
	g.cancel(g.err)
	return g.err
}
