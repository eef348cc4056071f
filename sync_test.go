package fiber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	n := 0
	s.Go(func(ctx context.Context) {
		task := MustFromContext(ctx)

		var mux Mutex
		critical := 0
		r.NoError(mux.Lock(task))

		for _, name := range []string{"ONE", "TWO", "THREE"} {
			task.Go(func(ctx context.Context) {
				task := MustFromContext(ctx)
				task.Logf("GO %s", name)

				r.NoError(mux.Lock(task))
				defer mux.Unlock()

				n++
				critical++
				r.Equal(1, critical)
				defer func() { critical-- }()

				r.NoError(task.Sleep(time.Millisecond))
				task.Logf("MUTEX %s", name)
			})
		}

		r.NoError(task.Yield())
		r.Equal(3, mux.WaitCount())

		mux.Unlock()
		n++
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(4, n)
}

func TestMutexUnlockUnlocked(t *testing.T) {
	var mux Mutex
	require.Panics(t, mux.Unlock)
}

func TestMutexAbandoned(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	var mux Mutex
	s.Go(func(ctx context.Context) {
		r.NoError(mux.Lock(MustFromContext(ctx)))
	})
	waiter := s.Go(func(ctx context.Context) {
		_ = mux.Lock(MustFromContext(ctx))
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(StatusSuspended, waiter.Status())
	r.False(s.Ready(waiter))
	r.Zero(s.IOCount())
}

func TestWaitGroup(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	expect, n := 100, 0
	s.Go(func(ctx context.Context) {
		task := MustFromContext(ctx)
		var wg WaitGroup

		for i := 0; i < expect-1; i++ {
			wg.Add(1)
			task.Go(func(ctx context.Context) {
				defer wg.Done()
				r.NoError(MustFromContext(ctx).Sleep(time.Duration(i%5) * time.Millisecond))
				n++
			})
		}

		r.NoError(wg.Wait(task))
		r.Equal(expect-1, n)
		n++
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(expect, n)
}

func TestWaitGroupNegative(t *testing.T) {
	var wg WaitGroup
	require.Panics(t, wg.Done)
}

func TestSemaphore(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	sema := NewSemaphore(2)
	inside, peak := 0, 0
	for range 10 {
		s.Go(func(ctx context.Context) {
			task := MustFromContext(ctx)
			r.NoError(sema.Acquire(task))
			defer sema.Release()

			inside++
			peak = max(peak, inside)
			r.NoError(task.Sleep(time.Millisecond))
			inside--
		})
	}

	r.NoError(s.Run(context.Background()))
	r.Equal(2, peak)
	r.Zero(sema.WaitCount())
	r.True(sema.TryAcquire())
	r.True(sema.TryAcquire())
	r.False(sema.TryAcquire())
}

func TestGroup(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	x, y, z := 0, 0, 0
	s.Go(func(ctx context.Context) {
		task := MustFromContext(ctx)
		x++
		for i := 0; i < 10; i++ {
			group := task.Group()
			for j := 0; j < 10; j++ {
				y++
				c := y
				group.Go(func(ctx context.Context) error {
					task, ok := FromContext(ctx)
					r.True(ok)
					r.NoError(task.Sleep(time.Duration(c%3) * time.Millisecond))

					groupN := task.Group()
					r.NoError(groupN.Wait(task))

					for k := 0; k < 10; k++ {
						groupN = task.Group()
						groupN.Go(func(ctx context.Context) error {
							z++
							return MustFromContext(ctx).Yield()
						})
						r.NoError(groupN.Wait(task))
					}
					return nil
				})
			}
			r.NoError(group.Wait(task))
		}
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(1, x)
	r.Equal(100, y)
	r.Equal(1000, z)
}

func TestGroupError(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	boom := errors.New("boom")
	var cancelled int
	s.Go(func(ctx context.Context) {
		task := MustFromContext(ctx)
		group := task.Group()
		for i := range 5 {
			group.Go(func(ctx context.Context) error {
				if i == 2 {
					return boom
				}
				r.NoError(MustFromContext(ctx).Sleep(5 * time.Millisecond))
				if errors.Is(context.Cause(ctx), boom) {
					cancelled++
				}
				return nil
			})
		}
		r.ErrorIs(group.Wait(task), boom)
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(4, cancelled)
}

func TestSingleFlight(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	n := 0
	s.Go(func(ctx context.Context) {
		task := MustFromContext(ctx)
		for i := 0; i < 100; i++ {
			task.Go(func(ctx context.Context) {
				task := MustFromContext(ctx)
				v, err, shared := task.Do("test-key", func() (any, error) {
					defer func() { n++ }()
					r.NoError(task.Sleep(time.Millisecond))
					return strconv.Itoa(i), nil
				})
				r.Equal("0", v)
				r.NoError(err)
				r.True(shared)
			})
		}
		n++
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(2, n)
}

func TestSingleFlightError(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	calls := 0
	for i := range 3 {
		s.Go(func(ctx context.Context) {
			_, err, _ := MustFromContext(ctx).Do(fmt.Sprintf("key-%d", i%2), func() (any, error) {
				calls++
				r.NoError(MustFromContext(ctx).Yield())
				return nil, errors.New("failed")
			})
			r.EqualError(err, "failed")
		})
	}

	r.NoError(s.Run(context.Background()))
	r.Equal(2, calls)
}
