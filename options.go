package fiber

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// DefaultStackSize is the stack budget recorded for fibers spawned
	// with a zero stack size.
	DefaultStackSize = 128 << 10

	// MaxStackSize is the largest stack a fiber may request. It matches
	// the Go runtime's default maximum goroutine stack on 64-bit
	// platforms.
	MaxStackSize = 1 << 30

	// DefaultMaxEvents is the number of readiness events collected per
	// engine wait.
	DefaultMaxEvents = 256
)

type options struct {
	ctx       context.Context
	logger    *slog.Logger
	stackSize int
	maxEvents int
}

// Option configures a Scheduler.
type Option interface {
	apply(*options) error
}

type optionFunc func(*options) error

func (fn optionFunc) apply(opts *options) error {
	return fn(opts)
}

// WithLogger sets the structured logger used for scheduler lifecycle
// events. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(opts *options) error {
		if logger != nil {
			opts.logger = logger
		}
		return nil
	})
}

// WithContext sets the parent of every fiber's context. Values stored
// in it are visible to all fibers; cancelling it does not stop the
// scheduler.
func WithContext(ctx context.Context) Option {
	return optionFunc(func(opts *options) error {
		if ctx == nil {
			return fmt.Errorf("fiber: nil context")
		}
		opts.ctx = ctx
		return nil
	})
}

// WithStackSize sets the stack size used when Spawn is given zero.
func WithStackSize(size int) Option {
	return optionFunc(func(opts *options) error {
		if size <= 0 || size > MaxStackSize {
			return fmt.Errorf("%w: %d", ErrStackSize, size)
		}
		opts.stackSize = size
		return nil
	})
}

// WithMaxEvents sets how many readiness events a single engine wait
// may collect.
func WithMaxEvents(n int) Option {
	return optionFunc(func(opts *options) error {
		if n <= 0 {
			return fmt.Errorf("fiber: max events must be positive, got %d", n)
		}
		opts.maxEvents = n
		return nil
	})
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		ctx:       context.Background(),
		logger:    slog.Default(),
		stackSize: DefaultStackSize,
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
