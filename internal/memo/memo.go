package memo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
)

// ErrCachedDType is returned when a cached output has a different dtype
// than the wrapped function returns. It means two functions were
// registered under the same name.
var ErrCachedDType = errors.New("memo: cached output dtype mismatch")

// Func is a memoized array function. Create with Wrap.
type Func[T, R nd.Number] struct {
	name    string
	fn      func(*nd.Array[T]) (*nd.Array[R], error)
	backend Backend
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Func.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for cache hits and misses (debug level).
// Defaults to a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Wrap memoizes fn under name. name identifies the function in the
// backend; different functions sharing a backend need different names.
func Wrap[T, R nd.Number](name string, fn func(*nd.Array[T]) (*nd.Array[R], error), backend Backend, opts ...Option) *Func[T, R] {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return &Func[T, R]{
		name:    name,
		fn:      fn,
		backend: backend,
		logger:  o.logger,
	}
}

// Name returns the name the function is cached under.
func (f *Func[T, R]) Name() string {
	return f.name
}

// Call returns fn(a), from the backend when an equal input was seen before.
// Concurrent misses on the same input may each compute; the backend keeps
// the first saved result.
func (f *Func[T, R]) Call(ctx context.Context, a *nd.Array[T]) (*nd.Array[R], error) {
	in, err := digest.Of(a)
	if err != nil {
		return nil, fmt.Errorf("memo %s: fingerprint input: %w", f.name, err)
	}

	cached, ok, err := f.backend.Lookup(ctx, f.name, in)
	if err != nil {
		return nil, fmt.Errorf("memo %s: lookup: %w", f.name, err)
	}
	if ok {
		out, isR := cached.(*nd.Array[R])
		if !isR {
			return nil, fmt.Errorf("%w: %s has %s, want %s", ErrCachedDType, f.name, cached.DType(), nd.DTypeOf[R]())
		}
		f.hits.Add(1)
		f.logger.Debug("memo hit",
			"func", f.name,
			"input", in.Short(),
		)
		return out, nil
	}

	f.misses.Add(1)
	out, err := f.fn(a)
	if err != nil {
		return nil, err
	}

	if err := f.backend.Save(ctx, f.name, in, out); err != nil {
		return nil, fmt.Errorf("memo %s: save: %w", f.name, err)
	}
	f.logger.Debug("memo miss",
		"func", f.name,
		"input", in.Short(),
		"shape", out.Shape(),
	)
	return out, nil
}

// Stats reports cache activity for a Func.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats returns the hit and miss counts since Wrap.
func (f *Func[T, R]) Stats() Stats {
	return Stats{Hits: f.hits.Load(), Misses: f.misses.Load()}
}
