package interpreter

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
)

// Iterator walks the sequence produced by a namespace entry point one
// element at a time. Next and Close must be called while holding the GIL,
// which lets the caller release the lock between elements.
type Iterator struct {
	scope   *Scope
	iter    starlark.Iterator
	release func()
	done    bool
}

// Iterate calls the zero-argument entry point bound to name and prepares to
// walk its result, which must be iterable.
func (s *Scope) Iterate(ctx context.Context, name string, out Output) (*Iterator, error) {
	fn, err := s.callable(name)
	if err != nil {
		return nil, err
	}

	thread, release := s.newThread(ctx, out)
	v, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		release()
		return nil, err
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		release()
		return nil, fmt.Errorf("%s() returned %s, which is not iterable", name, v.Type())
	}
	return &Iterator{scope: s, iter: iterable.Iterate(), release: release}, nil
}

// Next returns the next element converted to a Go value. ok is false once
// the sequence is exhausted.
func (it *Iterator) Next() (value any, ok bool, err error) {
	if err := it.scope.rt.gil.check(); err != nil {
		return nil, false, err
	}
	if it.done {
		return nil, false, nil
	}
	var v starlark.Value
	if !it.iter.Next(&v) {
		it.finish()
		return nil, false, nil
	}
	return FromValue(v), true, nil
}

// Close releases the iteration. Safe to call more than once.
func (it *Iterator) Close() {
	if !it.done {
		it.finish()
	}
}

func (it *Iterator) finish() {
	it.done = true
	it.iter.Done()
	it.release()
}
