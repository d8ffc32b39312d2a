package interpreter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// thread-local keys
const (
	localContext = "pyhost.context"
	localOutput  = "pyhost.output"
)

// maxSleep bounds a single sleep() call.
const maxSleep = 10 * time.Minute

// baseBuiltins returns the names predeclared in every namespace in addition
// to the language universe.
func baseBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"json":        json.Module,
		"math":        starmath.Module,
		"time":        startime.Module,
		"should_stop": starlark.NewBuiltin("should_stop", shouldStop),
		"sleep":       starlark.NewBuiltin("sleep", sleep),
		"eprint":      starlark.NewBuiltin("eprint", eprint),
	}
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(localContext).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

func threadOutput(thread *starlark.Thread) Output {
	if out, ok := thread.Local(localOutput).(Output); ok && out != nil {
		return out
	}
	return Discard
}

// should_stop() reports whether the current invocation has been asked to stop.
func shouldStop(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(threadContext(thread).Err() != nil), nil
}

// sleep(seconds) blocks but wakes up as soon as the invocation is stopped.
func sleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seconds starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seconds); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(seconds)
	if !ok {
		return nil, fmt.Errorf("%s: want int or float, got %s", b.Name(), seconds.Type())
	}
	if f < 0 {
		return nil, fmt.Errorf("%s: negative duration", b.Name())
	}
	d := time.Duration(f * float64(time.Second))
	if d > maxSleep {
		d = maxSleep
	}

	ctx := threadContext(thread)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s interrupted: %w", b.Name(), context.Cause(ctx))
	}
}

// eprint(*args, sep=" ") writes to the redirected error stream.
func eprint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			parts[i] = s
		} else {
			parts[i] = a.String()
		}
	}
	writeText(threadOutput(thread), StreamStderr, strings.Join(parts, sep))
	return starlark.None, nil
}
