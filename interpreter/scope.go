package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/internal/ctxkeys"
)

// Environment is the interpreter-side view of an execution environment:
// a directory searched by load() in addition to the builtin modules.
type Environment struct {
	ID   string
	Path string
}

var (
	// ErrNameNotFound is returned when a binding is absent from the namespace.
	ErrNameNotFound = errors.New("name not found in namespace")

	// ErrNotCallable is returned when Call targets a non-callable binding.
	ErrNotCallable = errors.New("value is not callable")

	// ErrInvalidName is returned for names that are not identifiers.
	ErrInvalidName = errors.New("invalid identifier")
)

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	moduleRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.star)?$`)
)

// Scope is the persistent namespace of one session. Every method that reads
// or writes the namespace must be invoked while the runtime's GIL is held.
type Scope struct {
	id      string
	env     Environment
	rt      *Runtime
	globals starlark.StringDict
	modules map[string]*loadEntry
	created time.Time
	runs    int
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// ID returns the session identifier this scope belongs to.
func (s *Scope) ID() string { return s.id }

// Environment returns the environment the scope was created against.
func (s *Scope) Environment() Environment { return s.env }

// CreatedAt returns the creation time.
func (s *Scope) CreatedAt() time.Time { return s.created }

// Has reports whether name is bound. Caller must hold the GIL.
func (s *Scope) Has(name string) bool {
	_, ok := s.globals[name]
	return ok
}

// Keys returns the bound names in sorted order. Caller must hold the GIL.
func (s *Scope) Keys() []string {
	keys := s.globals.Keys()
	sort.Strings(keys)
	return keys
}

// Len returns the number of bindings. Caller must hold the GIL.
func (s *Scope) Len() int { return len(s.globals) }

// GetValue returns the raw interpreter value bound to name.
func (s *Scope) GetValue(name string) (starlark.Value, error) {
	if err := s.rt.gil.check(); err != nil {
		return nil, err
	}
	v, ok := s.globals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	return v, nil
}

// Get returns the value bound to name converted to a Go value.
func (s *Scope) Get(name string) (any, error) {
	v, err := s.GetValue(name)
	if err != nil {
		return nil, err
	}
	return FromValue(v), nil
}

// Set binds name to a Go value.
func (s *Scope) Set(name string, value any) error {
	if err := s.rt.gil.check(); err != nil {
		return err
	}
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	v, err := ToValue(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	s.globals[name] = v
	return nil
}

// Delete removes a binding. Deleting an absent name is a no-op.
func (s *Scope) Delete(name string) error {
	if err := s.rt.gil.check(); err != nil {
		return err
	}
	delete(s.globals, name)
	return nil
}

// Exec runs a block of statements in the namespace. Bindings made by the
// block persist, including those made before a runtime fault. The returned
// dict holds only the names this block bound.
//
// Text printed by the block goes to out as it is produced. Cancelling ctx
// interrupts the running block at the next evaluation step.
func (s *Scope) Exec(ctx context.Context, code string, out Output) (starlark.StringDict, error) {
	if err := s.rt.gil.check(); err != nil {
		return nil, err
	}

	s.runs++
	filename := fmt.Sprintf("<%s:%d>", s.id, s.runs)
	f, err := s.rt.fileOptions.Parse(filename, code, 0)
	if err != nil {
		return nil, err
	}

	predeclared := s.predeclared()
	for name, v := range s.carryOver(f) {
		predeclared[name] = v
	}
	prog, err := starlark.FileProgram(f, predeclared.Has)
	if err != nil {
		return nil, err
	}

	thread, release := s.newThread(ctx, out)
	defer release()

	defined, err := prog.Init(thread, predeclared)
	for name, v := range defined {
		s.globals[name] = v
	}
	return defined, err
}

// Eval evaluates a single expression against the namespace without binding
// anything.
func (s *Scope) Eval(ctx context.Context, expr string, out Output) (starlark.Value, error) {
	if err := s.rt.gil.check(); err != nil {
		return nil, err
	}

	s.runs++
	filename := fmt.Sprintf("<%s:%d>", s.id, s.runs)
	e, err := s.rt.fileOptions.ParseExpr(filename, expr, 0)
	if err != nil {
		return nil, err
	}

	thread, release := s.newThread(ctx, out)
	defer release()
	return starlark.EvalExprOptions(s.rt.fileOptions, thread, e, s.predeclared())
}

// Call invokes the callable bound to name with positional Go arguments.
func (s *Scope) Call(ctx context.Context, name string, args []any, out Output) (starlark.Value, error) {
	fn, err := s.callable(name)
	if err != nil {
		return nil, err
	}
	sargs := make(starlark.Tuple, 0, len(args))
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return nil, fmt.Errorf("call %s: argument %d: %w", name, i, err)
		}
		sargs = append(sargs, v)
	}

	thread, release := s.newThread(ctx, out)
	defer release()
	return starlark.Call(thread, fn, sargs, nil)
}

func (s *Scope) callable(name string) (starlark.Callable, error) {
	v, err := s.GetValue(name)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCallable, name, v.Type())
	}
	return fn, nil
}

func (s *Scope) predeclared() starlark.StringDict {
	env := make(starlark.StringDict, len(s.rt.builtins)+len(s.globals))
	for k, v := range s.rt.builtins {
		env[k] = v
	}
	for k, v := range s.globals {
		env[k] = v
	}
	return env
}

// newThread prepares an interpreter thread bound to ctx. The release func
// must be called once the thread is no longer used.
func (s *Scope) newThread(ctx context.Context, out Output) (*starlark.Thread, func()) {
	if out == nil {
		out = Discard
	}
	thread := &starlark.Thread{
		Name: s.id,
		Print: func(_ *starlark.Thread, msg string) {
			writeText(out, StreamStdout, msg)
		},
		Load: s.load,
	}
	thread.SetLocal(localContext, ctx)
	thread.SetLocal(localOutput, out)
	if s.rt.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(s.rt.opts.MaxSteps)
	}

	stop := context.AfterFunc(ctx, func() {
		reason := "execution cancelled"
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			reason = "execution timed out"
		}
		thread.Cancel(reason)
	})
	return thread, func() { stop() }
}

// load resolves load("name") against the environment directory. Loaded
// modules are cached per scope and frozen.
func (s *Scope) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if !moduleRe.MatchString(module) {
		return nil, fmt.Errorf("load %q: invalid module name", module)
	}
	if builtin, ok := s.rt.builtins[strings.TrimSuffix(module, ".star")]; ok {
		if m, ok := builtin.(starlark.HasAttrs); ok {
			return moduleDict(m), nil
		}
	}

	if e, ok := s.modules[module]; ok {
		if e == nil {
			return nil, fmt.Errorf("load %q: cycle in load graph", module)
		}
		return e.globals, e.err
	}
	if s.env.Path == "" {
		return nil, fmt.Errorf("load %q: environment %q has no module path", module, s.env.ID)
	}

	filename := module
	if !strings.HasSuffix(filename, ".star") {
		filename += ".star"
	}
	src, err := os.ReadFile(filepath.Join(s.env.Path, filename))
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", module, err)
	}

	s.modules[module] = nil
	child := &starlark.Thread{Name: thread.Name + "/" + module, Print: thread.Print, Load: s.load}
	child.SetLocal(localContext, thread.Local(localContext))
	child.SetLocal(localOutput, thread.Local(localOutput))
	stop := context.AfterFunc(threadContext(thread), func() { child.Cancel("execution cancelled") })
	globals, err := starlark.ExecFileOptions(s.rt.fileOptions, child, filename, src, s.rt.builtins)
	stop()
	s.modules[module] = &loadEntry{globals: globals, err: err}

	fields := []zap.Field{zap.String("session_id", s.id), zap.String("module", module), zap.Error(err)}
	if execID, ok := ctxkeys.ExecutionID(threadContext(thread)); ok {
		fields = append(fields, zap.String("execution_id", execID))
	}
	s.rt.logger.Debug("module loaded", fields...)
	return globals, err
}

func moduleDict(m starlark.HasAttrs) starlark.StringDict {
	d := make(starlark.StringDict)
	for _, name := range m.AttrNames() {
		if v, err := m.Attr(name); err == nil && v != nil {
			d[name] = v
		}
	}
	return d
}

// ValidName reports whether name can be bound in a namespace.
func ValidName(name string) bool {
	return identRe.MatchString(name)
}
