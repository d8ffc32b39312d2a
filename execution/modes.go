package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/progress"
	"github.com/BaSui01/pyhost/types"
)

// ExecuteCode runs a block of statements in the session's namespace,
// streaming output to opts.Sink as it is produced. Result.Value holds the
// result binding when the block assigned it.
func (c *Coordinator) ExecuteCode(ctx context.Context, sessionID, code string, opts ExecOptions) (*Result, error) {
	return c.executeCode(ctx, ModeCode, sessionID, code, opts)
}

func (c *Coordinator) executeCode(ctx context.Context, mode Mode, sessionID, code string, opts ExecOptions) (*Result, error) {
	return c.execute(ctx, request{
		mode:      mode,
		sessionID: sessionID,
		code:      code,
		timeout:   opts.Timeout,
		sink:      opts.Sink,
		stream:    true,
		validate:  requireCode(code, "code"),
		run:       c.execBlock(code),
	})
}

// ExecuteCommand evaluates expression, binds it to the result binding and
// returns its value. Failed executions return nil; the error is non-nil
// only for invalid input, a busy session or a host fault.
func (c *Coordinator) ExecuteCommand(ctx context.Context, sessionID, expression string) (any, error) {
	res, err := c.EvaluateCommand(ctx, sessionID, expression, ExecOptions{})
	if err != nil || !res.Success {
		return nil, err
	}
	return res.Value, nil
}

// EvaluateCommand is ExecuteCommand returning the full result.
func (c *Coordinator) EvaluateCommand(ctx context.Context, sessionID, expression string, opts ExecOptions) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.Limits().CommandTimeout
	}
	code := ResultBinding + " = (\n" + expression + "\n)"
	return c.execute(ctx, request{
		mode:      ModeCommand,
		sessionID: sessionID,
		code:      code,
		timeout:   timeout,
		sink:      opts.Sink,
		stream:    true,
		validate:  requireCode(expression, "expression"),
		run:       c.execBlock(code),
	})
}

// ExecuteWithVariables injects vars into the namespace, runs code and reads
// the result binding back. Output is collected and reported once instead of
// streamed.
func (c *Coordinator) ExecuteWithVariables(ctx context.Context, sessionID, code string, vars map[string]any) (*Result, error) {
	return c.ExecuteWithVariablesOptions(ctx, sessionID, code, vars, ExecOptions{})
}

// ExecuteWithVariablesOptions is ExecuteWithVariables with a timeout and sink.
func (c *Coordinator) ExecuteWithVariablesOptions(ctx context.Context, sessionID, code string, vars map[string]any, opts ExecOptions) (*Result, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]starlark.Value, len(names))
	validate := func() error {
		if err := requireCode(code, "code")(); err != nil {
			return err
		}
		for i, name := range names {
			if !interpreter.ValidName(name) {
				return types.NewInvalidRequestError(fmt.Sprintf("variable name %q is not an identifier", name))
			}
			v, err := interpreter.ToValue(vars[name])
			if err != nil {
				return types.NewInvalidRequestError(fmt.Sprintf("variable %s: %v", name, err))
			}
			values[i] = v
		}
		return nil
	}

	return c.execute(ctx, request{
		mode:      ModeVariables,
		sessionID: sessionID,
		code:      code,
		timeout:   opts.Timeout,
		sink:      opts.Sink,
		validate:  validate,
		run: func(ctx context.Context, scope *interpreter.Scope, out interpreter.Output) (any, error) {
			var value any
			err := c.gil().Do(ctx, func() error {
				injected := false
				for i, name := range names {
					if err := scope.Set(name, values[i]); err != nil {
						return err
					}
					injected = injected || name == ResultBinding
				}
				defined, err := scope.Exec(ctx, code, out)
				if v, ok := defined[ResultBinding]; ok {
					value = interpreter.FromValue(v)
				} else if injected {
					value = vars[ResultBinding]
				}
				return err
			})
			return value, err
		},
	})
}

// ExecuteBatch evaluates every command in one GIL acquisition. A failing
// command yields a nil value and an error entry; the rest still run. The
// ordered values are also bound to __batch_results__.
func (c *Coordinator) ExecuteBatch(ctx context.Context, sessionID string, commands []string) (*BatchResult, error) {
	return c.ExecuteBatchOptions(ctx, sessionID, commands, ExecOptions{})
}

// ExecuteBatchOptions is ExecuteBatch with a timeout and sink. After a
// timeout or stop, commands evaluated before the stop point keep their
// values and the rest are marked "not executed".
func (c *Coordinator) ExecuteBatchOptions(ctx context.Context, sessionID string, commands []string, opts ExecOptions) (*BatchResult, error) {
	validate := func() error {
		if len(commands) == 0 {
			return types.NewInvalidRequestError("commands must not be empty")
		}
		return nil
	}

	res, err := c.execute(ctx, request{
		mode:      ModeBatch,
		sessionID: sessionID,
		code:      strings.Join(commands, "\n"),
		timeout:   opts.Timeout,
		sink:      opts.Sink,
		validate:  validate,
		partial:   true,
		run: func(ctx context.Context, scope *interpreter.Scope, out interpreter.Output) (any, error) {
			var items []BatchItem
			err := c.gil().Do(ctx, func() error {
				var err error
				items, err = runBatch(ctx, scope, commands, out)
				return err
			})
			return items, err
		},
	})

	// a unit stopped mid-batch still returns the items it reached; only a
	// unit that never returned within the grace period reports none.
	batch := &BatchResult{Result: res}
	if items, ok := res.Value.([]BatchItem); ok && items != nil {
		batch.Items = items
		res.Value = batch.Values()
	} else if res.Status != StatusInvalid && res.Status != StatusBusy {
		batch.Items = make([]BatchItem, len(commands))
		for i, cmd := range commands {
			batch.Items[i] = BatchItem{Command: cmd, Error: "not executed: " + res.Message}
		}
	}
	return batch, err
}

// runBatch must be called with the GIL held.
func runBatch(ctx context.Context, scope *interpreter.Scope, commands []string, out interpreter.Output) ([]BatchItem, error) {
	items := make([]BatchItem, len(commands))
	values := make([]starlark.Value, len(commands))
	for i, cmd := range commands {
		items[i].Command = cmd
		values[i] = starlark.None

		if err := ctx.Err(); err != nil {
			items[i].Error = "not executed: " + context.Cause(ctx).Error()
			continue
		}
		if strings.TrimSpace(cmd) == "" {
			items[i].Error = "empty command"
			continue
		}

		v, err := scope.Eval(ctx, cmd, out)
		if err != nil && interpreter.IsSyntaxError(err) {
			// not an expression; run it as a statement
			if _, execErr := scope.Exec(ctx, cmd, out); execErr == nil {
				v, err = starlark.None, nil
			} else {
				err = execErr
			}
		}
		if err != nil {
			interpreter.ReportError(out, err)
			items[i].Error = errorSummary(err)
			continue
		}
		values[i] = v
		items[i].Value = interpreter.FromValue(v)
	}

	if err := scope.Set(BatchResultsBinding, starlark.NewList(values)); err != nil {
		return items, err
	}
	return items, context.Cause(ctx)
}

// ExecuteGenerator runs definitionCode, then calls entryPoint with no
// arguments and hands every element of the returned iterable to onItem.
// The GIL is taken per element and released before onItem runs. onItem
// returning ErrStopGenerator ends the run successfully. Result.Value is the
// number of items delivered.
func (c *Coordinator) ExecuteGenerator(ctx context.Context, sessionID, definitionCode, entryPoint string, onItem func(item any) error, opts ExecOptions) (*Result, error) {
	validate := func() error {
		if err := requireCode(definitionCode, "definition code")(); err != nil {
			return err
		}
		if !interpreter.ValidName(entryPoint) {
			return types.NewInvalidRequestError(fmt.Sprintf("entry point %q is not an identifier", entryPoint))
		}
		if onItem == nil {
			return types.NewInvalidRequestError("item callback is required")
		}
		return nil
	}

	sink := progress.Multi(c.sink, opts.Sink)
	return c.execute(ctx, request{
		mode:      ModeGenerator,
		sessionID: sessionID,
		code:      definitionCode,
		timeout:   opts.Timeout,
		sink:      opts.Sink,
		stream:    true,
		validate:  validate,
		run: func(ctx context.Context, scope *interpreter.Scope, out interpreter.Output) (any, error) {
			count, err := c.drive(ctx, scope, definitionCode, entryPoint, out, func(item any) error {
				progress.Report(sink, progress.Event{
					SessionID: sessionID,
					Message:   fmt.Sprint(item),
					Severity:  progress.SeverityInfo,
					Type:      progress.EventItem,
				})
				return onItem(item)
			})
			c.recorder.RecordGeneratorItems(count)
			return count, err
		},
	})
}

func (c *Coordinator) drive(ctx context.Context, scope *interpreter.Scope, definition, entryPoint string, out interpreter.Output, onItem func(any) error) (int, error) {
	gil := c.gil()

	var it *interpreter.Iterator
	err := gil.Do(ctx, func() error {
		if _, err := scope.Exec(ctx, definition, out); err != nil {
			return err
		}
		var err error
		it, err = scope.Iterate(ctx, entryPoint, out)
		return err
	})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = gil.Do(context.WithoutCancel(ctx), func() error {
			it.Close()
			return nil
		})
	}()

	count := 0
	for {
		var (
			item any
			ok   bool
		)
		err := gil.Do(ctx, func() error {
			var err error
			item, ok, err = it.Next()
			return err
		})
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}

		count++
		if err := onItem(item); err != nil {
			if errors.Is(err, ErrStopGenerator) {
				return count, nil
			}
			return count, fmt.Errorf("item callback: %w", err)
		}
		if ctx.Err() != nil {
			return count, context.Cause(ctx)
		}
	}
}

// ExecuteInteractive runs segments one after another through ExecuteCode.
// Blank segments succeed without executing. With stopOnError the run halts
// after the first failing segment. A non-nil error (busy session, host
// fault) ends the run and is returned with the segments finished so far.
func (c *Coordinator) ExecuteInteractive(ctx context.Context, sessionID string, segments []string, stopOnError bool, opts ExecOptions) ([]SegmentResult, error) {
	if len(segments) == 0 {
		return nil, types.NewInvalidRequestError("segments must not be empty").WithSession(sessionID)
	}

	results := make([]SegmentResult, 0, len(segments))
	for i, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			results = append(results, SegmentResult{Index: i, Code: seg, Success: true, Blank: true})
			continue
		}

		res, err := c.executeCode(ctx, ModeInteractive, sessionID, seg, opts)
		sr := SegmentResult{Index: i, Code: seg, Result: res}
		if res != nil {
			sr.Success = res.Success
			sr.Output = res.Output
		}
		results = append(results, sr)

		if err != nil {
			return results, err
		}
		if stopOnError && !sr.Success {
			break
		}
	}
	return results, nil
}

// execBlock runs code under the GIL and reports the result binding when the
// block itself assigned it.
func (c *Coordinator) execBlock(code string) work {
	return func(ctx context.Context, scope *interpreter.Scope, out interpreter.Output) (any, error) {
		var value any
		err := c.gil().Do(ctx, func() error {
			defined, err := scope.Exec(ctx, code, out)
			if v, ok := defined[ResultBinding]; ok {
				value = interpreter.FromValue(v)
			}
			return err
		})
		return value, err
	}
}

func requireCode(code, what string) func() error {
	return func() error {
		if strings.TrimSpace(code) == "" {
			return types.NewInvalidRequestError(what + " must not be empty")
		}
		return nil
	}
}
