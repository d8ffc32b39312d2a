// Package interpreter hosts the embedded scripting runtime.
//
// Each session gets a Scope: a persistent namespace that survives across
// executions. All scopes share one GIL; code runs, namespace reads and
// namespace writes happen only inside GIL.Do. Runtime provisions and
// discards scopes and is the value the execution coordinator consumes.
//
// The dialect is Starlark with while loops, sets, top-level control flow,
// global reassignment and recursion enabled. Extra builtins:
//
//	should_stop()    true once the current invocation is asked to stop
//	sleep(seconds)   interruptible sleep
//	eprint(*args)    print to the error stream
//
// A block that rebinds an existing global sees its previous value first,
// so "x = x + 1" and "x += 1" behave as they would at a Python prompt.
package interpreter
