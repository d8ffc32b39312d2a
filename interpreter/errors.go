package interpreter

import (
	"errors"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrorLines renders an interpreter error the way it should appear on the
// error stream: a traceback for runtime faults, one line per problem for
// syntax and resolution faults.
func ErrorLines(err error) []string {
	if err == nil {
		return nil
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return splitNonEmpty(evalErr.Backtrace())
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return []string{"SyntaxError: " + syntaxErr.Error()}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		lines := make([]string, 0, len(resolveErrs))
		for _, e := range resolveErrs {
			lines = append(lines, "NameError: "+e.Error())
		}
		return lines
	}

	return splitNonEmpty(err.Error())
}

// ReportError writes ErrorLines(err) to the error stream of out.
func ReportError(out Output, err error) {
	if out == nil {
		return
	}
	for _, l := range ErrorLines(err) {
		out.WriteLine(Line{Stream: StreamStderr, Text: l})
	}
}

// IsSyntaxError reports whether err is a parse or resolution failure.
func IsSyntaxError(err error) bool {
	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	return errors.As(err, &syntaxErr) || errors.As(err, &resolveErrs)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
