package interpreter

import (
	"strings"
	"sync"

	"github.com/BaSui01/pyhost/internal/pool"
)

var textPool = pool.NewSlicePool[string](64)

// Stream identifies which redirected stream a line was written to.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one captured line of interpreter output.
type Line struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Output receives captured lines as the interpreter emits them.
type Output interface {
	WriteLine(line Line)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(line Line)

// WriteLine implements Output.
func (f OutputFunc) WriteLine(line Line) { f(line) }

// Discard drops every line.
var Discard Output = OutputFunc(func(Line) {})

// Buffer collects lines in memory. Safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	lines []Line
}

// WriteLine implements Output.
func (b *Buffer) WriteLine(line Line) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Lines returns a copy of the collected lines.
func (b *Buffer) Lines() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// String joins the collected text with newlines.
func (b *Buffer) String() string {
	return JoinLines(b.Lines())
}

// JoinLines joins line texts with "\n".
func JoinLines(lines []Line) string {
	texts := textPool.Get()
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	joined := strings.Join(texts, "\n")
	textPool.Put(texts)
	return joined
}

// writeText splits msg on newlines so every relayed item is a single line.
func writeText(out Output, stream Stream, msg string) {
	if out == nil {
		return
	}
	for _, part := range strings.Split(msg, "\n") {
		out.WriteLine(Line{Stream: stream, Text: part})
	}
}
