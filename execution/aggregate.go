package execution

import (
	"fmt"
	"sync"

	"github.com/BaSui01/pyhost/interpreter"
)

// aggregate collects the lines of one execution. With a positive limit it
// keeps the first limit lines plus the last line and counts the rest.
type aggregate struct {
	mu      sync.Mutex
	limit   int
	lines   []interpreter.Line
	last    *interpreter.Line
	omitted int
	streams map[interpreter.Stream]int
}

func newAggregate(limit int) *aggregate {
	return &aggregate{limit: limit, streams: make(map[interpreter.Stream]int)}
}

func (a *aggregate) add(l interpreter.Line) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams[l.Stream]++
	if a.limit <= 0 || len(a.lines) < a.limit {
		a.lines = append(a.lines, l)
		return
	}
	if a.last != nil {
		a.omitted++
	}
	line := l
	a.last = &line
}

func (a *aggregate) result() []interpreter.Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]interpreter.Line, 0, len(a.lines)+2)
	out = append(out, a.lines...)
	if a.omitted > 0 {
		out = append(out, interpreter.Line{
			Stream: interpreter.StreamStderr,
			Text:   fmt.Sprintf("... %d lines omitted ...", a.omitted),
		})
	}
	if a.last != nil {
		out = append(out, *a.last)
	}
	return out
}

func (a *aggregate) counts() map[interpreter.Stream]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[interpreter.Stream]int, len(a.streams))
	for k, v := range a.streams {
		out[k] = v
	}
	return out
}
