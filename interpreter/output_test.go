package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLines(t *testing.T) {
	assert.Equal(t, "", JoinLines(nil))

	lines := []Line{
		{Stream: StreamStdout, Text: "a"},
		{Stream: StreamStderr, Text: "b"},
		{Stream: StreamStdout, Text: ""},
	}
	assert.Equal(t, "a\nb\n", JoinLines(lines))
	// pooled slices must not leak texts between calls
	assert.Equal(t, "c", JoinLines([]Line{{Stream: StreamStdout, Text: "c"}}))
}

func TestBuffer_SplitsMultilineWrites(t *testing.T) {
	var b Buffer
	writeText(&b, StreamStdout, "x\ny")
	writeText(&b, StreamStderr, "z")

	got := b.Lines()
	assert.Equal(t, []Line{
		{Stream: StreamStdout, Text: "x"},
		{Stream: StreamStdout, Text: "y"},
		{Stream: StreamStderr, Text: "z"},
	}, got)
	assert.Equal(t, "x\ny\nz", b.String())
}
