package socket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferFIFOLaw(t *testing.T) {
	parts := []string{"fo", "o", "", "bar", "bazqu", "x"}
	b := NewBuffer()
	total := 0
	for _, p := range parts {
		b.Append(p)
		total += len(p)
	}

	// Removing in sizes that do not line up with chunk boundaries must still
	// reproduce the concatenation exactly.
	var got strings.Builder
	for _, n := range []int{1, 3, 2, 4, 2} {
		s, ok := b.Remove(n)
		assert.True(t, ok)
		got.WriteString(s)
	}
	assert.Equal(t, total, got.Len())
	assert.Equal(t, strings.Join(parts, ""), got.String())
	assert.Equal(t, 0, b.Size())
}

func TestBufferAvailableIsPure(t *testing.T) {
	b := NewBuffer()
	b.Append("hello")
	b.Append("world")

	sizeBefore := b.Size()
	bytesBefore := b.Bytes(1000)
	assert.True(t, b.Available(10))
	assert.False(t, b.Available(11))
	assert.Equal(t, sizeBefore, b.Size(), "Available must not mutate chunk count")
	assert.Equal(t, bytesBefore, b.Bytes(1000), "Available must not mutate byte count")

	s, ok := b.Remove(10)
	assert.True(t, ok)
	assert.Equal(t, "helloworld", s)
}

func TestBufferBytesToSplit(t *testing.T) {
	b := NewBuffer()
	b.Append("foo\nbar")
	assert.Equal(t, 4, b.BytesToSplit(), "frame length includes the splitter")

	frame, ok := b.Remove(b.BytesToSplit())
	assert.True(t, ok)
	assert.Equal(t, "foo\n", frame)
	assert.Equal(t, 0, b.BytesToSplit(), "no complete frame left")
}

func TestBufferSplitterAcrossChunks(t *testing.T) {
	b := NewBuffer()
	b.Splitter = "\r\n"
	b.Append("PING\r")
	b.Append("\nPO")
	assert.Equal(t, 6, b.BytesToSplit(), "splitter straddling a chunk boundary must be found")

	frame, ok := b.Remove(6)
	assert.True(t, ok)
	assert.Equal(t, "PING\r\n", frame)
}

func TestBufferCopyDoesNotConsume(t *testing.T) {
	b := NewBuffer()
	b.Append("abc")
	b.Append("def")

	s, ok := b.Copy(5)
	assert.True(t, ok)
	assert.Equal(t, "abcde", s)
	assert.Equal(t, 2, b.Size())

	s, ok = b.Remove(6)
	assert.True(t, ok)
	assert.Equal(t, "abcdef", s)
}

func TestBufferRemoveInsufficient(t *testing.T) {
	b := NewBuffer()
	b.Append("abc")

	_, ok := b.Remove(4)
	assert.False(t, ok, "removing more than buffered must fail")
	assert.Equal(t, 3, b.Bytes(100), "failed Remove must not consume")

	s, ok := b.Remove(3)
	assert.True(t, ok)
	assert.Equal(t, "abc", s)
}

func TestBufferPrepend(t *testing.T) {
	b := NewBuffer()
	b.Append("world")
	b.Prepend("hello ")

	s, ok := b.Remove(11)
	assert.True(t, ok)
	assert.Equal(t, "hello world", s)
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer()
	b.Append("some")
	b.Append("data")
	b.Clear()
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 0, b.Bytes(100))
	assert.False(t, b.Available(1))
}

func TestBufferGetFrontChunkOnly(t *testing.T) {
	b := NewBuffer()
	b.Append("first")
	b.Append("second")
	assert.Equal(t, "first", b.Get())
}
