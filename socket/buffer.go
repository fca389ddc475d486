package socket

import "strings"

// Buffer is an ordered queue of byte chunks that can be efficiently appended
// to and consumed from. Chunks are kept in arrival order and are never merged,
// so appending is cheap; Remove and Copy present the queued chunks as one
// contiguous byte stream.
type Buffer struct {
	chunks []string

	// Splitter marks logical message boundaries inside the byte stream.
	// Newline by default.
	Splitter string
}

// NewBuffer returns an empty Buffer with the default newline splitter.
func NewBuffer() *Buffer {
	return &Buffer{Splitter: "\n"}
}

// Size returns the number of queued chunks, not the number of bytes.
func (b *Buffer) Size() int {
	return len(b.chunks)
}

// Bytes returns the number of buffered bytes, counting no further than max.
func (b *Buffer) Bytes(max int) int {
	total := 0
	for _, c := range b.chunks {
		total += len(c)
		if total >= max {
			return max
		}
	}
	return total
}

// BytesToSplit returns the byte count from the front of the buffered stream
// up to and including the first occurrence of Splitter, which is the length
// of the first complete frame: Remove(BytesToSplit()) consumes one frame,
// splitter included. 0 means no complete frame is buffered.
func (b *Buffer) BytesToSplit() int {
	if b.Splitter == "" {
		return 0
	}
	offset := 0
	carry := ""
	for _, c := range b.chunks {
		// The splitter may straddle a chunk boundary, so search with a
		// tail of the previous chunk glued on.
		joined := carry + c
		if i := strings.Index(joined, b.Splitter); i >= 0 {
			return offset - len(carry) + i + len(b.Splitter)
		}
		offset += len(c)
		if n := len(b.Splitter) - 1; n > 0 {
			if len(joined) > n {
				carry = joined[len(joined)-n:]
			} else {
				carry = joined
			}
		}
	}
	return 0
}

// Append pushes a chunk onto the back of the queue.
func (b *Buffer) Append(data string) {
	if len(data) == 0 {
		return
	}
	b.chunks = append(b.chunks, data)
}

// AppendBytes copies data and pushes it onto the back of the queue.
func (b *Buffer) AppendBytes(data []byte) {
	b.Append(string(data))
}

// Prepend pushes a chunk onto the front of the queue, ahead of anything
// already buffered. Used to push back bytes a consumer read too eagerly.
func (b *Buffer) Prepend(data string) {
	if len(data) == 0 {
		return
	}
	b.chunks = append([]string{data}, b.chunks...)
}

// PrependBytes copies data and pushes it onto the front of the queue.
func (b *Buffer) PrependBytes(data []byte) {
	b.Prepend(string(data))
}

// Get returns the front chunk only, not the full logical stream. Callers
// needing n contiguous bytes must use Copy or Remove.
func (b *Buffer) Get() string {
	if len(b.chunks) == 0 {
		return ""
	}
	return b.chunks[0]
}

// Available reports whether at least count bytes are buffered. It never
// mutates the buffer.
func (b *Buffer) Available(count int) bool {
	return b.Bytes(count) >= count
}

// Remove takes exactly count bytes off the front of the stream, splitting a
// chunk when the boundary falls inside it. It returns false without
// consuming anything when fewer than count bytes are buffered; callers are
// expected to check Available first.
func (b *Buffer) Remove(count int) (string, bool) {
	if !b.Available(count) {
		return "", false
	}
	var sb strings.Builder
	sb.Grow(count)
	for sb.Len() < count {
		need := count - sb.Len()
		front := b.chunks[0]
		if len(front) <= need {
			sb.WriteString(front)
			b.chunks = b.chunks[1:]
		} else {
			sb.WriteString(front[:need])
			b.chunks[0] = front[need:]
		}
	}
	return sb.String(), true
}

// Copy returns the front count bytes of the stream without consuming them.
func (b *Buffer) Copy(count int) (string, bool) {
	if !b.Available(count) {
		return "", false
	}
	var sb strings.Builder
	sb.Grow(count)
	for _, c := range b.chunks {
		need := count - sb.Len()
		if need == 0 {
			break
		}
		if len(c) <= need {
			sb.WriteString(c)
		} else {
			sb.WriteString(c[:need])
		}
	}
	return sb.String(), true
}

// Clear empties the queue.
func (b *Buffer) Clear() {
	b.chunks = nil
}
