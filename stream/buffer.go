package stream

import (
	"strings"
	"sync"
)

// Buffer accumulates streamed text chunks and tracks how much of it has been shown.
// Appends are cheap; joining happens only when the UI flushes.
type Buffer struct {
	mu         sync.Mutex
	chunks     []string
	flushedIdx int
	display    string
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a chunk without touching the display text.
func (b *Buffer) Append(text string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, text)
	b.mu.Unlock()
}

// Flush moves every unflushed chunk into the display text and returns it.
func (b *Buffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushedIdx < len(b.chunks) {
		b.display += strings.Join(b.chunks[b.flushedIdx:], "")
		b.flushedIdx = len(b.chunks)
	}
	return b.display
}

// FullText returns everything appended so far without advancing the flush cursor.
func (b *Buffer) FullText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushedIdx == len(b.chunks) {
		return b.display
	}
	return b.display + strings.Join(b.chunks[b.flushedIdx:], "")
}

// Display returns the text as of the last flush.
func (b *Buffer) Display() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.display
}

// Len reports the number of chunks appended since the last reset.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Reset clears all chunks and the display text.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.flushedIdx = 0
	b.display = ""
	b.mu.Unlock()
}
