package audio

import (
	"sync"
)

// ChunkBuffer is a thread-safe, append-only buffer of audio chunks that
// preserves arrival order. It grows without bound for the length of one
// answer and is drained once by Bytes.
type ChunkBuffer struct {
	chunks [][]byte
	size   int
	mu     sync.RWMutex
}

// NewChunkBuffer creates an empty chunk buffer
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Write appends a copy of data as one chunk.
// Zero-length writes are ignored and return 0.
func (cb *ChunkBuffer) Write(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.chunks = append(cb.chunks, chunk)
	cb.size += len(chunk)
	return len(chunk)
}

// Bytes returns all chunks concatenated in the order they were written
func (cb *ChunkBuffer) Bytes() []byte {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.size == 0 {
		return nil
	}

	out := make([]byte, 0, cb.size)
	for _, c := range cb.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the total number of buffered bytes
func (cb *ChunkBuffer) Len() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Chunks returns the number of buffered chunks
func (cb *ChunkBuffer) Chunks() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return len(cb.chunks)
}

// Clear drops all buffered chunks
func (cb *ChunkBuffer) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.chunks = nil
	cb.size = 0
}

// IsEmpty returns true if nothing has been buffered
func (cb *ChunkBuffer) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}
