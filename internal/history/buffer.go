// Package history keeps a short in-memory tail of each chat's messages so
// that a client joining (or rejoining after a reconnect) can be brought up
// to date without a database round trip.
package history

import (
	"sync"

	"github.com/beacon/chat-app/internal/protocol"
)

// DefaultCapacity is the number of recent messages retained per chat.
const DefaultCapacity = 50

// Buffer stores the last N messages per chat in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Buffer struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string]*ringBuffer // chatID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of chat messages.
type ringBuffer struct {
	items []protocol.ChatMessageMsg
	pos   int
	count int
}

// NewBuffer creates an empty Buffer retaining capacity messages per chat.
// A capacity <= 0 falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Add appends a message to its chat's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (b *Buffer) Add(msg protocol.ChatMessageMsg) {
	if msg.ChatID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[msg.ChatID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.ChatMessageMsg, b.capacity),
		}
		b.buffers[msg.ChatID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % b.capacity
	if rb.count < b.capacity {
		rb.count++
	}
}

// Recent returns the buffered messages for a chat in chronological order
// (oldest first). Returns an empty slice if the chat has no buffer.
func (b *Buffer) Recent(chatID string) []protocol.ChatMessageMsg {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[chatID]
	if !ok {
		return []protocol.ChatMessageMsg{}
	}

	result := make([]protocol.ChatMessageMsg, rb.count)
	// The oldest message is at position (pos - count) mod capacity.
	start := (rb.pos - rb.count + b.capacity) % b.capacity
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%b.capacity]
	}
	return result
}

// Remove deletes the buffer for a chat (called when the chat is deleted).
func (b *Buffer) Remove(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, chatID)
}
