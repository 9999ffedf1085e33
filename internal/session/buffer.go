package session

import (
	"strings"
	"sync"
	"time"

	"github.com/apexlog/backend/internal/models"
)

// DefaultBufferMaxBytes caps the live buffer. Oldest chunks are evicted
// first; the on-disk segments keep the full stream.
const DefaultBufferMaxBytes = 8 * 1024 * 1024

// subscriberQueue is the per-subscriber channel capacity. Slow subscribers
// miss chunks rather than stall the stream.
const subscriberQueue = 256

// Buffer is the in-memory view of the running stream, ordered by arrival.
type Buffer struct {
	mu       sync.RWMutex
	chunks   []models.Chunk
	bytes    int
	maxBytes int
	evicted  uint64
	nextSeq  uint64

	subs    map[int]chan models.Chunk
	nextSub int
}

// NewBuffer creates a Buffer holding at most maxBytes of text. maxBytes <= 0
// means unbounded.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{
		maxBytes: maxBytes,
		subs:     make(map[int]chan models.Chunk),
	}
}

// Append stores text and fans it out to subscribers.
func (b *Buffer) Append(stream models.StreamName, text string, at time.Time) models.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	c := models.Chunk{Seq: b.nextSeq, Stream: stream, Text: text, ReceivedAt: at}
	b.chunks = append(b.chunks, c)
	b.bytes += len(text)

	for b.maxBytes > 0 && b.bytes > b.maxBytes && len(b.chunks) > 1 {
		b.bytes -= len(b.chunks[0].Text)
		b.chunks[0] = models.Chunk{}
		b.chunks = b.chunks[1:]
		b.evicted++
	}

	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return c
}

// Snapshot returns a copy of the buffered chunks.
func (b *Buffer) Snapshot() []models.Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Since returns the buffered chunks with a sequence number above seq.
func (b *Buffer) Since(seq uint64) []models.Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Chunk, 0)
	for _, c := range b.chunks {
		if c.Seq > seq {
			out = append(out, c)
		}
	}
	return out
}

// Text concatenates the buffered chunks.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	sb.Grow(b.bytes)
	for _, c := range b.chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// Stats returns the buffered byte count, chunk count and evictions.
func (b *Buffer) Stats() (bytes, chunks int, evicted uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes, len(b.chunks), b.evicted
}

// Reset drops all chunks. Sequence numbers keep increasing so readers
// polling with Since never see a number reused.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.bytes = 0
	b.evicted = 0
}

// Subscribe returns a channel receiving every chunk appended from now on,
// and a function to cancel the subscription.
func (b *Buffer) Subscribe() (<-chan models.Chunk, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan models.Chunk, subscriberQueue)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
