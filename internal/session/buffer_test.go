package session

import (
	"strings"
	"testing"
	"time"

	"github.com/apexlog/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndSnapshot(t *testing.T) {
	b := NewBuffer(0)
	now := time.Now()
	b.Append(models.StreamStdout, "one\n", now)
	b.Append(models.StreamStderr, "two\n", now)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(1), snap[0].Seq)
	assert.Equal(t, uint64(2), snap[1].Seq)
	assert.Equal(t, models.StreamStderr, snap[1].Stream)
	assert.Equal(t, "one\ntwo\n", b.Text())

	// The snapshot is a copy.
	snap[0].Text = "changed"
	assert.Equal(t, "one\n", b.Snapshot()[0].Text)
}

func TestBuffer_EvictsOldestOverCap(t *testing.T) {
	b := NewBuffer(10)
	for _, s := range []string{"aaaa", "bbbb", "cccc"} {
		b.Append(models.StreamStdout, s, time.Now())
	}

	assert.Equal(t, "bbbbcccc", b.Text())
	bytes, chunks, evicted := b.Stats()
	assert.Equal(t, 8, bytes)
	assert.Equal(t, 2, chunks)
	assert.Equal(t, uint64(1), evicted)
}

func TestBuffer_KeepsSingleOversizedChunk(t *testing.T) {
	b := NewBuffer(4)
	b.Append(models.StreamStdout, strings.Repeat("x", 10), time.Now())
	assert.Len(t, b.Snapshot(), 1)

	b.Append(models.StreamStdout, "y", time.Now())
	assert.Equal(t, "y", b.Text())
}

func TestBuffer_SinceAndReset(t *testing.T) {
	b := NewBuffer(0)
	b.Append(models.StreamStdout, "a", time.Now())
	b.Append(models.StreamStdout, "b", time.Now())

	since := b.Since(1)
	require.Len(t, since, 1)
	assert.Equal(t, "b", since[0].Text)
	assert.Empty(t, b.Since(2))

	b.Reset()
	assert.Empty(t, b.Snapshot())
	c := b.Append(models.StreamStdout, "c", time.Now())
	assert.Equal(t, uint64(3), c.Seq, "sequence numbers are not reused after reset")
}

func TestBuffer_Subscribe(t *testing.T) {
	b := NewBuffer(0)
	ch, cancel := b.Subscribe()

	b.Append(models.StreamStdout, "live", time.Now())
	select {
	case c := <-ch:
		assert.Equal(t, "live", c.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive chunk")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Appending after cancel must not panic on the closed channel.
	b.Append(models.StreamStdout, "later", time.Now())
}

func TestBuffer_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBuffer(0)
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueue*2; i++ {
			b.Append(models.StreamStdout, "x", time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a full subscriber")
	}
}
