package feed

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// writeQueueCap bounds how many pending frames a slow feed client may
// accumulate before it is disconnected (spec §4.6 "buffer overflow
// policy"), mirroring the teacher's bounded client.send channel.
const writeQueueCap = 256

// writeDebounce is how long the writer coalesces pending frames before
// flushing a single websocket write, matching spec §4.6's 75ms batching
// window.
const writeDebounce = 75 * time.Millisecond

// SendFunc delivers one already-framed websocket message to a feed
// client.
type SendFunc func(frame []byte) error

// Writer batches frames queued via Enqueue into one merged JSON array
// per debounce tick, the way the teacher's writePump drains its send
// channel before a single buffered write.
type Writer struct {
	logger zerolog.Logger
	send   SendFunc

	mu      sync.Mutex
	pending [][]byte
	closed  bool
}

// NewWriter returns a Writer that flushes through send.
func NewWriter(send SendFunc, logger zerolog.Logger) *Writer {
	return &Writer{
		logger: logger.With().Str("component", "feed_writer").Logger(),
		send:   send,
	}
}

// Enqueue queues frame for the next flush. It reports false, meaning
// the caller should disconnect the client, if the queue is already at
// capacity or the writer has stopped.
func (w *Writer) Enqueue(frame []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if len(w.pending) >= writeQueueCap {
		return false
	}
	w.pending = append(w.pending, frame)
	return true
}

// Run drives the debounce loop until ctx is canceled, flushing any
// frames queued since the last tick.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(writeDebounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if err := w.send(mergeFrames(batch)); err != nil {
		w.logger.Debug().Err(err).Msg("feed write failed")
	}
}

// mergeFrames joins N already-serialized `[action, field...]` JSON
// arrays into a single outer array, so a debounce window that
// accumulated several independent broadcasts still reaches the client
// as one websocket message.
func mergeFrames(frames [][]byte) []byte {
	if len(frames) == 1 {
		return frames[0]
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		inner := f
		if len(inner) >= 2 {
			inner = inner[1 : len(inner)-1]
		}
		buf.Write(inner)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
