package audit

import (
	"context"
	"sync"
	"time"
)

// asyncLogger implements asynchronous audit logging with a ring buffer.
// When the buffer is full the oldest event is dropped; admission latency
// is bounded regardless of writer speed.
type asyncLogger struct {
	writer Writer

	buffer []*Event
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	dropped uint64

	flushCh  chan struct{}
	doneCh   chan struct{}
	interval time.Duration
}

func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:   writer,
		buffer:   make([]*Event, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	go l.run()

	return l
}

// Record enqueues an event without blocking
func (l *asyncLogger) Record(eventType EventType, category Category, description string, fields Fields) {
	l.enqueue(newEvent(eventType, category, description, fields))
}

// RecordSync writes an event directly, bypassing the ring buffer, so the
// record exists before the caller proceeds.
func (l *asyncLogger) RecordSync(ctx context.Context, eventType EventType, category Category, description string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.writer.Write(newEvent(eventType, category, description, fields))
}

// enqueue adds an event to the ring buffer (non-blocking)
func (l *asyncLogger) enqueue(event *Event) {
	l.mu.Lock()

	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size

	// Drop oldest if full
	if l.tail == l.head {
		l.head = (l.head + 1) % l.size
		l.dropped++
	}
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run flushes events periodically and on demand
func (l *asyncLogger) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush drains pending events
func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.copyEvents()
	l.mu.Unlock()

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			// Keep writing; a single bad event must not wedge the queue
			lastErr = err
		}
	}
	return lastErr
}

func (l *asyncLogger) copyEvents() []*Event {
	if l.head == l.tail {
		return nil
	}

	var events []*Event
	for i := l.head; i != l.tail; i = (i + 1) % l.size {
		events = append(events, l.buffer[i])
	}
	l.head = l.tail

	return events
}

// Dropped returns how many events overflow has discarded
func (l *asyncLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close flushes remaining events and closes the writer
func (l *asyncLogger) Close() error {
	close(l.doneCh)
	time.Sleep(200 * time.Millisecond)
	return l.writer.Close()
}
