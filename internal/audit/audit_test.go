package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryWriter captures written events for assertions
type memoryWriter struct {
	mu     sync.Mutex
	events []*Event
	fail   bool
}

func (w *memoryWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("writer down")
	}
	w.events = append(w.events, event)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func (w *memoryWriter) captured() []*Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Event, len(w.events))
	copy(out, w.events)
	return out
}

func TestAsyncLogger_RecordAndFlush(t *testing.T) {
	writer := &memoryWriter{}
	logger := newAsyncLogger(writer, Config{BufferSize: 10, FlushInterval: time.Hour})
	defer logger.Close()

	logger.Record(EventTypeAuthzDecision, CategoryAuthorization, "document read allowed", Fields{
		Actor:    "alice",
		Target:   "doc-1",
		Success:  true,
		Severity: SeverityInfo,
		Data:     map[string]interface{}{"reason": "DIRECT_ROLE_ALLOW"},
	})
	require.NoError(t, logger.Flush())

	events := writer.captured()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAuthzDecision, events[0].EventType)
	assert.Equal(t, "alice", events[0].Actor)
	assert.NotEmpty(t, events[0].EventID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAsyncLogger_OverflowDropsOldest(t *testing.T) {
	writer := &memoryWriter{}
	logger := newAsyncLogger(writer, Config{BufferSize: 4, FlushInterval: time.Hour})
	defer logger.Close()

	// A ring of size 4 holds 3 events; the rest displace the oldest
	for i := 0; i < 6; i++ {
		logger.enqueue(newEvent(EventTypeAuthzDecision, CategoryAuthorization, "e", Fields{}))
	}

	assert.Equal(t, uint64(3), logger.Dropped())
	require.NoError(t, logger.Flush())
	assert.Len(t, writer.captured(), 3)
}

func TestAsyncLogger_WriterFaultDoesNotPropagate(t *testing.T) {
	writer := &memoryWriter{fail: true}
	logger := newAsyncLogger(writer, Config{BufferSize: 10, FlushInterval: time.Hour})
	defer logger.Close()

	assert.NotPanics(t, func() {
		logger.Record(EventTypeAuthzDecision, CategoryAuthorization, "e", Fields{})
	})
	assert.Error(t, logger.Flush())
}

func TestRecordSync_WritesImmediately(t *testing.T) {
	writer := &memoryWriter{}
	logger := newAsyncLogger(writer, Config{BufferSize: 10, FlushInterval: time.Hour})
	defer logger.Close()

	err := logger.RecordSync(context.Background(), EventTypeEmergencyAccess, CategorySecurity,
		"emergency override access", Fields{Actor: "bob", Severity: SeverityHigh, Success: true})
	require.NoError(t, err)

	// No flush needed: the record must already exist
	events := writer.captured()
	require.Len(t, events, 1)
	assert.Equal(t, SeverityHigh, events[0].Severity)
}

func TestNewLogger_DisabledReturnsNoop(t *testing.T) {
	logger, err := NewLogger(&Config{Enabled: false})
	require.NoError(t, err)

	logger.Record(EventTypeAdminAction, CategoryAdmin, "noop", Fields{})
	assert.NoError(t, logger.Flush())
	assert.NoError(t, logger.Close())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"stdout ok", Config{Enabled: true, Type: "stdout"}, false},
		{"file without path", Config{Enabled: true, Type: "file"}, true},
		{"unknown type", Config{Enabled: true, Type: "syslog"}, true},
		{"disabled skips checks", Config{Enabled: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewEvent_DefaultSeverity(t *testing.T) {
	event := newEvent(EventTypeAuthzDecision, CategoryAuthorization, "d", Fields{})
	assert.Equal(t, SeverityInfo, event.Severity)
}
