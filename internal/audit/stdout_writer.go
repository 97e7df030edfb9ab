package audit

import (
	"encoding/json"
	"os"
	"sync"
)

// stdoutWriter emits audit events to stdout as JSON lines. It is the
// default backend when no file path is configured, suited to container
// deployments where stdout is the log pipeline.
type stdoutWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewStdoutWriter returns a writer that emits one JSON line per event
func NewStdoutWriter() Writer {
	return &stdoutWriter{encoder: json.NewEncoder(os.Stdout)}
}

func (w *stdoutWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(event)
}

// Close is a no-op; stdout stays open for the process lifetime
func (w *stdoutWriter) Close() error {
	return nil
}
