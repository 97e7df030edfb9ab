package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileWriter writes audit events to a file with rotation
type fileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a new file writer with log rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	w := &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}

	startup := newEvent(EventTypeSystemStartup, CategorySystem, "audit logging started", Fields{Success: true})
	if err := w.Write(startup); err != nil {
		return nil, fmt.Errorf("write startup event: %w", err)
	}

	return w, nil
}

// Write writes an event to the file
func (w *fileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(event)
}

// Close writes a shutdown marker and closes the file
func (w *fileWriter) Close() error {
	shutdown := newEvent(EventTypeSystemShutdown, CategorySystem, "audit logging stopped", Fields{Success: true})
	_ = w.Write(shutdown)

	return w.logger.Close()
}
