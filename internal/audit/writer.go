package audit

// Writer is the output backend for audit events
type Writer interface {
	// Write writes a single event
	Write(event *Event) error

	// Close releases resources
	Close() error
}
