package versioning

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) VersionCreated(ctx context.Context, version *Version) error {
	return nil
}

func (n *NoopEventSink) VersionSuperseded(ctx context.Context, previous, current *Version) error {
	return nil
}

func (n *NoopEventSink) FileDeleted(ctx context.Context, id string, physical bool) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action.
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink. A nil logger uses slog.Default().
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// VersionCreated logs the creation of version 1
func (l *LoggingEventSink) VersionCreated(ctx context.Context, version *Version) error {
	l.logger.InfoContext(ctx, "event: version created",
		"id", version.ID, "version", version.Version, "path", version.StoragePath)
	return nil
}

// VersionSuperseded logs a new version replacing the previous active one
func (l *LoggingEventSink) VersionSuperseded(ctx context.Context, previous, current *Version) error {
	l.logger.InfoContext(ctx, "event: version superseded",
		"id", current.ID, "previous_version", previous.Version, "version", current.Version, "path", current.StoragePath)
	return nil
}

// FileDeleted logs the deletion of every version of a file
func (l *LoggingEventSink) FileDeleted(ctx context.Context, id string, physical bool) error {
	l.logger.InfoContext(ctx, "event: file deleted", "id", id, "physical", physical)
	return nil
}
