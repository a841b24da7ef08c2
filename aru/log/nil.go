package log

import "context"

// NopLogger discards everything. Components fall back to it when no logger
// is configured, and tests embed it to override only the methods they need.
type NopLogger struct{}

var _ Logger = (*NopLogger)(nil)

// discard is shared since NopLogger holds no state.
var discard = &NopLogger{}

// NewNop returns the shared discarding logger.
//
//nolint:ireturn
func NewNop() Logger { return discard }

func (l *NopLogger) Log(context.Context, Level, string, ...Field) {}

//nolint:ireturn
func (l *NopLogger) With(...Field) Logger { return l }

//nolint:ireturn
func (l *NopLogger) WithGroup(string) Logger { return l }

// Enabled reports false for every level, so callers can skip building fields.
func (l *NopLogger) Enabled(Level) bool { return false }

func (l *NopLogger) Sync(context.Context) error { return nil }
