package log

// Logger defines a standard interface for logging.
// Packages depend on this instead of a concrete logging library.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a logger that appends key=value to every line.
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// nopLogger discards everything. Fatalf does not exit.
type nopLogger struct{}

// NewNopLogger returns a Logger that drops all output.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}
func (n nopLogger) WithField(string, interface{}) Logger { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
