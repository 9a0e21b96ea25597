package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

var _ Logger = (*logrusLogger)(nil)

type logrusLogger struct {
	entry *logrus.Entry
}

// LogFileName is the file created inside the configured log directory.
const LogFileName = "dronesim.log"

// DefaultTimestampFormat has microsecond resolution so worker and tick
// lines interleave readably.
const DefaultTimestampFormat = "2006/01/02 15:04:05.000000"

// Fields promoted into the line prefix instead of the key=value tail.
const (
	FieldScene   = "scene"
	FieldSession = "session"
)

var levelTags = map[logrus.Level]string{
	logrus.TraceLevel: "TRC",
	logrus.DebugLevel: "DBG",
	logrus.InfoLevel:  "INF",
	logrus.WarnLevel:  "WRN",
	logrus.ErrorLevel: "ERR",
	logrus.FatalLevel: "FTL",
	logrus.PanicLevel: "PNC",
}

// NewLogrusLogger builds the process logger. Unknown levels fall back to
// info. Output goes to stdout and, when logDir is set, to logDir/dronesim.log.
func NewLogrusLogger(logLevel string, logDir string) (Logger, error) {
	return newLogrusLogger(logLevel, logDir, os.Stdout)
}

func newLogrusLogger(logLevel string, logDir string, console io.Writer) (Logger, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	out := console
	if logDir != "" {
		f, err := openLogFile(logDir)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(console, f)
	}

	l := &logrus.Logger{
		Out:       out,
		Formatter: &SimpleFormatter{TimestampFormat: DefaultTimestampFormat},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}, nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory '%s': %w", dir, err)
	}
	path := filepath.Join(dir, LogFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
	}
	return f, nil
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// SimpleFormatter writes one compact line per entry:
//
//	2025/04/06 17:30:00.000000 [INF] [survey 1a2b3c4d] Exchange ok phase=polling
//
// The scene and session fields become the bracketed prefix; the session
// is cut to eight characters. Other fields follow the message, sorted.
type SimpleFormatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f *SimpleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	layout := f.TimestampFormat
	if layout == "" {
		layout = DefaultTimestampFormat
	}
	b.WriteString(entry.Time.Format(layout))

	tag, ok := levelTags[entry.Level]
	if !ok {
		tag = "???"
	}
	fmt.Fprintf(b, " [%s] ", tag)

	if prefix := scopePrefix(entry.Data); prefix != "" {
		fmt.Fprintf(b, "[%s] ", prefix)
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == FieldScene || k == FieldSession {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func scopePrefix(data logrus.Fields) string {
	scene, _ := data[FieldScene].(string)
	session, _ := data[FieldSession].(string)
	if len(session) > 8 {
		session = session[:8]
	}
	switch {
	case scene != "" && session != "":
		return scene + " " + session
	case scene != "":
		return scene
	default:
		return session
	}
}
