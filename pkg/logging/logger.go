package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Fields are structured key/value pairs attached to a log line
type Fields = map[string]interface{}

// earlyLimit caps how much console output is kept for replay into the
// detail file.
const earlyLimit = 64 << 10

// sink is shared by a logger and every logger derived from it with WithField,
// so attaching the detail file once redirects all of them. Lines written
// before the first attach are kept and replayed into the file.
type sink struct {
	mu       sync.Mutex
	console  io.Writer
	file     *os.File
	early    bytes.Buffer
	attached bool
	json     bool
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.console.Write(p)
	if s.file != nil {
		s.file.Write(p)
	} else if !s.attached && s.early.Len()+len(p) <= earlyLimit {
		s.early.Write(p)
	}
	return n, err
}

// Logger provides structured logging to the console and, once attached, to
// the detailed job log file.
type Logger struct {
	entry *logrus.Entry
	sink  *sink
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return New(os.Stdout, level, jsonFormat)
}

// New creates a logger writing to out
func New(out io.Writer, level Level, jsonFormat bool) *Logger {
	s := &sink{console: out, json: jsonFormat}

	base := logrus.New()
	base.SetOutput(s)
	base.SetLevel(level.logrusLevel())
	if jsonFormat {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		base.SetFormatter(&lineFormatter{})
	}

	return &Logger{
		entry: logrus.NewEntry(base),
		sink:  s,
	}
}

// DetailLogPath returns <dir>/<name>_<jobID>_<YYYYmmdd_HHMMSS>.log
func DetailLogPath(dir, name, jobID string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", name, jobID, now.Format("20060102_150405")))
}

// AttachFile tees all further output into path (created or appended).
// Output logged before the first attach is written to the file first.
// The directory must already exist.
func (l *Logger) AttachFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l.sink.mu.Lock()
	if l.sink.file != nil {
		l.sink.file.Close()
	}
	if l.sink.early.Len() > 0 {
		f.Write(l.sink.early.Bytes())
	}
	l.sink.early = bytes.Buffer{}
	l.sink.attached = true
	l.sink.file = f
	l.sink.mu.Unlock()

	l.Info(fmt.Sprintf("Log detail ditulis ke %s", path))
	return nil
}

// FilePath returns the attached detail file, or "" when none is attached
func (l *Logger) FilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return ""
	}
	return l.sink.file.Name()
}

// Writer returns the current output, for callers that render tables.
// Only meaningful in text mode; see JSON.
func (l *Logger) Writer() io.Writer {
	return l.sink
}

// JSON reports whether entries are emitted as JSON objects, one per line
func (l *Logger) JSON() bool {
	return l.sink.json
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.with(fields).Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.with(fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.with(fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.with(fields).Error(message)
}

func (l *Logger) with(fields []map[string]interface{}) *logrus.Entry {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return l.entry
	}
	return l.entry.WithFields(logrus.Fields(fields[0]))
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		entry: l.entry.WithField(key, value),
		sink:  l.sink,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Close closes the detail file if one is attached
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// lineFormatter renders "2006-01-02 15:04:05 [LEVEL] message k=v"
type lineFormatter struct{}

func (f *lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, " [%s] %s", strings.ToUpper(e.Level.String()), e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
