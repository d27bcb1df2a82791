package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	// Markers overrides the default marker table.
	Markers MarkerTable

	// Sink receives every output line (e.g. a console renderer).
	Sink LineSink

	// LogsDir, when set, receives the raw stdout lines as NDJSON.
	LogsDir string

	// LogName is included in the log filename.
	LogName string
}

// Execute invokes backend and classifies its output until the process
// exits. Classified failures are reported through Session.State, not the
// error; the error is non-nil only when the process could not be started
// or the log file could not be created.
func Execute(ctx context.Context, backend Backend, req Request, opts ExecuteOptions) (*Session, error) {
	session := NewSession(req)

	sink := opts.Sink
	if opts.LogsDir != "" {
		logSink, err := NewLogSink(opts.LogsDir, opts.LogName, backend.Name())
		if err != nil {
			return nil, err
		}
		defer func() { _ = logSink.Close() }()
		session.RawLogPath = logSink.Path()
		sink = MultiSink(logSink, opts.Sink)
	}

	events, err := backend.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	classifier := NewClassifier(backend, session, opts.Markers, sink)
	exit := -1
	for ev := range events {
		if ev.Done {
			exit = ev.ExitCode
			continue
		}
		classifier.Observe(ev)
	}

	return classifier.Finish(exit, ctx.Err() != nil), nil
}

// LogSink writes stdout lines to an NDJSON file, unchanged.
type LogSink struct {
	path string
	file *os.File
	buf  *bufio.Writer
}

// NewLogSink creates a log file in dir named after the timestamp and name.
func NewLogSink(dir, name, fallback string) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory %s: %w", dir, err)
	}
	if name == "" {
		name = fallback
	}
	path := filepath.Join(dir, generateLogFilename(name))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}
	return &LogSink{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Path returns the log file path.
func (l *LogSink) Path() string {
	return l.path
}

// WriteLine appends stdout lines. Stderr is not part of the NDJSON log.
func (l *LogSink) WriteLine(stream StreamKind, line string) {
	if stream != Stdout {
		return
	}
	_, _ = l.buf.WriteString(line)
	_ = l.buf.WriteByte('\n')
	_ = l.buf.Flush()
}

// Close flushes and closes the file.
func (l *LogSink) Close() error {
	_ = l.buf.Flush()
	return l.file.Close()
}

var invalidFilenameChars = regexp.MustCompile(`[/\\:*?"<>|\s]`)

// generateLogFilename creates a unique log filename with timestamp and name.
func generateLogFilename(name string) string {
	timestamp := time.Now().Format("20060102-150405.000")
	safe := invalidFilenameChars.ReplaceAllString(name, "-")
	return fmt.Sprintf("%s-%s.ndjson", timestamp, safe)
}
