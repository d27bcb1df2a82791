package agent

import (
	"strings"
	"time"
)

// maxStderrLines bounds the stderr tail kept on a session.
const maxStderrLines = 20

// Decoder turns one stdout line into a structured record.
// Backend implementations satisfy it through Classify.
type Decoder interface {
	Classify(line []byte) (Record, bool)
}

// LineSink receives every output line in emission order, parsed or not.
type LineSink interface {
	WriteLine(stream StreamKind, line string)
}

// LineSinkFunc adapts a function to LineSink.
type LineSinkFunc func(stream StreamKind, line string)

// WriteLine calls f.
func (f LineSinkFunc) WriteLine(stream StreamKind, line string) {
	f(stream, line)
}

// MultiSink fans lines out to several sinks. Nil sinks are skipped.
func MultiSink(sinks ...LineSink) LineSink {
	var active []LineSink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return LineSinkFunc(func(stream StreamKind, line string) {
		for _, s := range active {
			s.WriteLine(stream, line)
		}
	})
}

// Classifier consumes OutputEvents in order and maintains Session state.
type Classifier struct {
	decoder Decoder
	session *Session
	markers MarkerTable
	sink    LineSink
	now     func() time.Time

	partial map[StreamKind]string
	stderr  []string
}

// NewClassifier creates a classifier that updates session.
// A nil markers table uses DefaultMarkers.
func NewClassifier(decoder Decoder, session *Session, markers MarkerTable, sink LineSink) *Classifier {
	if markers == nil {
		markers = DefaultMarkers()
	}
	return &Classifier{
		decoder: decoder,
		session: session,
		markers: markers,
		sink:    sink,
		now:     time.Now,
		partial: make(map[StreamKind]string),
	}
}

// Session returns the session being classified.
func (c *Classifier) Session() *Session {
	return c.session
}

// Observe splits a chunk into newline-delimited lines and processes each
// complete one. An unterminated tail is held until the next chunk or Finish.
func (c *Classifier) Observe(ev OutputEvent) {
	if ev.Done {
		return
	}
	data := c.partial[ev.Stream] + ev.Raw
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		c.line(ev.Stream, strings.TrimSuffix(data[:idx], "\r"))
		data = data[idx+1:]
	}
	c.partial[ev.Stream] = data
}

func (c *Classifier) line(stream StreamKind, line string) {
	if c.sink != nil {
		c.sink.WriteLine(stream, line)
	}

	if stream == Stderr {
		if strings.TrimSpace(line) != "" {
			c.stderr = append(c.stderr, line)
			if len(c.stderr) > maxStderrLines {
				c.stderr = c.stderr[len(c.stderr)-maxStderrLines:]
			}
		}
		return
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	rec, ok := c.decoder.Classify([]byte(trimmed))
	if !ok {
		return
	}
	c.apply(rec)
}

func (c *Classifier) apply(rec Record) {
	s := c.session

	if s.ID == "" && rec.SessionID != "" {
		s.ID = rec.SessionID
	}
	if s.Model == "" && rec.Model != "" {
		s.Model = rec.Model
	}

	switch rec.Kind {
	case RecordMessage:
		s.MessageCount++
		s.ToolUseCount += rec.ToolUses
	case RecordToolUse:
		s.ToolUseCount += max(rec.ToolUses, 1)
	case RecordResult:
		s.CostUSD += rec.CostUSD
	}

	if text := strings.TrimSpace(rec.Text); text != "" {
		s.LastMessage = text
	}
}

// Finish flushes pending partial lines and assigns the terminal state.
// Cancellation wins over the exit code because a killed process exits
// non-zero for reasons unrelated to the agent.
func (c *Classifier) Finish(exitCode int, cancelled bool) *Session {
	for _, stream := range []StreamKind{Stdout, Stderr} {
		if rest := c.partial[stream]; rest != "" {
			c.partial[stream] = ""
			c.line(stream, strings.TrimSuffix(rest, "\r"))
		}
	}

	s := c.session
	s.ExitCode = exitCode
	s.EndTime = c.now()
	s.StderrTail = strings.Join(c.stderr, "\n")
	if s.ID == "" {
		s.ID = s.ResumeOf
	}

	switch {
	case cancelled:
		s.State = StateCancelled
	case exitCode == 0:
		s.State = StateSucceeded
	default:
		s.State = StateFailed
		text := s.LastMessage
		if text == "" {
			text = s.StderrTail
		}
		if m, ok := c.markers.Lookup(text); ok {
			s.State = m.State
			s.Marker = m.Name
		}
		if s.State == StateRateLimited {
			if reset, ok := ParseResetTime(text, s.EndTime); ok {
				s.ResetTime = reset
			}
		}
	}

	return s
}
