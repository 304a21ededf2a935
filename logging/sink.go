package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Sink consumes emitted records. Accept takes ownership of the record and
// must not block the emitting caller indefinitely; batching, rotation and
// remote shipping are the sink's concern.
type Sink interface {
	Accept(Record) error
}

// WriterSink writes one JSON object per record to an io.Writer,
// newline-delimited. Writes are mutex-serialized so records emitted within
// one request scope appear in program order.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps an arbitrary writer (test buffers, files).
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewStdoutSink is the default sink: canonical NDJSON on standard output.
func NewStdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout)
}

func (s *WriterSink) Accept(r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	b = append(b, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ZapSink forwards records into a zap logger, multiplexing the record
// stream into whatever pipeline (rotation, shipping) the embedder built
// around zap.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Accept(r Record) error {
	fields := make([]zap.Field, 0, 3)
	if r.Context != "" {
		fields = append(fields, zap.String("context", r.Context))
	}
	if r.Trace != "" {
		fields = append(fields, zap.String("trace", r.Trace))
	}
	if len(r.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", r.Metadata))
	}
	if ce := s.log.Check(r.Level.zapLevel(), r.Message); ce != nil {
		ce.Time = r.Timestamp
		ce.Write(fields...)
	}
	return nil
}

// MultiSink fans a record out to several sinks. The first error is
// returned after all sinks ran; one failing sink does not starve the rest.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Accept(r Record) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Accept(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
