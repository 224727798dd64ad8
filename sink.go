package kyusub

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives the text of every accepted, non-sentinel message in
// delivery order.
type Sink interface {
	Emit(text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string) error

// Emit calls f(text).
func (f SinkFunc) Emit(text string) error {
	return f(text)
}

// WriterSink writes one "Received = <body>" line per message.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a Sink that writes to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit writes text to the underlying writer.
func (s *WriterSink) Emit(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "Received = %s\n", text)
	return err
}
