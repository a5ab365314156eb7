package apperr

import (
	"sync"

	"github.com/pompierapp/firequiz/log"
)

// journalCapacity bounds the in-memory error history. Oldest entries are
// evicted first.
const journalCapacity = 100

// Sink receives normalized errors above the journal's severity threshold.
// The production sink forwards to the external telemetry service.
type Sink interface {
	Send(e *Error)
}

// LogSink writes errors to the process log. Default when no telemetry sink
// is wired, and the only sink outside production builds.
type LogSink struct{}

func (LogSink) Send(e *Error) {
	log.Errorf("[%s/%s] %s", e.Kind, e.Severity, e.Error())
}

// Journal is the bounded ring buffer of recent normalized errors.
type Journal struct {
	mu      sync.Mutex
	entries []*Error
	start   int
	size    int

	sink        Sink
	minSeverity Severity
}

// NewJournal builds a journal forwarding entries at or above minSeverity to
// sink. A nil sink falls back to LogSink.
func NewJournal(sink Sink, minSeverity Severity) *Journal {
	if sink == nil {
		sink = LogSink{}
	}
	return &Journal{
		entries:     make([]*Error, journalCapacity),
		sink:        sink,
		minSeverity: minSeverity,
	}
}

// Report normalizes v, records it and forwards it when loud enough. The
// normalized error is returned so callers can surface UserMessage.
func (j *Journal) Report(v interface{}) *Error {
	e := Classify(v)

	errorsTotal.WithLabelValues(e.Kind.String()).Inc()
	log.Debugf("error recorded [%s/%s]: %v", e.Kind, e.Severity, e.Err)

	j.mu.Lock()
	idx := (j.start + j.size) % len(j.entries)
	if j.size == len(j.entries) {
		// full: overwrite the oldest
		j.start = (j.start + 1) % len(j.entries)
	} else {
		j.size++
	}
	j.entries[idx] = e
	j.mu.Unlock()

	if e.Severity >= j.minSeverity {
		j.sink.Send(e)
	}

	return e
}

// Recent returns the journal content, oldest first.
func (j *Journal) Recent() []*Error {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]*Error, 0, j.size)
	for i := 0; i < j.size; i++ {
		out = append(out, j.entries[(j.start+i)%len(j.entries)])
	}
	return out
}

// Len reports how many errors are currently retained.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}
