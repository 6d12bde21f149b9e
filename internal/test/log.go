package test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/go-logr/logr"
)

// LogEntry is one message written through a TestLogSink.
type LogEntry struct {
	Level  int
	Name   string
	Msg    string
	Err    error
	Values []interface{}
}

// TestLogSink prints through a testing.T object and keeps the entries so that tests can
// assert on what was logged. Copies made by WithName and WithValues share the entries.
type TestLogSink struct {
	T      *testing.T
	name   string
	values []interface{}

	mu      *sync.Mutex
	entries *[]LogEntry
}

var _ logr.LogSink = &TestLogSink{}

// NewTestLogger returns a logger at full verbosity and its sink.
func NewTestLogger(t *testing.T) (logr.Logger, *TestLogSink) {
	sink := &TestLogSink{T: t, mu: &sync.Mutex{}, entries: &[]LogEntry{}}
	return logr.New(sink), sink
}

func (s *TestLogSink) Init(logr.RuntimeInfo) {}

func (s *TestLogSink) Enabled(int) bool {
	return true
}

func (s *TestLogSink) Info(level int, msg string, args ...interface{}) {
	values := append(append([]interface{}{}, s.values...), args...)
	s.T.Logf("log.V(%d).WithName(%q).Info: %s -- %v", level, s.name, msg, values)
	s.add(LogEntry{Level: level, Name: s.name, Msg: msg, Values: values})
}

func (s *TestLogSink) Error(err error, msg string, args ...interface{}) {
	values := append(append([]interface{}{}, s.values...), args...)
	s.T.Logf("log.WithName(%q).Error: %s: %v -- %v", s.name, msg, err, values)
	s.add(LogEntry{Name: s.name, Msg: msg, Err: err, Values: values})
}

func (s *TestLogSink) WithName(name string) logr.LogSink {
	c := *s
	if c.name != "" {
		name = fmt.Sprintf("%s.%s", c.name, name)
	}
	c.name = name
	return &c
}

func (s *TestLogSink) WithValues(values ...interface{}) logr.LogSink {
	c := *s
	c.values = append(append([]interface{}{}, s.values...), values...)
	return &c
}

func (s *TestLogSink) add(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.entries = append(*s.entries, e)
}

// Messages returns the messages logged so far, in order.
func (s *TestLogSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	for _, e := range *s.entries {
		msgs = append(msgs, e.Msg)
	}
	return msgs
}
