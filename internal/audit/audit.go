// Package audit is the append-only message history. Every validated inbound
// and outbound JSON-RPC frame is recorded before the corresponding state
// mutation commits, so a crash can leave an extra audited attempt but never
// fewer attempts than commits.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction marks which way a frame travelled relative to this process.
type Direction string

const (
	DirRequest  Direction = "request"
	DirResponse Direction = "response"
)

// Record is one audit line. Message holds the full JSON-RPC frame with
// auth_token values redacted.
type Record struct {
	LogID          string          `json:"log_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Direction      Direction       `json:"direction"`
	Source         string          `json:"source"`
	Destination    string          `json:"destination"`
	ConversationID string          `json:"conversation_id"`
	Message        json.RawMessage `json:"message"`
}

// Sink accepts audit records. Append must not block on downstream I/O longer
// than a local disk write; failures are the sink's to log, never the caller's
// to handle.
type Sink interface {
	Append(rec Record)
	Close() error
}

// NewRecord stamps a record with a fresh log id, current UTC time, and the
// redacted frame.
func NewRecord(dir Direction, source, destination, conversationID string, frame []byte) Record {
	return Record{
		LogID:          uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Direction:      dir,
		Source:         source,
		Destination:    destination,
		ConversationID: conversationID,
		Message:        Redact(frame),
	}
}

// Redact replaces every "auth_token" string value in the frame with
// "[REDACTED]". Unparseable bytes are wrapped as a raw string so the audit
// still captures them.
func Redact(frame []byte) json.RawMessage {
	var v interface{}
	if err := json.Unmarshal(frame, &v); err != nil {
		quoted, _ := json.Marshal(string(frame))
		return quoted
	}
	redactValue(v)
	out, err := json.Marshal(v)
	if err != nil {
		quoted, _ := json.Marshal(string(frame))
		return quoted
	}
	return out
}

func redactValue(v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if k == "auth_token" {
				if _, ok := child.(string); ok {
					t[k] = "[REDACTED]"
					continue
				}
			}
			redactValue(child)
		}
	case []interface{}:
		for _, child := range t {
			redactValue(child)
		}
	}
}

// FileSink appends one JSON record per line to a local file. Writes are
// ordered per process by the mutex; a global total order is not required.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewFileSink opens (or creates) the audit file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Append(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(line)
	s.w.WriteByte('\n')
	// Flush per record: the log-before-commit guarantee needs the line on
	// disk before the state mutation proceeds.
	s.w.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

// MultiSink fans records out to several sinks.
type MultiSink []Sink

func (m MultiSink) Append(rec Record) {
	for _, s := range m {
		s.Append(rec)
	}
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards records; used by processes that opt out of auditing and by
// tests.
type Nop struct{}

func (Nop) Append(Record) {}
func (Nop) Close() error  { return nil }
