package fsm

import (
	"bytes"
	"io"
)

// memorySink is a minimal in-memory raft.SnapshotSink for exercising
// FSMSnapshot.Persist/Release without a real raft transport.
type memorySink struct {
	buf bytes.Buffer
}

func newMemorySink() *memorySink { return &memorySink{} }

func (s *memorySink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memorySink) Close() error                { return nil }
func (s *memorySink) ID() string                  { return "test-snapshot" }
func (s *memorySink) Cancel() error                { return nil }

func (s *memorySink) readCloser() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
