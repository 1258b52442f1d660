// ABOUTME: A single client registered with the relay and its frame stream
// ABOUTME: Serializes sends since a gRPC stream allows only one concurrent sender

package relay

import (
	"log/slog"
	"sync"
	"time"
)

// Session is one connected relay client.
type Session struct {
	ID          string
	Address     string
	ConnectedAt time.Time

	stream FrameStream
	sendMu sync.Mutex
	logger *slog.Logger
}

// NewSession creates a session for a registered client.
func NewSession(id, address string, stream FrameStream, logger *slog.Logger) *Session {
	return &Session{
		ID:          id,
		Address:     address,
		ConnectedAt: time.Now().UTC(),
		stream:      stream,
		logger:      logger,
	}
}

// Send transmits a frame to the client.
func (s *Session) Send(f *Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(f)
}
