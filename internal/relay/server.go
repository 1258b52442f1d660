// ABOUTME: Relay stream handler: registers clients and forwards envelope frames
// ABOUTME: Drops duplicate frame ids and answers undeliverable envelopes with error frames

package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/agent-runtime/internal/auth"
	"github.com/2389/agent-runtime/internal/dedupe"
)

// Metrics receives relay counters. *metrics.Collector implements it.
type Metrics interface {
	RelaySessions(n int)
	RelayFrame(kind, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RelaySessions(int)         {}
func (noopMetrics) RelayFrame(string, string) {}

// Server implements StreamHandler.
type Server struct {
	sessions *SessionManager
	seen     *dedupe.Cache
	metrics  Metrics
	logger   *slog.Logger
}

// NewServer creates a stream handler. seen may be nil to disable duplicate
// detection; metrics may be nil.
func NewServer(sessions *SessionManager, seen *dedupe.Cache, metrics Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Server{
		sessions: sessions,
		seen:     seen,
		metrics:  metrics,
		logger:   logger,
	}
}

// Connect handles one client stream.
// Protocol flow:
// 1. Client sends a register frame naming its address
// 2. Server responds with a welcome frame carrying the session id
// 3. Client and server exchange envelope frames; the server answers
// frames it cannot deliver with error frames
func (s *Server) Connect(stream FrameStream) error {
	first, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return status.Errorf(codes.Internal, "receiving first frame: %v", err)
	}

	if first.Kind != FrameRegister {
		return status.Error(codes.InvalidArgument, "first frame must be register")
	}
	if first.Address == "" {
		return status.Error(codes.InvalidArgument, "address is required")
	}

	authCtx := auth.FromContext(stream.Context())
	if authCtx == nil || !authCtx.Permits(first.Address) {
		s.logger.Warn("registration refused", "address", first.Address)
		return status.Errorf(codes.PermissionDenied, "token does not permit address %s", first.Address)
	}

	sess := NewSession(uuid.New().String(), first.Address, stream,
		s.logger.With("address", first.Address))
	if err := s.sessions.Register(sess); err != nil {
		if errors.Is(err, ErrSessionAlreadyRegistered) {
			return status.Errorf(codes.AlreadyExists, "session %s already registered", sess.ID)
		}
		return status.Errorf(codes.Internal, "registering session: %v", err)
	}
	s.metrics.RelaySessions(s.sessions.Len())
	defer func() {
		s.sessions.Unregister(sess.ID)
		s.metrics.RelaySessions(s.sessions.Len())
	}()

	if err := sess.Send(&Frame{Kind: FrameWelcome, ID: sess.ID, Address: sess.Address}); err != nil {
		return status.Errorf(codes.Internal, "sending welcome: %v", err)
	}

	for {
		f, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client disconnected (EOF)", "address", sess.Address, "session_id", sess.ID)
				return nil
			}
			if status.Code(err) == codes.Canceled {
				s.logger.Info("client stream cancelled", "address", sess.Address, "session_id", sess.ID)
				return nil
			}
			s.logger.Error("receiving frame", "error", err, "address", sess.Address)
			return status.Errorf(codes.Internal, "receiving frame: %v", err)
		}

		switch f.Kind {
		case FrameEnvelope:
			s.forward(sess, f)
		case FrameRegister:
			s.logger.Warn("received duplicate registration", "address", sess.Address)
			s.metrics.RelayFrame(f.Kind.String(), "ignored")
		default:
			s.logger.Warn("received unexpected frame", "kind", f.Kind, "address", sess.Address)
			s.metrics.RelayFrame(f.Kind.String(), "ignored")
		}
	}
}

func (s *Server) forward(from *Session, f *Frame) {
	kind := f.Kind.String()

	if f.Envelope == nil {
		s.reject(from, f, "envelope frame without envelope")
		s.metrics.RelayFrame(kind, "malformed")
		return
	}
	if f.ID != "" && s.seen != nil && s.seen.Observe(f.ID) {
		s.logger.Debug("dropping duplicate frame", "frame_id", f.ID, "address", from.Address)
		s.metrics.RelayFrame(kind, "duplicate")
		return
	}

	env := f.Envelope
	if env.Sender() != from.Address {
		s.reject(from, f, fmt.Sprintf("sender %s does not match session address %s", env.Sender(), from.Address))
		s.metrics.RelayFrame(kind, "spoofed")
		return
	}

	target, err := s.sessions.Select(env.To())
	if err != nil {
		s.reject(from, f, fmt.Sprintf("%v: %s", err, env.To()))
		s.metrics.RelayFrame(kind, "undeliverable")
		return
	}

	if err := target.Send(&Frame{Kind: FrameEnvelope, ID: f.ID, Envelope: env}); err != nil {
		s.logger.Warn("delivery failed", "to", env.To(), "session_id", target.ID, "error", err)
		s.reject(from, f, "delivery failed: "+err.Error())
		s.metrics.RelayFrame(kind, "failed")
		return
	}
	s.metrics.RelayFrame(kind, "delivered")
}

func (s *Server) reject(to *Session, f *Frame, reason string) {
	s.logger.Debug("rejecting frame", "frame_id", f.ID, "reason", reason)
	errFrame := &Frame{Kind: FrameError, ID: f.ID, Envelope: f.Envelope, Error: reason}
	if err := to.Send(errFrame); err != nil {
		s.logger.Warn("sending error frame", "address", to.Address, "error", err)
	}
}

var _ StreamHandler = (*Server)(nil)
