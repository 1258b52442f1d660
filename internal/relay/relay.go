// ABOUTME: Relay process wiring: gRPC server, auth interceptors, session registry and dedupe
// ABOUTME: Run serves until the context ends, then stops gracefully

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/agent-runtime/internal/auth"
	"github.com/2389/agent-runtime/internal/dedupe"
)

// ErrAuthDisabled is returned by IssueToken when no JWT secret is configured.
var ErrAuthDisabled = errors.New("relay authentication is disabled")

// Config configures a Relay.
type Config struct {
	// JWTSecret enables stream authentication when set.
	JWTSecret  string
	DedupeTTL  time.Duration
	DedupeSize int
}

// Relay is a running relay service.
type Relay struct {
	grpcServer *grpc.Server
	sessions   *SessionManager
	seen       *dedupe.Cache
	verifier   *auth.JWTVerifier
	logger     *slog.Logger
}

// New builds a relay. metrics may be nil.
func New(cfg Config, metrics Metrics, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.DedupeSize
	if size <= 0 {
		size = 10000
	}

	r := &Relay{
		sessions: NewSessionManager(logger),
		seen:     dedupe.New(ttl, size),
		logger:   logger,
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
		if err != nil {
			r.seen.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		r.verifier = verifier
		opts = append(opts, grpc.ChainStreamInterceptor(auth.StreamInterceptor(verifier, logger)))
		logger.Info("auth interceptor enabled (JWT)")
	} else {
		opts = append(opts, grpc.ChainStreamInterceptor(auth.NoAuthStreamInterceptor()))
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	r.grpcServer = grpc.NewServer(opts...)
	Register(r.grpcServer, NewServer(r.sessions, r.seen, metrics, logger))
	return r, nil
}

// Sessions returns the session registry.
func (r *Relay) Sessions() *SessionManager { return r.sessions }

// IssueToken mints a token letting its bearer register as address.
func (r *Relay) IssueToken(address string, ttl time.Duration) (string, error) {
	if r.verifier == nil {
		return "", ErrAuthDisabled
	}
	return r.verifier.Generate(address, ttl)
}

// Serve accepts streams on lis until Stop or Shutdown.
func (r *Relay) Serve(lis net.Listener) error {
	r.logger.Info("relay listening", "addr", lis.Addr().String())
	if err := r.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Run listens on addr and serves until ctx ends.
func (r *Relay) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(lis) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// The run context is already done; shut down on a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Shutdown(shutdownCtx)
	return serveErr
}

// Shutdown stops accepting streams and waits for open ones until ctx ends,
// then closes them forcibly.
func (r *Relay) Shutdown(ctx context.Context) {
	r.logger.Info("shutting down relay")
	done := make(chan struct{})
	go func() {
		r.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("graceful stop timed out, forcing")
		r.grpcServer.Stop()
		<-done
	}
	r.seen.Close()
}
