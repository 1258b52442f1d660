// ABOUTME: File transport: envelopes are length-delimited frames appended to plain files
// ABOUTME: Tails the input file with fsnotify, with a poll fallback for filesystems without events

package stub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
)

// TypeName is the connection type this package registers.
const TypeName = "stub"

// DefaultPollInterval is how often the input file is re-read without a write event.
const DefaultPollInterval = 250 * time.Millisecond

// ErrBadAddress is returned when an address cannot name a file.
var ErrBadAddress = errors.New("address cannot be used as a file name")

// Options configures a Connection. Either Namespace or both InputFile and
// OutputFile must be set.
type Options struct {
	// Namespace is a rendezvous directory. The connection reads
	// <Namespace>/<Address>.in and delivers to <Namespace>/<to>.in.
	Namespace string
	Address   string

	// InputFile and OutputFile select direct mode: read one file, append every
	// outgoing envelope to the other.
	InputFile  string
	OutputFile string

	PollInterval time.Duration
}

// Connection exchanges envelopes through files.
type Connection struct {
	connection.Base

	namespace    string
	inputPath    string
	outputPath   string
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	input   *os.File
	watcher *fsnotify.Watcher
	in      chan *envelope.Envelope
	done    chan struct{}
	wg      sync.WaitGroup

	writeMu sync.Mutex
}

// New creates a file connection.
func New(id string, opts Options, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		Base:         connection.NewBase(id),
		pollInterval: opts.PollInterval,
		logger:       logger.With("component", "stub_connection"),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}

	switch {
	case opts.Namespace != "":
		if err := checkAddress(opts.Address); err != nil {
			return nil, err
		}
		ns, err := filepath.Abs(opts.Namespace)
		if err != nil {
			return nil, fmt.Errorf("resolving namespace: %w", err)
		}
		c.namespace = ns
		c.inputPath = filepath.Join(ns, opts.Address+".in")
		c.outputPath = filepath.Join(ns, opts.Address+".out")
	case opts.InputFile != "" && opts.OutputFile != "":
		c.inputPath = opts.InputFile
		c.outputPath = opts.OutputFile
	default:
		return nil, fmt.Errorf("%w: namespace_dir or input_file and output_file are required", connection.ErrBadConfig)
	}
	return c, nil
}

func checkAddress(address string) error {
	if address == "" || address == "." || address == ".." || strings.ContainsAny(address, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadAddress, address)
	}
	return nil
}

// InputPath returns the file this connection reads.
func (c *Connection) InputPath() string { return c.inputPath }

// OutputPath returns the file this connection appends to in direct mode.
func (c *Connection) OutputPath() string { return c.outputPath }

// Connect creates the files and starts tailing the input file. Frames
// already present in the input file are delivered.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status().IsConnected() {
		return nil
	}

	for _, p := range []string{c.inputPath, c.outputPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return connection.NewTransportError(c.ID(), "connect", err)
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return connection.NewTransportError(c.ID(), "connect", err)
		}
		f.Close()
	}

	input, err := os.Open(c.inputPath)
	if err != nil {
		return connection.NewTransportError(c.ID(), "connect", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		input.Close()
		return connection.NewTransportError(c.ID(), "connect", fmt.Errorf("creating watcher: %w", err))
	}
	if err := watcher.Add(c.inputPath); err != nil {
		watcher.Close()
		input.Close()
		return connection.NewTransportError(c.ID(), "connect", fmt.Errorf("watching %s: %w", c.inputPath, err))
	}

	c.input = input
	c.watcher = watcher
	c.in = make(chan *envelope.Envelope, 64)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.tail(input, watcher, c.in, c.done)

	c.Status().SetConnected(true)
	c.logger.Info("stub connection up", "input", c.inputPath, "output", c.outputPath)
	return nil
}

// tail delivers every complete frame appended to the input file.
func (c *Connection) tail(f *os.File, w *fsnotify.Watcher, out chan<- *envelope.Envelope, done <-chan struct{}) {
	defer c.wg.Done()

	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()

	var buf []byte
	read := func() bool {
		data, err := io.ReadAll(f)
		if err != nil {
			c.logger.Error("reading input file", "error", err)
			return true
		}
		if len(data) == 0 {
			return true
		}
		buf = append(buf, data...)
		for len(buf) > 0 {
			envs, consumed, err := envelope.SplitFrames(buf)
			for _, env := range envs {
				select {
				case out <- env:
				case <-done:
					return false
				}
			}
			buf = buf[consumed:]
			if err == nil {
				break
			}
			c.logger.Warn("skipping malformed frame", "error", err)
			if consumed == 0 {
				// Unrecoverable framing: drop what we have and resync on the next write.
				buf = nil
			}
		}
		return true
	}

	if !read() {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) && !read() {
				return
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watcher error", "error", err)
		case <-poll.C:
			if !read() {
				return
			}
		}
	}
}

// Disconnect stops tailing. In namespace mode the connection's files are
// removed, and the namespace directory too once it is empty.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return nil
	}

	c.Status().SetConnected(false)
	close(c.done)
	err := c.watcher.Close()
	c.wg.Wait()
	c.input.Close()
	c.done = nil

	if c.namespace != "" {
		for _, p := range []string{c.inputPath, c.outputPath} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				c.logger.Warn("removing file", "path", p, "error", rmErr)
			}
		}
		_ = os.Remove(c.namespace)
	}
	c.logger.Info("stub connection down")
	if err != nil {
		return connection.NewTransportError(c.ID(), "disconnect", err)
	}
	return nil
}

// Send appends env to the recipient's input file in namespace mode, or to
// the output file in direct mode.
func (c *Connection) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := c.RequireConnected("send"); err != nil {
		return err
	}

	target := c.outputPath
	if c.namespace != "" {
		if err := checkAddress(env.To()); err != nil {
			return connection.NewTransportError(c.ID(), "send", err)
		}
		target = filepath.Join(c.namespace, env.To()+".in")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}
	if err := envelope.WriteFrame(f, env); err != nil {
		f.Close()
		return connection.NewTransportError(c.ID(), "send", err)
	}
	if err := f.Close(); err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}
	return nil
}

// Receive waits for the next envelope read from the input file.
func (c *Connection) Receive(ctx context.Context) (*envelope.Envelope, error) {
	c.mu.Lock()
	in, done := c.in, c.done
	c.mu.Unlock()
	if done == nil {
		return nil, connection.ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, connection.ErrClosed
	case env := <-in:
		return env, nil
	}
}

// Register adds the "stub" connection type to r.
//
// Config keys: namespace_dir, or input_file and output_file; poll_interval.
func Register(r *connection.Registry) error {
	return r.Register(TypeName, func(id string, identity connection.Identity, cfg connection.Config, logger *slog.Logger) (connection.Connection, error) {
		poll, err := cfg.Duration("poll_interval", DefaultPollInterval)
		if err != nil {
			return nil, err
		}
		return New(id, Options{
			Namespace:    cfg.String("namespace_dir", ""),
			Address:      cfg.String("address", identity.Address),
			InputFile:    cfg.String("input_file", ""),
			OutputFile:   cfg.String("output_file", ""),
			PollInterval: poll,
		}, logger)
	})
}
