// ABOUTME: Interactive CLI that talks to a running agent over the file transport
// ABOUTME: Each input line is sent as a default-protocol bytes message; replies are printed as they arrive

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/logging"
	"github.com/2389/agent-runtime/internal/mux"
	"github.com/2389/agent-runtime/internal/protocol"
	"github.com/2389/agent-runtime/internal/transport/stub"
)

func main() {
	to := flag.String("to", "", "Address of the agent to talk to")
	self := flag.String("as", "interact", "Address to send from")
	namespace := flag.String("namespace", "", "Stub namespace directory shared with the agent")
	agentIn := flag.String("agent-in", "", "Agent input file (direct mode)")
	agentOut := flag.String("agent-out", "", "Agent output file (direct mode)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *to == "" {
		fmt.Fprintln(os.Stderr, "Error: -to is required")
		os.Exit(1)
	}

	// The agent's output is our input and the other way round.
	opts := stub.Options{Namespace: *namespace, Address: *self, InputFile: *agentOut, OutputFile: *agentIn}
	logger := logging.New(*logLevel, "text", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, *to, os.Stdin, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// syncWriter serialises writes from the input and inbox goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// session holds the interactive side of the conversation.
type session struct {
	self string
	to   string
	out  io.Writer

	mu        sync.Mutex
	dialogues *dialogue.Dialogues
	outbox    *mux.Outbox
}

func run(ctx context.Context, opts stub.Options, to string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := stub.New("interact", opts, logger)
	if err != nil {
		return err
	}
	mx, err := mux.New(mux.Params{Connections: []connection.Connection{conn}, Logger: logger})
	if err != nil {
		return err
	}
	if err := mx.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = mx.Disconnect(context.Background()) }()

	s := &session{
		self:      opts.Address,
		to:        to,
		out:       &syncWriter{w: out},
		dialogues: dialogue.New(opts.Address, protocol.DefaultSpec, dialogue.WithLogger(logger)),
		outbox:    mx.Outbox(),
	}

	fmt.Fprintf(s.out, "talking to %s as %s\n", to, opts.Address)
	fmt.Fprintln(s.out, "Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(s.out)

	go s.printIncoming(ctx, mx.Inbox())
	return s.readLoop(ctx, in)
}

func (s *session) readLoop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/exit" || input == "/q":
			return nil
		case input == "/help":
			printHelp(s.out)
			continue
		case input == "/stats":
			s.mu.Lock()
			st := s.dialogues.Stats()
			s.mu.Unlock()
			fmt.Fprintf(s.out, "dialogues: %d started, %d answered to, %d ended\n",
				st.SelfInitiated, st.OtherInitiated, totalEnded(st))
			continue
		}

		if err := s.send(input); err != nil {
			color.New(color.FgRed).Fprintf(s.out, "[error] %v\n", err)
		}
	}
}

// send starts a new dialogue carrying text.
func (s *session) send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := s.dialogues.NewSelfInitiatedDialogueReference()
	m := protocol.NewBytesMessage(ref, protocol.StartingMessageID, protocol.StartingTarget, []byte(text))
	m.Sender = s.self
	m.To = s.to
	if _, err := s.dialogues.Update(m); err != nil {
		return err
	}
	return s.outbox.PutMessage(protocol.DefaultProtocolID, m)
}

func (s *session) printIncoming(ctx context.Context, inbox *mux.Inbox) {
	for {
		env, err := inbox.GetContext(ctx)
		if err != nil {
			return
		}
		if env.ProtocolID() == protocol.DefaultProtocolID {
			if m, err := protocol.FromEnvelope(env); err == nil {
				s.mu.Lock()
				_, _ = s.dialogues.Update(m)
				s.mu.Unlock()
			}
		}
		fmt.Fprintln(s.out, describe(env))
	}
}

// describe renders an incoming envelope as one line.
func describe(env *envelope.Envelope) string {
	from := color.CyanString(env.Sender())
	m, err := protocol.FromEnvelope(env)
	if err != nil {
		return fmt.Sprintf("%s %s %s", from, color.YellowString("[%s]", env.ProtocolID()), color.HiBlackString("%d undecodable bytes", len(env.Message())))
	}

	switch {
	case env.ProtocolID() == protocol.DefaultProtocolID && m.Performative == protocol.PerformativeBytes:
		content, err := m.Bytes("content")
		if err != nil {
			return fmt.Sprintf("%s %s", from, color.RedString("bad content: %v", err))
		}
		return fmt.Sprintf("%s: %s", from, content)
	case env.ProtocolID() == protocol.DefaultProtocolID && m.Performative == protocol.PerformativeError:
		return fmt.Sprintf("%s %s %s", from, color.RedString("error %s:", protocol.ErrorCodeOf(m)), m.Text("error_msg"))
	default:
		return fmt.Sprintf("%s %s %s", from, color.YellowString("[%s]", env.ProtocolID()), m.Performative)
	}
}

func totalEnded(st dialogue.Stats) int {
	n := 0
	for _, c := range st.Ended {
		n += c
	}
	return n
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /stats   Show dialogue counts")
	fmt.Fprintln(out, "  /help    Show this help")
	fmt.Fprintln(out, "  /quit    Exit")
	fmt.Fprintln(out, "Anything else is sent to the agent.")
}
