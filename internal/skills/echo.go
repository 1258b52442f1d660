// ABOUTME: Echo skill: answers every default-protocol bytes message with its content
// ABOUTME: Replies stay in the incoming dialogue, so the exchange can go on indefinitely

package skills

import (
	"context"

	"github.com/2389/agent-runtime/internal/agent"
	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/protocol"
)

// EchoSkill is the registry name of the echo skill.
const EchoSkill = "echo"

// Echo builds the echo skill. Config keys: prefix (prepended to every reply)
// and connection (reply route; when empty, replies leave through the
// connection the message arrived on).
func Echo(a *agent.Agent, cfg connection.Config) (*Skill, error) {
	actx := a.Context()
	prefix := []byte(cfg.String("prefix", ""))
	route := cfg.String("connection", "")
	logger := actx.Logger().With("skill", EchoSkill)

	h := agent.NewDialogueHandler(actx, protocol.DefaultSpec, agent.PerformativeTable{
		protocol.PerformativeBytes: func(ctx context.Context, d *dialogue.Dialogue, m *protocol.Message) error {
			content, err := m.Bytes("content")
			if err != nil {
				return err
			}
			out := make([]byte, 0, len(prefix)+len(content))
			out = append(append(out, prefix...), content...)
			reply := d.Reply(protocol.PerformativeBytes).SetBytes("content", out)
			via := route
			if via == "" {
				via = agent.InboundConnection(ctx)
			}
			return actx.SendVia(via, protocol.DefaultProtocolID, reply)
		},
		protocol.PerformativeError: func(_ context.Context, _ *dialogue.Dialogue, m *protocol.Message) error {
			logger.Warn("peer reported an error",
				"sender", m.Sender,
				"error_code", protocol.ErrorCodeOf(m),
				"error", m.Text("error_msg"),
			)
			return nil
		},
	})

	return &Skill{Name: EchoSkill, Handlers: []agent.Handler{h}}, nil
}
