package swarm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Message is one unit of work or result passed between the coordinator and
// a swarm agent.
type Message struct {
	TaskID  uuid.UUID
	Payload interface{}
}

// IntentTransport moves typed Messages to and from swarm agents. The swarm
// coordinator never sees raw bytes: per-connection reliability, ordering,
// and authentication are assumed handled beneath this interface.
type IntentTransport interface {
	Send(ctx context.Context, agentID uuid.UUID, msg Message) error
	Receive(ctx context.Context) (uuid.UUID, Message, error)
}

type inboundMsg struct {
	agentID uuid.UUID
	msg     Message
}

// ChannelTransport is an in-memory IntentTransport for tests and
// single-process deployments, where "sending" to an agent is simply
// pushing onto a shared channel read by that agent's in-process handler.
type ChannelTransport struct {
	inbound chan inboundMsg
}

// NewChannelTransport returns a ChannelTransport with the given inbound
// buffer size.
func NewChannelTransport(buffer int) *ChannelTransport {
	return &ChannelTransport{inbound: make(chan inboundMsg, buffer)}
}

// Send enqueues msg as having come from agentID, for a later Receive to
// pick up. In-process transports are symmetric: there is no distinct
// agent-side socket, so Send doubles as "agent replies with msg".
func (t *ChannelTransport) Send(ctx context.Context, agentID uuid.UUID, msg Message) error {
	select {
	case t.inbound <- inboundMsg{agentID: agentID, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available or ctx is done.
func (t *ChannelTransport) Receive(ctx context.Context) (uuid.UUID, Message, error) {
	select {
	case m := <-t.inbound:
		return m.agentID, m.msg, nil
	case <-ctx.Done():
		return uuid.Nil, Message{}, fmt.Errorf("swarm: receive cancelled: %w", ctx.Err())
	}
}
