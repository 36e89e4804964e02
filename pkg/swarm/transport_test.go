package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestChannelTransportSendReceiveRoundTrip(t *testing.T) {
	transport := NewChannelTransport(1)
	ctx := context.Background()
	agentID := uuid.New()
	taskID := uuid.New()

	if err := transport.Send(ctx, agentID, Message{TaskID: taskID, Payload: "result"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	gotAgent, gotMsg, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if gotAgent != agentID {
		t.Fatalf("expected agent %s, got %s", agentID, gotAgent)
	}
	if gotMsg.TaskID != taskID || gotMsg.Payload != "result" {
		t.Fatalf("unexpected message: %+v", gotMsg)
	}
}

func TestChannelTransportReceiveRespectsCancellation(t *testing.T) {
	transport := NewChannelTransport(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, _, err := transport.Receive(ctx); err == nil {
		t.Fatal("expected Receive to return an error once ctx is cancelled with nothing sent")
	}
}
