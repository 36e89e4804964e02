// Copyright 2025 Certen Protocol
//
// Package eventlog records the durable sequence of events emitted by a
// verified execution run — step outcomes, verification results, rollbacks,
// and gate decisions — so a run can be replayed for audit.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of an Event.
type Kind string

const (
	KindIntentAdmitted   Kind = "IntentAdmitted"
	KindIntentCompleted  Kind = "IntentCompleted"
	KindIntentFailed     Kind = "IntentFailed"
	KindStepStarted     Kind = "StepStarted"
	KindStepSucceeded    Kind = "StepSucceeded"
	KindStepFailed       Kind = "StepFailed"
	KindStepSkipped      Kind = "StepSkipped"
	KindVerification     Kind = "Verification"
	KindRollback         Kind = "Rollback"
	KindBoundsViolation  Kind = "BoundsViolation"
	KindGateDecision     Kind = "GateDecision"
	KindConsensusReached Kind = "ConsensusReached"
)

// Event is one durable record in an intent's event log.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	IntentID  uuid.UUID              `json:"intent_id"`
	StepID    uuid.UUID              `json:"step_id,omitempty"`
	Kind      Kind                   `json:"kind"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an Event with a fresh ID and the current timestamp.
func NewEvent(intentID uuid.UUID, kind Kind, detail map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		IntentID:  intentID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// Log is the append-only, replayable event store backing an execution run.
type Log interface {
	// Append durably records ev.
	Append(ctx context.Context, ev Event) error
	// Replay returns every event recorded for intentID, in append order.
	Replay(ctx context.Context, intentID uuid.UUID) ([]Event, error)
	// Close releases any resources held by the log.
	Close() error
}
