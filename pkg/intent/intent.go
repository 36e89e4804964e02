// Package intent implements the hierarchical intent tree (C5): intents and
// steps organized into trees and forests, connected by typed relations, and
// planned into a deterministic execution order.
package intent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an intent or step.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusSkipped   Status = "Skipped"
	StatusRolledBack Status = "RolledBack"
)

// Step is a single unit of work belonging to an intent.
type Step struct {
	ID                   uuid.UUID
	IntentID             uuid.UUID
	Name                 string
	Preconditions        []string
	Postconditions       []string
	RequiredCapabilities []string
	TouchedPaths         []string
	TouchedEndpoints     []string
	Status               Status
	CreatedAt            time.Time
}

// NewStep returns a pending Step with a fresh ID.
func NewStep(intentID uuid.UUID, name string) *Step {
	return &Step{
		ID:        uuid.New(),
		IntentID:  intentID,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Intent is a node of intent: a declared goal decomposed into steps and,
// potentially, child intents.
type Intent struct {
	ID          uuid.UUID
	Name        string
	Description string
	Steps       []*Step
	Status      Status
	CreatedAt   time.Time
}

// NewIntent returns a pending Intent with a fresh ID.
func NewIntent(name, description string) *Intent {
	return &Intent{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// AddStep appends a step to the intent and returns it.
func (in *Intent) AddStep(name string) *Step {
	s := NewStep(in.ID, name)
	in.Steps = append(in.Steps, s)
	return s
}
