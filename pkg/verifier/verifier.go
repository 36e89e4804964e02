// Copyright 2025 Certen Protocol
//
// Package verifier implements the pluggable verifier suite (C3): each
// verification strategy inspects post-execution evidence and reports a
// pass/fail result with a confidence score, following the per-strategy
// confidence table fixed in DESIGN.md's Open Question 2.
package verifier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Strategy names the kind of check a Verifier performs.
type Strategy string

const (
	StrategyCommand    Strategy = "Command"
	StrategyFileSystem Strategy = "FileSystem"
	StrategyNetwork    Strategy = "Network"
	StrategyState      Strategy = "State"
	StrategyCustom     Strategy = "Custom"
)

// baseConfidence is the per-strategy ceiling confidence used when a
// verification succeeds; a failed verification reports 10% of its base
// (see Open Question 2 in DESIGN.md).
var baseConfidence = map[Strategy]float64{
	StrategyCommand:    0.9,
	StrategyFileSystem: 0.85,
	StrategyNetwork:    0.9,
}

const failureConfidenceFactor = 0.1

// Evidence is what a Verifier inspected to reach its verdict.
type Evidence struct {
	Strategy  Strategy          `json:"strategy"`
	Subject   string            `json:"subject"`
	Detail    map[string]string `json:"detail,omitempty"`
	Collected time.Time         `json:"collected"`
}

// Result is one Verifier's verdict.
type Result struct {
	ID         uuid.UUID `json:"id"`
	Strategy   Strategy  `json:"strategy"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Evidence   Evidence  `json:"evidence"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Verifier runs one verification strategy against a step's observable
// outcome.
type Verifier interface {
	Strategy() Strategy
	Verify(ctx context.Context, subject string, detail map[string]string) (Result, error)
}

func newResult(strategy Strategy, success bool, base float64, subject string, detail map[string]string, message string) Result {
	confidence := base
	if !success {
		confidence = base * failureConfidenceFactor
	}
	return Result{
		ID:         uuid.New(),
		Strategy:   strategy,
		Success:    success,
		Confidence: confidence,
		Evidence: Evidence{
			Strategy:  strategy,
			Subject:   subject,
			Detail:    detail,
			Collected: time.Now().UTC(),
		},
		Message: message,
		At:      time.Now().UTC(),
	}
}
