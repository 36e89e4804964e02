// Copyright 2025 Certen Protocol
//
// Package executor implements the verified executor (C6): the per-step
// loop that checks capability bounds, checkpoints state, runs a step's
// pre/postconditions and side effect, verifies the outcome, and applies a
// recovery strategy on failure.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/verified-intent/pkg/bounds"
	"github.com/certen/verified-intent/pkg/checkpoint"
	"github.com/certen/verified-intent/pkg/errtax"
	"github.com/certen/verified-intent/pkg/intent"
	"github.com/certen/verified-intent/pkg/proof"
	"github.com/certen/verified-intent/pkg/verifier"
)

// RecoveryStrategy is what the executor does when a step fails execution
// or verification.
type RecoveryStrategy string

const (
	RecoveryRetry    RecoveryStrategy = "Retry"
	RecoverySkip     RecoveryStrategy = "Skip"
	RecoveryRollback RecoveryStrategy = "Rollback"
	RecoveryCustom   RecoveryStrategy = "Custom"
)

// ConditionFunc evaluates a pre/postcondition, returning whether it held
// and a human-readable reason when it did not.
type ConditionFunc func(ctx context.Context, step *intent.Step) (bool, string, error)

// ExecuteFunc performs a step's actual side effect.
type ExecuteFunc func(ctx context.Context, step *intent.Step) error

// VerifyFunc produces the verification requests to run against a step's
// outcome.
type VerifyFunc func(step *intent.Step) []verifier.Request

// CustomRecoveryFunc implements RecoveryCustom for one step.
type CustomRecoveryFunc func(ctx context.Context, step *intent.Step, cause error) error

// StepHooks wires one step's behavior into the executor loop. Precondition
// and Postcondition may be nil to skip that check.
type StepHooks struct {
	Claim           bounds.StepClaim
	Precondition    ConditionFunc
	Execute         ExecuteFunc
	Postcondition   ConditionFunc
	Verify          VerifyFunc
	MinConfidence   float64
	Recovery        RecoveryStrategy
	CustomRecovery  CustomRecoveryFunc
	MaxRetries      int
}

// StepMetrics is the per-step outcome record returned by ExecuteStep.
type StepMetrics struct {
	StepID     uuid.UUID
	Succeeded  bool
	Skipped    bool
	RolledBack bool
	Attempts   int
	Confidence float64
	Proof      *proof.VerificationProof
}

// Executor runs the per-step loop: monitor -> checkpoint -> precondition
// -> execute -> postcondition -> verify -> recovery.
type Executor struct {
	Monitor    *bounds.Monitor
	Checkpoint *checkpoint.Manager
	Verifier   *verifier.Suite
	ProofGen   *proof.Generator
	Gate       *proof.Gate
	Metrics    *Metrics
}

// New wires together an Executor from its collaborators. metrics may be
// nil to disable Prometheus counting.
func New(monitor *bounds.Monitor, cp *checkpoint.Manager, suite *verifier.Suite, gen *proof.Generator, gate *proof.Gate, metrics *Metrics) *Executor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Executor{Monitor: monitor, Checkpoint: cp, Verifier: suite, ProofGen: gen, Gate: gate, Metrics: metrics}
}

// ExecuteStep runs the full per-step loop for step under hooks.
func (e *Executor) ExecuteStep(ctx context.Context, step *intent.Step, hooks StepHooks) (StepMetrics, error) {
	e.Metrics.StepsExecuted.Inc()
	metrics := StepMetrics{StepID: step.ID}

	if v, err := e.Monitor.Admit(hooks.Claim); err != nil {
		e.Metrics.Violations.Inc()
		e.Metrics.StepsFailed.Inc()
		step.Status = intent.StatusFailed
		return metrics, errtax.Wrap(errtax.ContextViolation, fmt.Sprintf("step %s violated bound %s", step.ID, v.Kind), err)
	}

	cp, err := e.Checkpoint.CreateCheckpoint(step.IntentID, &step.ID, checkpoint.Metadata{Creator: "executor", Reason: "pre-step"})
	if err != nil {
		e.Metrics.StepsFailed.Inc()
		return metrics, errtax.Wrap(errtax.InternalError, "failed to create pre-step checkpoint", err)
	}

	maxRetries := hooks.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		metrics.Attempts = attempt
		step.Status = intent.StatusRunning

		if hooks.Precondition != nil {
			ok, reason, err := hooks.Precondition(ctx, step)
			if err != nil {
				lastErr = errtax.Wrap(errtax.StepPreconditionFailed, "precondition check errored", err)
				break
			}
			if !ok {
				lastErr = errtax.New(errtax.StepPreconditionFailed, reason)
				break
			}
		}

		if hooks.Execute != nil {
			if err := hooks.Execute(ctx, step); err != nil {
				lastErr = errtax.Wrap(errtax.StepExecutionFailed, fmt.Sprintf("step %s execution failed", step.ID), err)
				if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
					return e.finish(step, metrics, recovered)
				}
				continue
			}
		}

		if hooks.Postcondition != nil {
			ok, reason, err := hooks.Postcondition(ctx, step)
			if err != nil {
				lastErr = errtax.Wrap(errtax.StepPostconditionFailed, "postcondition check errored", err)
				break
			}
			if !ok {
				lastErr = errtax.New(errtax.StepPostconditionFailed, reason)
				if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
					return e.finish(step, metrics, recovered)
				}
				continue
			}
		}

		if hooks.Verify == nil {
			lastErr = errtax.New(errtax.VerificationFailed, fmt.Sprintf("step %s has no verification wired; refusing to mark succeeded without proof", step.ID))
			if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
				return e.finish(step, metrics, recovered)
			}
			continue
		}

		requests := hooks.Verify(step)
		if len(requests) == 0 {
			lastErr = errtax.New(errtax.VerificationFailed, fmt.Sprintf("step %s produced no verification requests; refusing to mark succeeded without proof", step.ID))
			if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
				return e.finish(step, metrics, recovered)
			}
			continue
		}
		e.Metrics.Verifications.Add(float64(len(requests)))
		results, err := e.Verifier.RunAll(ctx, requests)
		if err != nil {
			lastErr = errtax.Wrap(errtax.VerificationFailed, "verification strategy errored", err)
			break
		}
		confidence := 1.0
		allSucceeded := true
		for _, r := range results {
			allSucceeded = allSucceeded && r.Success
			if r.Confidence < confidence {
				confidence = r.Confidence
			}
		}
		metrics.Confidence = confidence
		minReq := hooks.MinConfidence
		if minReq <= 0 {
			minReq = 0.8
		}
		if !allSucceeded || confidence < minReq {
			lastErr = errtax.New(errtax.VerificationFailed, fmt.Sprintf("confidence %.3f below threshold %.3f", confidence, minReq))
			if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
				return e.finish(step, metrics, recovered)
			}
			continue
		}

		var stepProof *proof.VerificationProof
		if e.ProofGen != nil {
			p, err := e.ProofGen.GenerateProof(proof.Metadata{IntentID: step.IntentID}, results)
			if err != nil {
				lastErr = errtax.Wrap(errtax.ProofInvalid, "failed to generate proof", err)
				break
			}
			metrics.Proof = &p
			stepProof = &p
		}
		if stepProof == nil {
			lastErr = errtax.New(errtax.ProofInvalid, fmt.Sprintf("step %s verified but no proof generator wired; refusing to mark succeeded without proof", step.ID))
			if recovered := e.recover(ctx, step, hooks, cp, lastErr); recovered != nil {
				return e.finish(step, metrics, recovered)
			}
			continue
		}

		step.Status = intent.StatusSucceeded
		e.Metrics.StepsSucceeded.Inc()
		metrics.Succeeded = true
		return metrics, nil
	}

	return e.finish(step, metrics, lastErr)
}

func (e *Executor) finish(step *intent.Step, metrics StepMetrics, cause error) (StepMetrics, error) {
	if cause == errSkip {
		metrics.Skipped = true
		return metrics, cause
	}
	if cause == nil {
		cause = errtax.New(errtax.StepExecutionFailed, "step failed with no further detail")
	}
	if step.Status == intent.StatusRolledBack {
		metrics.RolledBack = true
	}
	step.Status = intent.StatusFailed
	e.Metrics.StepsFailed.Inc()
	return metrics, cause
}

// recover applies hooks.Recovery to a failed attempt. A nil return lets the
// caller's loop go on to the next attempt (Retry, and Custom when its hook
// succeeds); a non-nil return terminates the step: Skip returns the errSkip
// sentinel, Rollback returns the cause wrapped (or a RollbackFailed error),
// and a failed Custom hook or an unknown strategy returns its own error.
func (e *Executor) recover(ctx context.Context, step *intent.Step, hooks StepHooks, cp checkpoint.Checkpoint, cause error) error {
	switch hooks.Recovery {
	case RecoveryRetry, "":
		return nil // let the loop's attempt counter drive the retry
	case RecoverySkip:
		step.Status = intent.StatusSkipped
		e.Metrics.StepsSkipped.Inc()
		return errSkip
	case RecoveryRollback:
		if err := e.Checkpoint.RollbackTo(cp.ID); err != nil {
			return errtax.Wrap(errtax.RollbackFailed, fmt.Sprintf("rollback to checkpoint %s failed", cp.ID), err)
		}
		e.Metrics.Rollbacks.Inc()
		step.Status = intent.StatusRolledBack
		return errtax.Wrap(errtax.StepExecutionFailed, "step rolled back after failure", cause)
	case RecoveryCustom:
		if hooks.CustomRecovery == nil {
			return errtax.New(errtax.InternalError, "RecoveryCustom selected with no CustomRecovery function")
		}
		if err := hooks.CustomRecovery(ctx, step, cause); err != nil {
			return errtax.Wrap(errtax.StepExecutionFailed, "custom recovery failed", err)
		}
		return nil
	default:
		return errtax.New(errtax.InternalError, fmt.Sprintf("unknown recovery strategy %q", hooks.Recovery))
	}
}

// errSkip is a sentinel distinguishing a deliberate Skip from a true
// failure; ExecuteStep's finish() treats it as a non-failing terminal
// state for the step but still surfaces it to the caller as the return
// error so callers can tell a skip from a success without inspecting
// StepMetrics.
var errSkip = errtax.New(errtax.StepExecutionFailed, "step skipped by recovery strategy")

// reserved for callers that want a fixed poll cadence when waiting on
// external verification; not used internally.
const defaultVerificationPoll = 250 * time.Millisecond
