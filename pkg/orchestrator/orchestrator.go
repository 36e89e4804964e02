// Copyright 2025 Certen Protocol
//
// Package orchestrator wires the context monitor (C1), checkpoint manager
// (C2), verifier suite (C3), proof chain and gate (C4), intent tree and
// planner (C5), verified executor (C6), swarm coordinator (C7), and
// N-of-M consensus (C8) into a single verified-execution run, the way the
// teacher's pkg/execution/proof_cycle_orchestrator.go wires its own
// sub-phase components behind one facade.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/certen/verified-intent/pkg/bounds"
	"github.com/certen/verified-intent/pkg/checkpoint"
	"github.com/certen/verified-intent/pkg/config"
	"github.com/certen/verified-intent/pkg/consensus"
	"github.com/certen/verified-intent/pkg/errtax"
	"github.com/certen/verified-intent/pkg/eventlog"
	"github.com/certen/verified-intent/pkg/executor"
	"github.com/certen/verified-intent/pkg/intent"
	"github.com/certen/verified-intent/pkg/proof"
	"github.com/certen/verified-intent/pkg/swarm"
	"github.com/certen/verified-intent/pkg/verifier"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger is the minimal logging surface the orchestrator needs, mirroring
// the teacher's pkg/execution Logger interface so callers can pass in a
// stdlib *log.Logger or any adapter around their own structured logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// HookProvider supplies the side effect, pre/postcondition, and
// verification behavior for one step. The orchestrator stays domain
// agnostic: it drives the loop, the caller decides what a step does.
type HookProvider func(step *intent.Step) executor.StepHooks

// IntentVerification supplies the verification requests an intent's
// overall proof should be built from, once every one of its steps has
// succeeded. A nil return (or a nil IntentVerification) skips gate
// admission for that intent — not every intent needs a chain-level proof
// on top of its step-level ones.
type IntentVerification func(in *intent.Intent) []verifier.Request

// StepOutcome is one step's result within an ExecuteTree run.
type StepOutcome struct {
	StepID  uuid.UUID
	Metrics executor.StepMetrics
	Err     error
}

// IntentOutcome is one intent's result within an ExecuteTree run.
type IntentOutcome struct {
	IntentID    uuid.UUID
	Succeeded   bool
	Steps       []StepOutcome
	GateOutcome *proof.Outcome
	Err         error
}

// TreeResult is the outcome of running every intent in one tree to
// completion (or first failure of each independent intent).
type TreeResult struct {
	ChainID *uuid.UUID
	Intents []IntentOutcome
}

// Orchestrator drives a verified execution run end to end. It owns no
// domain logic of its own — every side effect, precondition, and
// verification strategy is supplied by the caller via HookProvider and
// IntentVerification — it only owns the sequencing and bookkeeping that
// makes the run verifiable.
type Orchestrator struct {
	Forest      *intent.Forest
	Monitor     *bounds.Monitor
	Checkpoint  *checkpoint.Manager
	Verifier    *verifier.Suite
	ProofGen    *proof.Generator
	Gate        *proof.Gate
	Exec        *executor.Executor
	Coordinator *swarm.Coordinator
	Events      eventlog.Log

	cfg           *config.Config
	logger        Logger
	sem           *semaphore.Weighted
	consensusMode consensus.Mode

	proofMu sync.Mutex
	chainID *uuid.UUID
}

// New wires an Orchestrator from cfg. signer may be nil to run with
// unsigned proofs; rollback may be nil if no step declares RecoveryRollback;
// events may be nil to disable durable logging (an in-memory log is installed).
// logger may be nil to discard log output.
func New(cfg *config.Config, signer proof.Signer, rollback checkpoint.RollbackHandler, events eventlog.Log, logger Logger, reg prometheus.Registerer) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("orchestrator: cfg must not be nil")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if events == nil {
		events = eventlog.NewMemoryLog()
	}

	monitor := bounds.NewMonitor(cfg.Bounds.ViolationHistory)
	cpMgr := checkpoint.NewManager(cfg.Checkpoint.MaxCheckpoints, rollback)
	suite := verifier.NewSuite()
	gen := proof.NewGenerator(signer)
	gate := proof.NewGate(proof.GateConfig{
		RequireVerificationEvent: cfg.Gate.RequireVerificationEvent,
		MinConfidenceThreshold:   cfg.Gate.MinConfidenceThreshold,
		MaxRetryAttempts:         cfg.Gate.MaxRetryAttempts,
		Timeout:                  cfg.Gate.Timeout.Duration(),
		AllowPartialSuccess:      cfg.Gate.AllowPartialSuccess,
	})
	metrics := executor.NewMetrics(reg)
	exec := executor.New(monitor, cpMgr, suite, gen, gate, metrics)
	coordinator := swarm.NewCoordinator(cfg.Swarm.HeartbeatTimeout.Duration())

	mode := consensus.ModeWeak
	if cfg.Swarm.ConsensusMode == string(consensus.ModeStrong) {
		mode = consensus.ModeStrong
	}

	maxParallel := cfg.Executor.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	return &Orchestrator{
		Forest:        intent.NewForest(),
		Monitor:       monitor,
		Checkpoint:    cpMgr,
		Verifier:      suite,
		ProofGen:      gen,
		Gate:          gate,
		Exec:          exec,
		Coordinator:   coordinator,
		Events:        events,
		cfg:           cfg,
		logger:        logger,
		sem:           semaphore.NewWeighted(int64(maxParallel)),
		consensusMode: mode,
	}, nil
}

// rootBounds builds the ContextBounds configured for root intents that
// declare no bounds of their own.
func (o *Orchestrator) rootBounds() bounds.ContextBounds {
	return bounds.ContextBounds{
		AllowedCommands:   o.cfg.Bounds.AllowedCommands,
		AllowedPaths:      o.cfg.Bounds.AllowedPaths,
		AllowedEndpoints:  o.cfg.Bounds.AllowedEndpoints,
		CanSpawnProcesses: false,
		CanAccessNetwork:  len(o.cfg.Bounds.AllowedEndpoints) > 0,
	}
}

// SubmitRootIntent admits in into a fresh tree under the configured root
// bounds (or declared, if non-nil), logs its admission, and returns the
// tree index it was placed in.
func (o *Orchestrator) SubmitRootIntent(ctx context.Context, in *intent.Intent, declared *bounds.ContextBounds) (int, error) {
	b := o.rootBounds()
	if declared != nil {
		b = *declared
	}
	if err := o.Monitor.SetBounds(in.ID, b); err != nil {
		return 0, errtax.Wrap(errtax.ContextViolation, "failed to admit root intent bounds", err)
	}
	treeIdx := o.Forest.CreateTree()
	if err := o.Forest.AddIntent(treeIdx, in); err != nil {
		return 0, errtax.Wrap(errtax.IntentInvalid, "failed to register root intent", err)
	}
	o.logAdmission(ctx, in)
	return treeIdx, nil
}

// SubmitChildIntent admits in beneath parentID's tree, deriving its
// bounds as the intersection of declared and the parent's registered
// bounds (P3: a child's capability surface never exceeds its parent's).
func (o *Orchestrator) SubmitChildIntent(ctx context.Context, treeIdx int, parentID uuid.UUID, in *intent.Intent, declared bounds.ContextBounds) error {
	if _, err := o.Monitor.DeriveChildBounds(parentID, in.ID, declared); err != nil {
		return errtax.Wrap(errtax.ContextViolation, "failed to derive child intent bounds", err)
	}
	if err := o.Forest.AddIntent(treeIdx, in); err != nil {
		return errtax.Wrap(errtax.IntentInvalid, "failed to register child intent", err)
	}
	tree, _ := o.Forest.Tree(treeIdx)
	if err := tree.AddRelation(parentID, in.ID, intent.RelationParent); err != nil {
		return errtax.Wrap(errtax.IntentInvalid, "failed to link child intent to parent", err)
	}
	o.logAdmission(ctx, in)
	return nil
}

func (o *Orchestrator) logAdmission(ctx context.Context, in *intent.Intent) {
	ev := eventlog.NewEvent(in.ID, eventlog.KindIntentAdmitted, map[string]interface{}{"name": in.Name})
	if err := o.Events.Append(ctx, ev); err != nil {
		o.logger.Printf("orchestrator: failed to log intent admission for %s: %v", in.ID, err)
	}
}

// ExecuteTree runs every intent in the tree at treeIdx to completion,
// grouping intents by dependency level (computed from DetermineExecutionOrder
// plus GetDependencies) and running each level's intents concurrently,
// bounded by the configured max_parallel. Steps within a single intent run
// sequentially. gateReqs may be nil to skip chain-level proof admission.
func (o *Orchestrator) ExecuteTree(ctx context.Context, treeIdx int, hooks HookProvider, gateReqs IntentVerification) (*TreeResult, error) {
	tree, ok := o.Forest.Tree(treeIdx)
	if !ok {
		return nil, errtax.New(errtax.IntentInvalid, fmt.Sprintf("unknown tree index %d", treeIdx))
	}
	order, err := tree.DetermineExecutionOrder()
	if err != nil {
		return nil, errtax.Wrap(errtax.IntentInvalid, "tree contains a circular dependency", err)
	}
	if err := tree.ValidateConflicts(); err != nil {
		return nil, errtax.Wrap(errtax.IntentInvalid, "tree contains an unresolved conflict", err)
	}

	levels := groupByLevel(tree, order)

	result := &TreeResult{Intents: make([]IntentOutcome, len(order))}
	indexOf := make(map[uuid.UUID]int, len(order))
	for i, in := range order {
		indexOf[in.ID] = i
	}

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, in := range level {
			in := in
			if err := o.sem.Acquire(ctx, 1); err != nil {
				return result, errtax.Wrap(errtax.InternalError, "failed to acquire executor slot", err)
			}
			g.Go(func() error {
				defer o.sem.Release(1)
				outcome := o.runIntent(gctx, in, hooks, gateReqs)
				result.Intents[indexOf[in.ID]] = outcome
				return nil // per-intent failure doesn't abort independent sibling intents
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
	}

	o.proofMu.Lock()
	result.ChainID = o.chainID
	o.proofMu.Unlock()
	return result, nil
}

// groupByLevel buckets order into dependency levels: level 0 has no
// DependsOn edges, level N depends only on intents at levels < N. Since
// order is already a valid topological sort, every dependency of an intent
// necessarily appears earlier in order, so a single left-to-right pass
// suffices.
func groupByLevel(tree *intent.Tree, order []*intent.Intent) [][]*intent.Intent {
	levelOf := make(map[uuid.UUID]int, len(order))
	var maxLevel int
	for _, in := range order {
		level := 0
		for _, dep := range tree.GetDependencies(in.ID) {
			if l := levelOf[dep.ID] + 1; l > level {
				level = l
			}
		}
		levelOf[in.ID] = level
		if level > maxLevel {
			maxLevel = level
		}
	}
	levels := make([][]*intent.Intent, maxLevel+1)
	for _, in := range order {
		l := levelOf[in.ID]
		levels[l] = append(levels[l], in)
	}
	return levels
}

// runIntent executes every step of in sequentially, then — if gateReqs
// supplies verification requests for it — folds the results into a proof,
// submits it to the gate, and extends the run's proof chain.
func (o *Orchestrator) runIntent(ctx context.Context, in *intent.Intent, hooks HookProvider, gateReqs IntentVerification) IntentOutcome {
	in.Status = intent.StatusRunning
	outcome := IntentOutcome{IntentID: in.ID, Steps: make([]StepOutcome, 0, len(in.Steps))}

	for _, step := range in.Steps {
		metrics, err := o.Exec.ExecuteStep(ctx, step, hooks(step))
		outcome.Steps = append(outcome.Steps, StepOutcome{StepID: step.ID, Metrics: metrics, Err: err})
		if err != nil && !metrics.Skipped {
			in.Status = intent.StatusFailed
			outcome.Err = err
			o.logIntentTerminal(ctx, in, eventlog.KindIntentFailed, err)
			return outcome
		}
	}

	if gateReqs != nil {
		if reqs := gateReqs(in); len(reqs) > 0 {
			gateOutcome, err := o.admitToGate(ctx, in, reqs)
			outcome.GateOutcome = gateOutcome
			if err != nil {
				in.Status = intent.StatusFailed
				outcome.Err = err
				o.logIntentTerminal(ctx, in, eventlog.KindIntentFailed, err)
				return outcome
			}
		}
	}

	in.Status = intent.StatusSucceeded
	outcome.Succeeded = true
	o.logIntentTerminal(ctx, in, eventlog.KindIntentCompleted, nil)
	return outcome
}

// admitToGate runs reqs through the verifier suite, folds the results into
// a signed proof, and submits that proof to the gate for admission,
// extending the orchestrator's running proof chain on success.
func (o *Orchestrator) admitToGate(ctx context.Context, in *intent.Intent, reqs []verifier.Request) (*proof.Outcome, error) {
	results, err := o.Verifier.RunAll(ctx, reqs)
	if err != nil {
		return nil, errtax.Wrap(errtax.VerificationFailed, "intent-level verification errored", err)
	}

	o.proofMu.Lock()
	p, err := o.ProofGen.GenerateProof(proof.Metadata{IntentID: in.ID}, results)
	if err != nil {
		o.proofMu.Unlock()
		return nil, errtax.Wrap(errtax.ProofInvalid, "failed to generate intent proof", err)
	}

	ticket, err := o.Gate.Submit(proof.Submission{IntentID: in.ID, Proof: p, Results: results})
	if err != nil {
		o.proofMu.Unlock()
		return nil, errtax.Wrap(errtax.ProofInvalid, "gate rejected submission", err)
	}
	verified, err := o.Gate.Verify(ticket)
	if err != nil {
		o.proofMu.Unlock()
		return nil, errtax.Wrap(errtax.VerificationFailed, "gate denied admission", err)
	}

	o.extendChain(p)
	o.proofMu.Unlock()

	ev := eventlog.NewEvent(in.ID, eventlog.KindGateDecision, map[string]interface{}{
		"outcome":    string(verified.Outcome),
		"confidence": verified.Confidence,
	})
	if err := o.Events.Append(ctx, ev); err != nil {
		o.logger.Printf("orchestrator: failed to log gate decision for %s: %v", in.ID, err)
	}

	outcome := verified.Outcome
	if outcome == proof.OutcomeFailure {
		return &outcome, errtax.New(errtax.VerificationFailed, fmt.Sprintf("intent %s failed gate admission at confidence %.3f", in.ID, verified.Confidence))
	}
	return &outcome, nil
}

// extendChain folds p into the orchestrator's running proof chain,
// creating it on the first gate-admitted proof. Callers must hold proofMu.
func (o *Orchestrator) extendChain(p proof.VerificationProof) {
	if o.chainID == nil {
		c, err := o.ProofGen.CreateChain("verified-execution-run", p)
		if err != nil {
			o.logger.Printf("orchestrator: failed to create proof chain: %v", err)
			return
		}
		o.chainID = &c.ID
		return
	}
	if _, err := o.ProofGen.AddToChain(*o.chainID, p); err != nil {
		o.logger.Printf("orchestrator: failed to extend proof chain: %v", err)
	}
}

func (o *Orchestrator) logIntentTerminal(ctx context.Context, in *intent.Intent, kind eventlog.Kind, cause error) {
	detail := map[string]interface{}{"name": in.Name}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	ev := eventlog.NewEvent(in.ID, kind, detail)
	if err := o.Events.Append(ctx, ev); err != nil {
		o.logger.Printf("orchestrator: failed to log intent outcome for %s: %v", in.ID, err)
	}
}

// RunConsensusVerification tallies votes for taskID under the configured
// consensus mode, requiring at least RequiredQuorum(len(votes)) agreeing
// responses, and records the outcome.
func (o *Orchestrator) RunConsensusVerification(ctx context.Context, taskID uuid.UUID, votes []consensus.VerifierVote) (consensus.Result, error) {
	if len(votes) == 0 {
		return consensus.Result{}, errtax.New(errtax.ConsensusNotReached, "no votes submitted for consensus round")
	}

	result := consensus.Evaluate(taskID, o.consensusMode, votes)
	required := consensus.RequiredQuorum(len(votes))
	if result.Agreed < required {
		result.ConsensusReached = false
	}

	ev := eventlog.NewEvent(taskID, eventlog.KindConsensusReached, map[string]interface{}{
		"agreed":            result.Agreed,
		"disagreed":         result.Disagreed,
		"required":          required,
		"consensus_reached": result.ConsensusReached,
	})
	if err := o.Events.Append(ctx, ev); err != nil {
		o.logger.Printf("orchestrator: failed to log consensus outcome for task %s: %v", taskID, err)
	}

	if !result.ConsensusReached {
		return result, errtax.New(errtax.ConsensusNotReached, fmt.Sprintf("task %s reached %d/%d agreement, required %d", taskID, result.Agreed, len(votes), required))
	}
	return result, nil
}
