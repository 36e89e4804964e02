package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/verified-intent/pkg/bounds"
	"github.com/certen/verified-intent/pkg/config"
	"github.com/certen/verified-intent/pkg/consensus"
	"github.com/certen/verified-intent/pkg/executor"
	"github.com/certen/verified-intent/pkg/intent"
	"github.com/certen/verified-intent/pkg/verifier"
)

// echoVerify builds a Verify hook whose requests re-run a trivially
// successful command, for tests that only care about the execution and
// gating paths and not about a particular verification strategy.
func echoVerify(s *intent.Step) []verifier.Request {
	return []verifier.Request{{
		Strategy: verifier.StrategyCommand,
		Subject:  s.ID.String(),
		Detail:   map[string]string{"command": "true", "expect_exit_code": "0"},
	}}
}

func testConfig() *config.Config {
	cfg := config.LoadFromEnv()
	cfg.Bounds.AllowedCommands = []string{"noop"}
	cfg.Executor.MaxParallel = 2
	cfg.Gate.MinConfidenceThreshold = 0.5
	return cfg
}

func noopHooks(in *intent.Intent) HookProvider {
	return func(step *intent.Step) executor.StepHooks {
		return executor.StepHooks{
			Claim:         bounds.StepClaim{IntentID: in.ID, StepID: step.ID, RequiredCapabilities: []string{"noop"}},
			Execute:       func(ctx context.Context, s *intent.Step) error { return nil },
			Verify:        echoVerify,
			MinConfidence: 0.5,
		}
	}
}

func TestExecuteTreeRunsIndependentIntentsAndFoldsGateProof(t *testing.T) {
	orc, err := New(testConfig(), nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := intent.NewIntent("a", "")
	a.AddStep("do-a")
	treeIdx, err := orc.SubmitRootIntent(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("SubmitRootIntent: %v", err)
	}

	b := intent.NewIntent("b", "")
	b.AddStep("do-b")
	if err := orc.Monitor.SetBounds(b.ID, bounds.ContextBounds{AllowedCommands: []string{"noop"}}); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	if err := orc.Forest.AddIntent(treeIdx, b); err != nil {
		t.Fatalf("AddIntent: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	reachable := map[string]string{"endpoint": ln.Addr().String(), "expect": "true"}

	hooks := func(step *intent.Step) executor.StepHooks {
		intentID := step.IntentID
		return executor.StepHooks{
			Claim:         bounds.StepClaim{IntentID: intentID, StepID: step.ID, RequiredCapabilities: []string{"noop"}},
			Execute:       func(ctx context.Context, s *intent.Step) error { return nil },
			Verify: func(s *intent.Step) []verifier.Request {
				return []verifier.Request{{Strategy: verifier.StrategyNetwork, Subject: s.ID.String(), Detail: reachable}}
			},
			MinConfidence: 0.1,
		}
	}

	gateReqs := func(in *intent.Intent) []verifier.Request {
		return []verifier.Request{{Strategy: verifier.StrategyNetwork, Subject: in.ID.String(), Detail: reachable}}
	}

	result, err := orc.ExecuteTree(context.Background(), treeIdx, hooks, gateReqs)
	if err != nil {
		t.Fatalf("ExecuteTree: %v", err)
	}
	if len(result.Intents) != 2 {
		t.Fatalf("expected 2 intent outcomes, got %d", len(result.Intents))
	}
	for _, outcome := range result.Intents {
		if !outcome.Succeeded {
			t.Fatalf("expected intent %s to succeed, got %+v", outcome.IntentID, outcome)
		}
		if outcome.GateOutcome == nil {
			t.Fatalf("expected a gate outcome for intent %s", outcome.IntentID)
		}
	}
	if result.ChainID == nil {
		t.Fatal("expected a proof chain to have been created")
	}
}

func TestExecuteTreeRespectsDependencyOrder(t *testing.T) {
	orc, err := New(testConfig(), nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	parent := intent.NewIntent("parent", "")
	parent.AddStep("do-parent")
	treeIdx, err := orc.SubmitRootIntent(context.Background(), parent, nil)
	if err != nil {
		t.Fatalf("SubmitRootIntent: %v", err)
	}

	child := intent.NewIntent("child", "")
	child.AddStep("do-child")
	if err := orc.SubmitChildIntent(context.Background(), treeIdx, parent.ID, child, bounds.ContextBounds{AllowedCommands: []string{"noop"}}); err != nil {
		t.Fatalf("SubmitChildIntent: %v", err)
	}

	tree, _ := orc.Forest.Tree(treeIdx)
	if err := tree.AddRelation(child.ID, parent.ID, intent.RelationDependsOn); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}

	var executed []string
	hooks := func(step *intent.Step) executor.StepHooks {
		return executor.StepHooks{
			Claim: bounds.StepClaim{IntentID: step.IntentID, StepID: step.ID, RequiredCapabilities: []string{"noop"}},
			Execute: func(ctx context.Context, s *intent.Step) error {
				executed = append(executed, s.Name)
				return nil
			},
			Verify:        echoVerify,
			MinConfidence: 0.1,
		}
	}

	result, err := orc.ExecuteTree(context.Background(), treeIdx, hooks, nil)
	if err != nil {
		t.Fatalf("ExecuteTree: %v", err)
	}
	if len(executed) != 2 || executed[0] != "do-parent" || executed[1] != "do-child" {
		t.Fatalf("expected parent before child, got %v", executed)
	}
	for _, outcome := range result.Intents {
		if !outcome.Succeeded {
			t.Fatalf("expected intent %s to succeed, got %+v", outcome.IntentID, outcome)
		}
	}
}

func TestExecuteTreeStepFailureFailsOnlyThatIntent(t *testing.T) {
	orc, err := New(testConfig(), nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	good := intent.NewIntent("good", "")
	good.AddStep("ok")
	treeIdx, err := orc.SubmitRootIntent(context.Background(), good, nil)
	if err != nil {
		t.Fatalf("SubmitRootIntent: %v", err)
	}

	bad := intent.NewIntent("bad", "")
	bad.AddStep("forbidden")
	if err := orc.Monitor.SetBounds(bad.ID, bounds.ContextBounds{AllowedCommands: []string{"noop"}}); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	if err := orc.Forest.AddIntent(treeIdx, bad); err != nil {
		t.Fatalf("AddIntent: %v", err)
	}

	hooks := func(step *intent.Step) executor.StepHooks {
		claim := bounds.StepClaim{IntentID: step.IntentID, StepID: step.ID, RequiredCapabilities: []string{"noop"}}
		if step.Name == "forbidden" {
			claim.RequiredCapabilities = []string{"rm"}
		}
		return executor.StepHooks{
			Claim:         claim,
			Execute:       func(ctx context.Context, s *intent.Step) error { return nil },
			Verify:        echoVerify,
			MinConfidence: 0.1,
		}
	}

	result, err := orc.ExecuteTree(context.Background(), treeIdx, hooks, nil)
	if err != nil {
		t.Fatalf("ExecuteTree: %v", err)
	}
	var sawGood, sawBad bool
	for _, outcome := range result.Intents {
		switch outcome.IntentID {
		case good.ID:
			sawGood = true
			if !outcome.Succeeded {
				t.Fatalf("expected good intent to succeed, got %+v", outcome)
			}
		case bad.ID:
			sawBad = true
			if outcome.Succeeded {
				t.Fatalf("expected bad intent to fail, got %+v", outcome)
			}
		}
	}
	if !sawGood || !sawBad {
		t.Fatalf("expected outcomes for both intents, got %+v", result.Intents)
	}
}

func TestRunConsensusVerificationReachesAgreement(t *testing.T) {
	orc, err := New(testConfig(), nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	taskID := uuid.New()
	votes := []consensus.VerifierVote{
		{AgentID: uuid.New(), Success: true, Confidence: 0.9, RespondedAt: time.Now()},
		{AgentID: uuid.New(), Success: true, Confidence: 0.9, RespondedAt: time.Now()},
		{AgentID: uuid.New(), Success: false, Confidence: 0.1, RespondedAt: time.Now()},
	}

	result, err := orc.RunConsensusVerification(context.Background(), taskID, votes)
	if err != nil {
		t.Fatalf("RunConsensusVerification: %v", err)
	}
	if !result.ConsensusReached {
		t.Fatalf("expected consensus to be reached, got %+v", result)
	}

	replayed, err := orc.Events.Replay(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 1 || replayed[0].Kind != "ConsensusReached" {
		t.Fatalf("expected a ConsensusReached event, got %+v", replayed)
	}
}

func TestRunConsensusVerificationNoVotesErrors(t *testing.T) {
	orc, err := New(testConfig(), nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := orc.RunConsensusVerification(context.Background(), uuid.New(), nil); err == nil {
		t.Fatal("expected an error for an empty vote set")
	}
}
