package consensus

import (
	"testing"

	"github.com/google/uuid"
)

func TestEvaluateWeakConsensusReached(t *testing.T) {
	taskID := uuid.New()
	votes := []VerifierVote{
		{AgentID: uuid.New(), Success: true},
		{AgentID: uuid.New(), Success: true},
		{AgentID: uuid.New(), Success: false},
	}
	result := Evaluate(taskID, ModeWeak, votes)
	if !result.ConsensusReached {
		t.Fatalf("expected consensus with 2/3 agreeing, got %+v", result)
	}
	if result.Agreed != 2 || result.Disagreed != 1 {
		t.Fatalf("expected agreed=2 disagreed=1, got agreed=%d disagreed=%d", result.Agreed, result.Disagreed)
	}
}

func TestEvaluateStrongRequiresMatchingRoots(t *testing.T) {
	taskID := uuid.New()
	root := [32]byte{1, 2, 3}
	other := [32]byte{9, 9, 9}
	votes := []VerifierVote{
		{AgentID: uuid.New(), MerkleRoot: root},
		{AgentID: uuid.New(), MerkleRoot: root},
		{AgentID: uuid.New(), MerkleRoot: other},
	}
	result := Evaluate(taskID, ModeStrong, votes)
	if !result.ConsensusReached {
		t.Fatalf("expected consensus with 2 matching roots, got %+v", result)
	}
}

func TestEvaluateNoConsensusOnSplitVote(t *testing.T) {
	taskID := uuid.New()
	votes := []VerifierVote{
		{AgentID: uuid.New(), Success: true},
		{AgentID: uuid.New(), Success: false},
	}
	result := Evaluate(taskID, ModeWeak, votes)
	if result.ConsensusReached {
		t.Fatalf("expected no consensus on an even split, got %+v", result)
	}
}

func TestValidateThresholdAndRequiredCount(t *testing.T) {
	if !ValidateThreshold(3, 4, 0.75) {
		t.Fatal("expected 3/4 to meet a 0.75 threshold")
	}
	if ValidateThreshold(2, 4, 0.75) {
		t.Fatal("expected 2/4 to miss a 0.75 threshold")
	}
	if got := CalculateRequiredCount(4, 0.75); got != 3 {
		t.Fatalf("expected required count 3, got %d", got)
	}
	if got := CalculateRequiredCount(1, 0.1); got != 1 {
		t.Fatalf("expected at least 1 required for a non-empty set, got %d", got)
	}
}

func TestIsByzantineFaultTolerant(t *testing.T) {
	if !IsByzantineFaultTolerant(4, 1) {
		t.Fatal("expected n=4 to tolerate f=1 (4 >= 3*1+1)")
	}
	if IsByzantineFaultTolerant(3, 1) {
		t.Fatal("expected n=3 to not tolerate f=1")
	}
}

func TestRequiredQuorum(t *testing.T) {
	cases := map[int]int{3: 2, 4: 3, 5: 4, 6: 4}
	for k, want := range cases {
		if got := RequiredQuorum(k); got != want {
			t.Fatalf("RequiredQuorum(%d) = %d, want %d", k, got, want)
		}
	}
}
