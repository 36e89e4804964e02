package proof

import (
	"testing"

	"github.com/google/uuid"

	"github.com/certen/verified-intent/pkg/verifier"
)

func TestMerkleTreeEmptyRoot(t *testing.T) {
	tree, err := BuildMerkleTree(nil)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	if tree.Root() != emptyRoot {
		t.Fatalf("expected empty tree to produce the all-zero root")
	}
}

func TestMerkleTreeProofRoundTrip(t *testing.T) {
	leaves := [][32]byte{
		HashLeaf([]byte("a")),
		HashLeaf([]byte("b")),
		HashLeaf([]byte("c")),
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}

	for i, leaf := range leaves {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("GenerateProof(%d): %v", i, err)
		}
		ok, err := VerifyProof(leaf, proof, tree.Root())
		if err != nil {
			t.Fatalf("VerifyProof(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("expected inclusion proof for leaf %d to verify", i)
		}
	}
}

func TestMerkleTreeProofRejectsTamperedLeaf(t *testing.T) {
	leaves := [][32]byte{HashLeaf([]byte("a")), HashLeaf([]byte("b"))}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	ok, err := VerifyProof(HashLeaf([]byte("tampered")), proof, tree.Root())
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if ok {
		t.Fatal("expected tampered leaf to fail verification")
	}
}

func TestGeneratorSignsAndVerifiesProof(t *testing.T) {
	signer, err := GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("GenerateEd25519Signer: %v", err)
	}
	gen := NewGenerator(signer)

	results := []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.9}}
	p, err := gen.GenerateProof(Metadata{IntentID: uuid.New()}, results)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	if p.Signature == nil {
		t.Fatal("expected a signature when a signer is configured")
	}

	ok, err := VerifyProof(p)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyProofRejectsTamperedMerkleRoot(t *testing.T) {
	gen := NewGenerator(nil)
	results := []verifier.Result{
		{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.9},
		{Strategy: verifier.StrategyNetwork, Success: true, Confidence: 0.9},
	}
	p, err := gen.GenerateProof(Metadata{IntentID: uuid.New()}, results)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	ok, err := VerifyProof(p)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !ok {
		t.Fatal("expected untampered unsigned proof to verify")
	}

	tampered := p
	tampered.MerkleRoot[0] ^= 0xFF
	ok, err = VerifyProof(tampered)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if ok {
		t.Fatal("expected a tampered merkle_root to fail verification even when the proof carries no signature")
	}
}

func TestVerifyProofRejectsTamperedVerificationSummary(t *testing.T) {
	gen := NewGenerator(nil)
	results := []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.9}}
	p, err := gen.GenerateProof(Metadata{IntentID: uuid.New()}, results)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	tampered := p
	tampered.Verifications = append([]VerificationSummary(nil), p.Verifications...)
	tampered.Verifications[0].Hash[0] ^= 0xFF

	ok, err := VerifyProof(tampered)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if ok {
		t.Fatal("expected a substituted verification leaf hash to invalidate the merkle root")
	}
}

func TestChainLinkageAndHeight(t *testing.T) {
	gen := NewGenerator(nil)
	intentID := uuid.New()
	results := []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.9}}

	genesis, err := gen.GenerateProof(Metadata{IntentID: intentID}, results)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	chain, err := gen.CreateChain("test", genesis)
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}

	for i := 0; i < 3; i++ {
		next, err := gen.GenerateProof(Metadata{IntentID: intentID}, results)
		if err != nil {
			t.Fatalf("GenerateProof: %v", err)
		}
		if _, err := gen.AddToChain(chain.ID, next); err != nil {
			t.Fatalf("AddToChain: %v", err)
		}
	}

	if len(chain.Proofs) != 4 {
		t.Fatalf("expected 4 proofs in chain, got %d", len(chain.Proofs))
	}
	if err := VerifyChain(chain); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}

	// Corrupting the linkage must be caught.
	chain.Proofs[2].Metadata.PreviousProof = nil
	if err := VerifyChain(chain); err == nil {
		t.Fatal("expected VerifyChain to reject broken linkage")
	}
}

func TestGateAdmitsAboveThresholdAndRetriesBelow(t *testing.T) {
	gate := NewGate(DefaultGateConfig())
	intentID := uuid.New()

	strong := Submission{
		IntentID: intentID,
		Proof:    VerificationProof{Verifications: []VerificationSummary{{Success: true}}},
		Results:  []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.9}},
	}
	ticket, err := gate.Submit(strong)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := gate.Verify(ticket)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected Success outcome, got %v", result.Outcome)
	}

	weak := Submission{
		IntentID: intentID,
		Proof:    VerificationProof{Verifications: []VerificationSummary{{Success: true}}},
		Results:  []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.5}},
	}
	ticket2, err := gate.Submit(weak)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := gate.Verify(ticket2); err == nil {
		t.Fatal("expected low-confidence submission to be queued for retry, not admitted")
	}

	log := gate.AuditLog()
	if len(log) == 0 {
		t.Fatal("expected audit log entries")
	}
}

func TestGateExhaustsRetriesToFailure(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.MaxRetryAttempts = 1
	gate := NewGate(cfg)

	weak := Submission{
		Proof:   VerificationProof{Verifications: []VerificationSummary{{Success: true}}},
		Results: []verifier.Result{{Strategy: verifier.StrategyCommand, Success: true, Confidence: 0.1}},
	}
	ticket, err := gate.Submit(weak)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := gate.Verify(ticket)
	if err != nil {
		t.Fatalf("expected final attempt to resolve rather than retry: %v", err)
	}
	if result.Outcome != OutcomeFailure {
		t.Fatalf("expected Failure outcome after exhausting retries, got %v", result.Outcome)
	}
}
