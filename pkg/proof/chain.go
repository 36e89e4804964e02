package proof

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/verified-intent/pkg/commitment"
	"github.com/certen/verified-intent/pkg/verifier"
)

// Signer abstracts proof signing so Generator does not need a live
// Ed25519 key to be constructed for read-only or testing use.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
}

// Ed25519Signer is the default Signer, wrapping a generated or loaded
// Ed25519 key pair.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// GenerateEd25519Signer creates a fresh random key pair.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("proof: generate signing key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

// Signature carries a proof's signature alongside the key and algorithm
// that produced it.
type Signature struct {
	PublicKey []byte `json:"public_key"`
	Bytes     []byte `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// VerificationSummary is the compact record of one verifier.Result folded
// into a proof.
type VerificationSummary struct {
	ID         uuid.UUID         `json:"id"`
	Strategy   verifier.Strategy `json:"verification_type"`
	Success    bool              `json:"success"`
	Hash       [32]byte          `json:"hash"`
	Timestamp  time.Time         `json:"timestamp"`
}

// leafFields is the subset of a verifier.Result that's canonically hashed
// into a Merkle leaf: the ID and timestamp are provenance, not content, so
// they're excluded to keep the leaf hash a pure function of the verdict.
type leafFields struct {
	Strategy verifier.Strategy `json:"strategy"`
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
}

func summarize(r verifier.Result) VerificationSummary {
	hash, err := commitment.Sum256(leafFields{Strategy: r.Strategy, Success: r.Success, Message: r.Message})
	if err != nil {
		// leafFields is always JSON-encodable; fall back rather than panic.
		hash = HashLeaf([]byte(fmt.Sprintf("%s|%v|%s", r.Strategy, r.Success, r.Message)))
	}
	return VerificationSummary{
		ID:        r.ID,
		Strategy:  r.Strategy,
		Success:   r.Success,
		Hash:      hash,
		Timestamp: r.At,
	}
}

// Metadata carries a proof's provenance within a chain.
type Metadata struct {
	IntentID       uuid.UUID  `json:"intent_id"`
	AgentContext   string     `json:"agent_context,omitempty"`
	ChainHeight    int        `json:"chain_height"`
	PreviousProof  *uuid.UUID `json:"previous_proof,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

// VerificationProof bundles the verification results for one step or
// intent into a signed, Merkle-rooted unit.
type VerificationProof struct {
	ID            uuid.UUID              `json:"id"`
	Verifications []VerificationSummary  `json:"verifications"`
	MerkleRoot    [32]byte               `json:"merkle_root"`
	Signature     *Signature             `json:"signature,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      Metadata               `json:"metadata"`
}

// AllSucceeded reports whether every folded verification succeeded.
func (p *VerificationProof) AllSucceeded() bool {
	for _, v := range p.Verifications {
		if !v.Success {
			return false
		}
	}
	return true
}

// ChainMetadata tracks chain-wide bookkeeping.
type ChainMetadata struct {
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	TotalVerifications int       `json:"total_verifications"`
	Purpose            string    `json:"purpose,omitempty"`
}

// Chain is an append-only, linked sequence of VerificationProofs.
type Chain struct {
	ID       uuid.UUID           `json:"id"`
	Genesis  uuid.UUID           `json:"genesis"`
	Proofs   []VerificationProof `json:"proofs"`
	Head     *uuid.UUID          `json:"head"`
	Metadata ChainMetadata       `json:"metadata"`
}

// Generator creates and signs VerificationProofs and owns the chains built
// from them. Grounded on synapsed-verify's ProofGenerator, with signing
// made optional via the Signer interface rather than an Option<Keypair>.
type Generator struct {
	signer Signer
	chains map[uuid.UUID]*Chain
}

// NewGenerator returns a Generator. signer may be nil, in which case
// generated proofs carry no Signature.
func NewGenerator(signer Signer) *Generator {
	return &Generator{signer: signer, chains: make(map[uuid.UUID]*Chain)}
}

// GenerateProof folds results into a VerificationProof, signed when the
// Generator has a Signer.
func (g *Generator) GenerateProof(meta Metadata, results []verifier.Result) (VerificationProof, error) {
	summaries := make([]VerificationSummary, len(results))
	leaves := make([][32]byte, len(results))
	for i, r := range results {
		s := summarize(r)
		summaries[i] = s
		leaves[i] = s.Hash
	}
	root := ComputeRoot(leaves)

	p := VerificationProof{
		ID:            uuid.New(),
		Verifications: summaries,
		MerkleRoot:    root,
		Timestamp:     time.Now().UTC(),
		Metadata:      meta,
	}

	if g.signer != nil {
		sig, err := g.signer.Sign(root[:])
		if err != nil {
			return VerificationProof{}, fmt.Errorf("proof: sign: %w", err)
		}
		p.Signature = &Signature{
			PublicKey: []byte(g.signer.PublicKey()),
			Bytes:     sig,
			Algorithm: "Ed25519",
		}
	}
	return p, nil
}

// VerifyProof recomputes merkle_root from p.Verifications and rejects on
// any mismatch, independent of whether the proof is signed. Only once the
// root itself checks out does it go on to check the signature, if one is
// present.
func VerifyProof(p VerificationProof) (bool, error) {
	leaves := make([][32]byte, len(p.Verifications))
	for i, v := range p.Verifications {
		leaves[i] = v.Hash
	}
	if ComputeRoot(leaves) != p.MerkleRoot {
		return false, nil
	}

	if p.Signature == nil {
		return true, nil
	}
	if p.Signature.Algorithm != "Ed25519" {
		return false, fmt.Errorf("proof: unsupported signature algorithm %q", p.Signature.Algorithm)
	}
	pub := ed25519.PublicKey(p.Signature.PublicKey)
	return ed25519.Verify(pub, p.MerkleRoot[:], p.Signature.Bytes), nil
}

// CreateChain starts a new chain rooted at genesis's ID. genesis is
// appended as the chain's first proof.
func (g *Generator) CreateChain(purpose string, genesis VerificationProof) (*Chain, error) {
	c := &Chain{
		ID:      uuid.New(),
		Genesis: genesis.ID,
		Proofs:  []VerificationProof{genesis},
		Head:    &genesis.ID,
		Metadata: ChainMetadata{
			CreatedAt:          time.Now().UTC(),
			UpdatedAt:          time.Now().UTC(),
			TotalVerifications: len(genesis.Verifications),
			Purpose:            purpose,
		},
	}
	g.chains[c.ID] = c
	return c, nil
}

// AddToChain appends next onto chain, stamping its PreviousProof and
// ChainHeight metadata from the chain's current head.
func (g *Generator) AddToChain(chainID uuid.UUID, next VerificationProof) (*Chain, error) {
	c, ok := g.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("proof: unknown chain %s", chainID)
	}
	prev := *c.Head
	next.Metadata.PreviousProof = &prev
	next.Metadata.ChainHeight = len(c.Proofs)
	c.Proofs = append(c.Proofs, next)
	c.Head = &next.ID
	c.Metadata.UpdatedAt = time.Now().UTC()
	c.Metadata.TotalVerifications += len(next.Verifications)
	return c, nil
}

// Chain returns the chain registered under id.
func (g *Generator) Chain(id uuid.UUID) (*Chain, bool) {
	c, ok := g.chains[id]
	return c, ok
}

// VerifyChain checks that every proof passes VerifyProof (Merkle root, and
// signature when present) and that the
// linkage (previous_proof, chain_height) is internally consistent — the
// chain_height monotonicity invariant.
func VerifyChain(c *Chain) error {
	for i, p := range c.Proofs {
		ok, err := VerifyProof(p)
		if err != nil {
			return fmt.Errorf("proof: chain %s proof %d: %w", c.ID, i, err)
		}
		if !ok {
			return fmt.Errorf("proof: chain %s proof %d failed verification", c.ID, i)
		}
		if i == 0 {
			continue
		}
		prev := c.Proofs[i-1]
		if p.Metadata.PreviousProof == nil || *p.Metadata.PreviousProof != prev.ID {
			return fmt.Errorf("proof: chain %s proof %d does not link to its predecessor", c.ID, i)
		}
		if p.Metadata.ChainHeight != i {
			return fmt.Errorf("proof: chain %s proof %d has chain_height %d, want %d", c.ID, i, p.Metadata.ChainHeight, i)
		}
	}
	return nil
}
