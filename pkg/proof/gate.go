package proof

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/verified-intent/pkg/verifier"
)

// GateConfig controls the verification gate's admission policy. Defaults
// mirror synapsed-semantic's GateConfig::default().
type GateConfig struct {
	RequireVerificationEvent bool
	MinConfidenceThreshold   float64
	MaxRetryAttempts         int
	Timeout                  time.Duration
	AllowPartialSuccess      bool
}

// DefaultGateConfig returns the gate's default policy.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		RequireVerificationEvent: true,
		MinConfidenceThreshold:   0.8,
		MaxRetryAttempts:         3,
		Timeout:                  300 * time.Second,
		AllowPartialSuccess:      false,
	}
}

// Ticket identifies one submission accepted into the gate's pending queue.
type Ticket struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// Outcome classifies how a submission resolved.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomePartial Outcome = "Partial"
	OutcomeFailure Outcome = "Failure"
)

// Submission is the unit the gate evaluates: a proof plus the verifier
// results that produced it.
type Submission struct {
	IntentID uuid.UUID
	Proof    VerificationProof
	Results  []verifier.Result
}

type pendingSubmission struct {
	ticket    Ticket
	sub       Submission
	submitted time.Time
	attempts  int
}

// AuditAction classifies one audit log entry.
type AuditAction string

const (
	AuditSubmitted  AuditAction = "Submitted"
	AuditVerified   AuditAction = "Verified"
	AuditForceFailed AuditAction = "ForceFailed"
	AuditExpired    AuditAction = "Expired"
)

// AuditEntry is one record in the gate's audit log.
type AuditEntry struct {
	Timestamp time.Time
	Ticket    uuid.UUID
	Action    AuditAction
	Detail    string
}

// VerifiedResult is what Verify returns on success: the outcome plus the
// confidence that produced it.
type VerifiedResult struct {
	Ticket     uuid.UUID
	Outcome    Outcome
	Confidence float64
	Proof      VerificationProof
}

// Gate decides whether a submission's proof is admitted, following
// min-confidence thresholding and a bounded retry queue for submissions
// that fall short. Grounded on synapsed-semantic's VerificationGate.
type Gate struct {
	mu      sync.Mutex
	config  GateConfig
	pending map[uuid.UUID]*pendingSubmission
	audit   []AuditEntry
}

// NewGate returns a Gate using config.
func NewGate(config GateConfig) *Gate {
	return &Gate{
		config:  config,
		pending: make(map[uuid.UUID]*pendingSubmission),
	}
}

// Submit validates sub's structure and enqueues it, returning a Ticket for
// later evaluation via Verify.
func (g *Gate) Submit(sub Submission) (Ticket, error) {
	if g.config.RequireVerificationEvent && len(sub.Results) == 0 {
		return Ticket{}, fmt.Errorf("proof: submission carries no verification events")
	}

	ticket := Ticket{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	g.mu.Lock()
	g.pending[ticket.ID] = &pendingSubmission{ticket: ticket, sub: sub, submitted: time.Now().UTC()}
	g.audit = append(g.audit, AuditEntry{Timestamp: time.Now().UTC(), Ticket: ticket.ID, Action: AuditSubmitted})
	g.mu.Unlock()
	return ticket, nil
}

// Verify evaluates the pending submission for ticket: confidence is the
// minimum across sub.Results (the gate's "weakest link" reading of a
// proof), and the gate requires it to meet MinConfidenceThreshold. A
// submission below threshold is re-queued if it has retries remaining,
// else it is recorded as a permanent Failure.
func (g *Gate) Verify(ticket Ticket) (VerifiedResult, error) {
	g.mu.Lock()
	ps, ok := g.pending[ticket.ID]
	if !ok {
		g.mu.Unlock()
		return VerifiedResult{}, fmt.Errorf("proof: unknown or already-resolved ticket %s", ticket.ID)
	}
	ps.attempts++
	g.mu.Unlock()

	confidence := minConfidence(ps.sub.Results)
	allSucceeded := ps.sub.Proof.AllSucceeded()

	var outcome Outcome
	switch {
	case allSucceeded && confidence >= g.config.MinConfidenceThreshold:
		outcome = OutcomeSuccess
	case g.config.AllowPartialSuccess && confidence >= g.config.MinConfidenceThreshold:
		outcome = OutcomePartial
	default:
		outcome = OutcomeFailure
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if outcome == OutcomeFailure && ps.attempts < g.config.MaxRetryAttempts {
		g.audit = append(g.audit, AuditEntry{
			Timestamp: time.Now().UTC(), Ticket: ticket.ID, Action: AuditSubmitted,
			Detail: fmt.Sprintf("retry %d/%d after confidence %.3f below threshold %.3f", ps.attempts, g.config.MaxRetryAttempts, confidence, g.config.MinConfidenceThreshold),
		})
		return VerifiedResult{}, fmt.Errorf("proof: confidence %.3f below threshold, retry %d/%d queued", confidence, ps.attempts, g.config.MaxRetryAttempts)
	}

	delete(g.pending, ticket.ID)
	action := AuditVerified
	if outcome == OutcomeFailure {
		action = AuditForceFailed
	}
	g.audit = append(g.audit, AuditEntry{Timestamp: time.Now().UTC(), Ticket: ticket.ID, Action: action, Detail: string(outcome)})

	return VerifiedResult{Ticket: ticket.ID, Outcome: outcome, Confidence: confidence, Proof: ps.sub.Proof}, nil
}

// ForceFail immediately fails a pending submission without evaluating it,
// e.g. for an external signal (a budget cutoff, a human override).
func (g *Gate) ForceFail(ticket Ticket, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[ticket.ID]; !ok {
		return fmt.Errorf("proof: unknown or already-resolved ticket %s", ticket.ID)
	}
	delete(g.pending, ticket.ID)
	g.audit = append(g.audit, AuditEntry{Timestamp: time.Now().UTC(), Ticket: ticket.ID, Action: AuditForceFailed, Detail: reason})
	return nil
}

// CleanupExpired drops pending submissions older than config.Timeout and
// records an Expired audit entry for each.
func (g *Gate) CleanupExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().UTC().Add(-g.config.Timeout)
	n := 0
	for id, ps := range g.pending {
		if ps.submitted.Before(cutoff) {
			delete(g.pending, id)
			g.audit = append(g.audit, AuditEntry{Timestamp: time.Now().UTC(), Ticket: id, Action: AuditExpired})
			n++
		}
	}
	return n
}

// AuditLog returns a copy of the gate's audit entries in recorded order.
func (g *Gate) AuditLog() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]AuditEntry(nil), g.audit...)
}

func minConfidence(results []verifier.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	min := results[0].Confidence
	for _, r := range results[1:] {
		if r.Confidence < min {
			min = r.Confidence
		}
	}
	return min
}
