package consensus

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Evaluate tallies votes for taskID under mode and reports whether
// consensus was reached. consensus_reached = agreed > N/2, where N is the
// number of votes actually cast (not the configured M).
func Evaluate(taskID uuid.UUID, mode Mode, votes []VerifierVote) Result {
	r := Result{TaskID: taskID, Mode: mode, Votes: votes}
	if len(votes) == 0 {
		return r
	}

	reference := votes[0]
	for _, v := range votes {
		if agrees(reference, v, mode) {
			r.Agreed++
		} else {
			r.Disagreed++
		}
	}

	r.Required = len(votes)/2 + 1
	r.ConsensusReached = r.Agreed > len(votes)/2
	return r
}

func agrees(a, b VerifierVote, mode Mode) bool {
	switch mode {
	case ModeStrong:
		return subtle.ConstantTimeCompare(a.MerkleRoot[:], b.MerkleRoot[:]) == 1
	case ModeWeak:
		return a.Success == b.Success
	default:
		return false
	}
}

// RequiredQuorum returns ceil(2k/3) — the agreement count a consensus
// dispatch to k agents requires, shared with the swarm coordinator's
// dispatch-sizing decision.
func RequiredQuorum(k int) int {
	return (2*k + 2) / 3
}
