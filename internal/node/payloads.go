package node

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Round identifies a consensus round.
type Round struct {
	Block  uint64 `json:"block"`
	Reject uint64 `json:"reject"`
}

// String returns the round as "block:reject".
func (r Round) String() string {
	return fmt.Sprintf("%d:%d", r.Block, r.Reject)
}

// Next returns the round following r for the given outcome.
// A commit starts a new block round; anything else retries the block.
func (r Round) Next(kind OutcomeKind) Round {
	if kind == OutcomeCommit {
		return Round{Block: r.Block + 1}
	}
	return Round{Block: r.Block, Reject: r.Reject + 1}
}

// RoundSwitch is published on OnRoundSwitch when the node enters a round.
type RoundSwitch struct {
	Round Round     `json:"round"`
	Peers []string  `json:"peers"`
	At    time.Time `json:"at"`
}

// Clone implements event.Cloner.
func (r RoundSwitch) Clone() RoundSwitch {
	r.Peers = slices.Clone(r.Peers)
	return r
}

// Transaction is a minimal transaction record.
type Transaction struct {
	Hash    string `json:"hash"`
	Creator string `json:"creator"`
}

// Proposal is published on OnProposal.
type Proposal struct {
	Round        Round         `json:"round"`
	Transactions []Transaction `json:"transactions"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Clone implements event.Cloner.
func (p Proposal) Clone() Proposal {
	p.Transactions = slices.Clone(p.Transactions)
	return p
}

// OutcomeKind is the result of a consensus round.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeCommit OutcomeKind = iota
	OutcomeReject
	OutcomeNothing
)

// String returns the outcome kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCommit:
		return "commit"
	case OutcomeReject:
		return "reject"
	case OutcomeNothing:
		return "nothing"
	default:
		return "unknown"
	}
}

// Outcome is published on OnOutcome and OnOutcomeDelayed.
type Outcome struct {
	Kind  OutcomeKind `json:"kind"`
	Round Round       `json:"round"`
}

// Batch is a multi-signature batch waiting for signatures.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	Creator    string    `json:"creator"`
	Signatures []string  `json:"signatures"`
	Quorum     int       `json:"quorum"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Prepared reports whether the batch has collected its quorum.
func (b Batch) Prepared() bool {
	return len(b.Signatures) >= b.Quorum
}

// BatchSet is published on OnStateUpdate, OnPreparedBatches and
// OnExpiredBatches.
type BatchSet struct {
	Batches []Batch `json:"batches"`
}

// Clone implements event.Cloner.
func (s BatchSet) Clone() BatchSet {
	if s.Batches == nil {
		return s
	}
	batches := make([]Batch, len(s.Batches))
	for i, b := range s.Batches {
		b.Signatures = slices.Clone(b.Signatures)
		batches[i] = b
	}
	return BatchSet{Batches: batches}
}

// IDs returns the batch ids in order.
func (s BatchSet) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Batches))
	for i, b := range s.Batches {
		ids[i] = b.ID
	}
	return ids
}
