package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/config"
	"github.com/dshills/ledgerbus/internal/event"
)

// batchQuorum is the number of signatures a simulated batch needs.
const batchQuorum = 2

// Simulator drives synthetic consensus rounds through a subscription
// manager: each round switches, proposes, decides an outcome and updates
// the multi-signature batch state.
type Simulator struct {
	m      *event.Manager
	cfg    config.SimulationConfig
	logger zerolog.Logger

	nodeID uuid.UUID
	peers  []string

	// Owned by the goroutine calling Step.
	round   Round
	step    int
	pending []Batch

	published atomic.Uint64
}

// NewSimulator creates a simulator publishing through m.
func NewSimulator(m *event.Manager, cfg config.SimulationConfig, logger zerolog.Logger) *Simulator {
	nodeID := uuid.New()
	return &Simulator{
		m:      m,
		cfg:    cfg,
		logger: logger.With().Str("component", "simulator").Str("node", nodeID.String()).Logger(),
		nodeID: nodeID,
		peers:  []string{nodeID.String(), uuid.NewString(), uuid.NewString(), uuid.NewString()},
		round:  Round{Block: 1},
	}
}

// NodeID returns the id of the simulated node.
func (s *Simulator) NodeID() uuid.UUID {
	return s.nodeID
}

// Round returns the round the next Step runs.
func (s *Simulator) Round() Round {
	return s.round
}

// Published returns the number of notifications published so far.
func (s *Simulator) Published() uint64 {
	return s.published.Load()
}

// Step runs one round and returns its outcome. Step is not safe for
// concurrent use.
func (s *Simulator) Step() Outcome {
	s.step++
	now := time.Now()
	round := s.round

	publish(s, OnRoundSwitch, RoundSwitch{Round: round, Peers: s.peers, At: now})

	proposal := Proposal{Round: round, CreatedAt: now}
	for i := 0; i < s.cfg.TxPerProposal; i++ {
		proposal.Transactions = append(proposal.Transactions, Transaction{
			Hash:    uuid.NewString(),
			Creator: s.peers[i%len(s.peers)],
		})
	}
	publish(s, OnProposal, proposal)

	outcome := Outcome{Kind: s.decide(proposal), Round: round}
	publish(s, OnOutcome, outcome)
	if s.cfg.OutcomeDelay > 0 {
		event.SpaceFor[EventType, Outcome](s.m).NotifyDelayed(OnOutcomeDelayed, s.cfg.OutcomeDelay.Std(), outcome)
		s.published.Add(1)
	}

	s.updateBatches(now)

	s.logger.Debug().
		Str("round", round.String()).
		Str("outcome", outcome.Kind.String()).
		Int("transactions", len(proposal.Transactions)).
		Msg("round finished")

	s.round = round.Next(outcome.Kind)
	return outcome
}

// Run steps every configured interval until the configured number of
// rounds has run or ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval.Std())
	defer ticker.Stop()

	s.logger.Info().Int("rounds", s.cfg.Rounds).Dur("interval", s.cfg.Interval.Std()).Msg("simulation started")

	for n := 0; s.cfg.Rounds == 0 || n < s.cfg.Rounds; n++ {
		s.Step()

		select {
		case <-ctx.Done():
			s.logger.Info().Int("rounds", n+1).Msg("simulation stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.logger.Info().Int("rounds", s.cfg.Rounds).Msg("simulation finished")
	return nil
}

// decide picks the outcome of the current step.
func (s *Simulator) decide(p Proposal) OutcomeKind {
	switch {
	case len(p.Transactions) == 0:
		return OutcomeNothing
	case s.cfg.RejectEvery > 0 && s.step%s.cfg.RejectEvery == 0:
		return OutcomeReject
	default:
		return OutcomeCommit
	}
}

// updateBatches adds new pending batches, signs the pending ones and
// publishes the MST state. Batches still short of quorum after their
// second round expire.
func (s *Simulator) updateBatches(now time.Time) {
	if s.cfg.BatchesPerRound == 0 && len(s.pending) == 0 {
		return
	}

	var prepared, expired, waiting []Batch
	for _, b := range s.pending {
		// Every other batch collects its second signature.
		if b.ID[0]%2 == 0 {
			b.Signatures = append(b.Signatures, s.peers[1])
		}
		if b.Prepared() {
			prepared = append(prepared, b)
		} else {
			expired = append(expired, b)
		}
	}

	for i := 0; i < s.cfg.BatchesPerRound; i++ {
		waiting = append(waiting, Batch{
			ID:         uuid.New(),
			Creator:    s.peers[i%len(s.peers)],
			Signatures: []string{s.nodeID.String()},
			Quorum:     batchQuorum,
			ExpiresAt:  now.Add(2 * s.cfg.Interval.Std()),
		})
	}
	s.pending = waiting

	publish(s, OnStateUpdate, BatchSet{Batches: waiting})
	if len(prepared) > 0 {
		publish(s, OnPreparedBatches, BatchSet{Batches: prepared})
	}
	if len(expired) > 0 {
		publish(s, OnExpiredBatches, BatchSet{Batches: expired})
	}
}

func publish[A any](s *Simulator, key EventType, args A) {
	Publish(s.m, key, args)
	s.published.Add(1)
}

// Report summarizes what an Observer has seen.
type Report struct {
	Rounds          uint64 `json:"rounds"`
	LastRound       Round  `json:"last_round"`
	Proposals       uint64 `json:"proposals"`
	Transactions    uint64 `json:"transactions"`
	Commits         uint64 `json:"commits"`
	Rejects         uint64 `json:"rejects"`
	Empty           uint64 `json:"empty"`
	DelayedOutcomes uint64 `json:"delayed_outcomes"`
	StateUpdates    uint64 `json:"state_updates"`
	PreparedBatches uint64 `json:"prepared_batches"`
	ExpiredBatches  uint64 `json:"expired_batches"`
}

// String returns a one-line summary.
func (r Report) String() string {
	return fmt.Sprintf("rounds=%d last=%s proposals=%d txs=%d commits=%d rejects=%d delayed=%d prepared=%d expired=%d",
		r.Rounds, r.LastRound, r.Proposals, r.Transactions, r.Commits, r.Rejects,
		r.DelayedOutcomes, r.PreparedBatches, r.ExpiredBatches)
}

type roundWatcher struct {
	count uint64
	last  Round
}

type proposalWatcher struct {
	proposals    uint64
	transactions uint64
}

type outcomeWatcher struct {
	commits uint64
	rejects uint64
	empty   uint64
}

type batchWatcher struct {
	updates  uint64
	prepared uint64
	expired  uint64
}

// Observer subscribes the node's bookkeeping components on their lanes.
// It must be kept referenced for as long as it should observe.
type Observer struct {
	rounds    *event.Subscriber[EventType, RoundSwitch, roundWatcher]
	proposals *event.Subscriber[EventType, Proposal, proposalWatcher]
	outcomes  *event.Subscriber[EventType, Outcome, outcomeWatcher]
	delayed   *event.Subscriber[EventType, Outcome, outcomeWatcher]
	batches   *event.Subscriber[EventType, BatchSet, batchWatcher]
}

// Observe registers an Observer with m.
func Observe(m *event.Manager) *Observer {
	o := &Observer{
		rounds: Create(m, OnRoundSwitch, LaneYac, roundWatcher{}, func(w *roundWatcher, r RoundSwitch) {
			w.count++
			w.last = r.Round
		}),
		proposals: Create(m, OnProposal, LaneRequestProposal, proposalWatcher{}, func(w *proposalWatcher, p Proposal) {
			w.proposals++
			w.transactions += uint64(len(p.Transactions))
		}),
		outcomes: Create(m, OnOutcome, LaneYac, outcomeWatcher{}, countOutcome),
		delayed:  Create(m, OnOutcomeDelayed, LaneVoteProcess, outcomeWatcher{}, countOutcome),
	}

	o.batches = event.NewSubscriber[EventType, BatchSet, batchWatcher](event.SpaceFor[EventType, BatchSet](m), batchWatcher{},
		func(_ event.SetID, w *batchWatcher, key EventType, set BatchSet) {
			switch key {
			case OnStateUpdate:
				w.updates++
			case OnPreparedBatches:
				w.prepared += uint64(len(set.Batches))
			case OnExpiredBatches:
				w.expired += uint64(len(set.Batches))
			}
		})
	lane := m.Lanes().MustLane(LaneMetrics)
	for _, key := range []EventType{OnStateUpdate, OnPreparedBatches, OnExpiredBatches} {
		_ = o.batches.Subscribe(lane, 1, key)
	}

	return o
}

func countOutcome(w *outcomeWatcher, o Outcome) {
	switch o.Kind {
	case OutcomeCommit:
		w.commits++
	case OutcomeReject:
		w.rejects++
	default:
		w.empty++
	}
}

// Report returns the current totals.
func (o *Observer) Report() Report {
	var r Report
	o.rounds.Get(func(w *roundWatcher) {
		r.Rounds = w.count
		r.LastRound = w.last
	})
	o.proposals.Get(func(w *proposalWatcher) {
		r.Proposals = w.proposals
		r.Transactions = w.transactions
	})
	o.outcomes.Get(func(w *outcomeWatcher) {
		r.Commits = w.commits
		r.Rejects = w.rejects
		r.Empty = w.empty
	})
	o.delayed.Get(func(w *outcomeWatcher) {
		r.DelayedOutcomes = w.commits + w.rejects + w.empty
	})
	o.batches.Get(func(w *batchWatcher) {
		r.StateUpdates = w.updates
		r.PreparedBatches = w.prepared
		r.ExpiredBatches = w.expired
	})
	return r
}

// Close unsubscribes every component.
func (o *Observer) Close() {
	o.rounds.Close()
	o.proposals.Close()
	o.outcomes.Close()
	o.delayed.Close()
	o.batches.Close()
}
