package node

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/config"
	"github.com/dshills/ledgerbus/internal/event"
	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		event EventType
		want  string
	}{
		{OnOutcome, "on_outcome"},
		{OnOutcomeDelayed, "on_outcome_delayed"},
		{OnPreparedBatches, "on_prepared_batches"},
		{Timer, "timer"},
		{OnTestOperationComplete, "on_test_operation_complete"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.event.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.event, got, tt.want)
		}
	}

	types := EventTypes()
	if len(types) != int(eventTypeCount) {
		t.Fatalf("expected %d event types, got %d", eventTypeCount, len(types))
	}
	for _, et := range types {
		if et.String() == "" || et.String() == "unknown" {
			t.Errorf("event %d has no name", et)
		}
	}
}

func TestNewLanes(t *testing.T) {
	lanes := NewLanes()

	if lanes.Count() != 4 {
		t.Fatalf("expected 4 lanes, got %d", lanes.Count())
	}
	want := map[dispatch.LaneID]string{
		LaneYac:             "yac",
		LaneMetrics:         "metrics",
		LaneRequestProposal: "request_proposal",
		LaneVoteProcess:     "vote_process",
	}
	for id, name := range want {
		if got := lanes.Name(id); got != name {
			t.Errorf("lane %d name = %q, want %q", id, got, name)
		}
	}
}

func TestPayloadClones(t *testing.T) {
	set := BatchSet{Batches: []Batch{{ID: uuid.New(), Signatures: []string{"a"}, Quorum: 2}}}
	clone := set.Clone()
	clone.Batches[0].Signatures[0] = "changed"
	clone.Batches[0].Quorum = 5
	if set.Batches[0].Signatures[0] != "a" || set.Batches[0].Quorum != 2 {
		t.Errorf("BatchSet clone shares data: %+v", set.Batches[0])
	}
	if clone.IDs()[0] != set.IDs()[0] {
		t.Error("clone should keep batch ids")
	}

	p := Proposal{Transactions: []Transaction{{Hash: "h"}}}
	pc := p.Clone()
	pc.Transactions[0].Hash = "changed"
	if p.Transactions[0].Hash != "h" {
		t.Error("Proposal clone shares transactions")
	}

	r := RoundSwitch{Peers: []string{"p"}}
	rc := r.Clone()
	rc.Peers[0] = "changed"
	if r.Peers[0] != "p" {
		t.Error("RoundSwitch clone shares peers")
	}

	if (BatchSet{}).Clone().Batches != nil {
		t.Error("empty set should clone to empty set")
	}
}

func TestRound_Next(t *testing.T) {
	r := Round{Block: 4, Reject: 1}

	if got := r.Next(OutcomeCommit); got != (Round{Block: 5}) {
		t.Errorf("commit: got %s, want 5:0", got)
	}
	if got := r.Next(OutcomeReject); got != (Round{Block: 4, Reject: 2}) {
		t.Errorf("reject: got %s, want 4:2", got)
	}
	if got := r.Next(OutcomeNothing); got != (Round{Block: 4, Reject: 2}) {
		t.Errorf("nothing: got %s, want 4:2", got)
	}
}

func TestNewDispatcher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DispatcherConfig
		want    string
		wantErr bool
	}{
		{"inline", config.DispatcherConfig{Mode: config.ModeInline}, "inline", false},
		{"pool block", config.DispatcherConfig{Mode: config.ModePool, QueueSize: 8, Overflow: config.OverflowBlock}, "pool", false},
		{"pool reject", config.DispatcherConfig{Mode: config.ModePool, QueueSize: 8, Overflow: config.OverflowReject}, "pool", false},
		{"bad mode", config.DispatcherConfig{Mode: "threads"}, "", true},
		{"bad overflow", config.DispatcherConfig{Mode: config.ModePool, Overflow: "drop"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDispatcher(tt.cfg, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer func() { _ = d.Dispose(context.Background()) }()

			var got string
			switch d.(type) {
			case *dispatch.InlineDispatcher:
				got = "inline"
			case *dispatch.PoolDispatcher:
				got = "pool"
			}
			if got != tt.want {
				t.Errorf("dispatcher = %s, want %s", got, tt.want)
			}
			if d.Lanes().Count() != int(laneCount) {
				t.Errorf("expected node lanes, got %d", d.Lanes().Count())
			}
		})
	}
}

func newInlineManager(t *testing.T) *event.Manager {
	t.Helper()
	m, err := NewSubscription(config.DispatcherConfig{Mode: config.ModeInline}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSubscription failed: %v", err)
	}
	return m
}

func TestCreate(t *testing.T) {
	m := newInlineManager(t)

	type roundState struct {
		seen []Round
	}
	s := Create(m, OnRoundSwitch, LaneYac, roundState{}, func(st *roundState, r RoundSwitch) {
		st.seen = append(st.seen, r.Round)
	})

	Publish(m, OnRoundSwitch, RoundSwitch{Round: Round{Block: 7}})
	Publish(m, OnProposal, RoundSwitch{Round: Round{Block: 8}})

	s.Get(func(st *roundState) {
		if len(st.seen) != 1 || st.seen[0].Block != 7 {
			t.Errorf("expected only the round switch, got %v", st.seen)
		}
	})

	s.Close()
	Publish(m, OnRoundSwitch, RoundSwitch{Round: Round{Block: 9}})
	s.Get(func(st *roundState) {
		if len(st.seen) != 1 {
			t.Errorf("closed subscriber was notified: %v", st.seen)
		}
	})
}

func TestCreate_DroppedSubscriber(t *testing.T) {
	m := newInlineManager(t)
	space := event.SpaceFor[EventType, Outcome](m)

	func() {
		Create(m, OnOutcome, LaneYac, 0, func(*int, Outcome) {})
	}()

	for i := 0; i < 20 && space.Size(OnOutcome) != 0; i++ {
		runtime.GC()
		Publish(m, OnOutcome, Outcome{})
	}
	if space.Size(OnOutcome) != 0 {
		t.Errorf("dropped subscriber should be pruned, size %d", space.Size(OnOutcome))
	}
}

func testSimulationConfig() config.SimulationConfig {
	return config.SimulationConfig{
		Rounds:          4,
		Interval:        config.Duration(time.Millisecond),
		TxPerProposal:   3,
		BatchesPerRound: 2,
		OutcomeDelay:    config.Duration(5 * time.Millisecond),
		RejectEvery:     2,
	}
}

func TestSimulator_StepInline(t *testing.T) {
	m := newInlineManager(t)
	obs := Observe(m)
	defer obs.Close()

	sim := NewSimulator(m, testSimulationConfig(), zerolog.Nop())

	kinds := []OutcomeKind{OutcomeCommit, OutcomeReject, OutcomeCommit, OutcomeReject}
	for i, want := range kinds {
		if got := sim.Step().Kind; got != want {
			t.Errorf("step %d: outcome %s, want %s", i+1, got, want)
		}
	}

	r := obs.Report()
	if r.Rounds != 4 || r.Proposals != 4 || r.Transactions != 12 {
		t.Errorf("unexpected round totals: %s", r)
	}
	if r.Commits != 2 || r.Rejects != 2 {
		t.Errorf("unexpected outcomes: %s", r)
	}
	if r.DelayedOutcomes != 4 {
		t.Errorf("expected 4 delayed outcomes, got %d", r.DelayedOutcomes)
	}
	if r.LastRound != (Round{Block: 3}) {
		t.Errorf("last round = %s, want 3:0", r.LastRound)
	}
	if r.StateUpdates != 4 {
		t.Errorf("expected 4 state updates, got %d", r.StateUpdates)
	}
	if r.PreparedBatches+r.ExpiredBatches != 6 {
		t.Errorf("expected 6 resolved batches, got %d prepared and %d expired", r.PreparedBatches, r.ExpiredBatches)
	}
	if sim.Round() != (Round{Block: 3, Reject: 1}) {
		t.Errorf("next round = %s, want 3:1", sim.Round())
	}
	if sim.Published() < 20 {
		t.Errorf("expected at least 20 notifications, got %d", sim.Published())
	}
}

func TestSimulator_EmptyProposal(t *testing.T) {
	m := newInlineManager(t)
	cfg := testSimulationConfig()
	cfg.TxPerProposal = 0

	sim := NewSimulator(m, cfg, zerolog.Nop())
	if got := sim.Step().Kind; got != OutcomeNothing {
		t.Errorf("outcome = %s, want nothing", got)
	}
}

func TestSimulator_RunPool(t *testing.T) {
	m, err := NewSubscription(config.DispatcherConfig{Mode: config.ModePool, QueueSize: 16, Overflow: config.OverflowBlock}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSubscription failed: %v", err)
	}
	defer func() { _ = m.Dispose(context.Background()) }()

	obs := Observe(m)
	defer obs.Close()

	cfg := testSimulationConfig()
	cfg.Rounds = 3
	sim := NewSimulator(m, cfg, zerolog.Nop())

	if err := sim.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r := obs.Report()
		if r.Rounds == 3 && r.Proposals == 3 && r.DelayedOutcomes == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer did not catch up: %s", r)
		}
		time.Sleep(time.Millisecond)
	}

	spaces := m.Spaces()
	if len(spaces) != 4 {
		t.Errorf("expected 4 argument spaces, got %d", len(spaces))
	}
}

func TestSimulator_RunCancel(t *testing.T) {
	m := newInlineManager(t)
	cfg := testSimulationConfig()
	cfg.Rounds = 0
	cfg.Interval = config.Duration(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := NewSimulator(m, cfg, zerolog.Nop())
	if err := sim.Run(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if sim.Round() == (Round{Block: 1}) {
		t.Error("expected one round before cancellation")
	}
}
