package node

// EventType is the key every node event is published under.
type EventType uint32

// Node events.
const (
	// Consensus outcome and synchronization.
	OnOutcome EventType = iota
	OnSynchronization
	OnInitialSynchronization
	OnCurrentRoundPeers
	OnRoundSwitch
	OnProposal
	OnVerifiedProposal
	OnProcessedHashes
	OnOutcomeFromYac
	OnOutcomeDelayed
	OnBlock
	OnInitialBlock
	OnBlockCreatorEvent
	OnFinalizedTxs
	OnApplyState
	OnNeedProposal
	OnNewProposal

	// Multi-signature transactions.
	OnStateUpdate
	OnPreparedBatches
	OnExpiredBatches

	// Consensus timer.
	Timer

	// Test hook.
	OnTestOperationComplete

	eventTypeCount
)

var eventNames = [...]string{
	OnOutcome:                "on_outcome",
	OnSynchronization:        "on_synchronization",
	OnInitialSynchronization: "on_initial_synchronization",
	OnCurrentRoundPeers:      "on_current_round_peers",
	OnRoundSwitch:            "on_round_switch",
	OnProposal:               "on_proposal",
	OnVerifiedProposal:       "on_verified_proposal",
	OnProcessedHashes:        "on_processed_hashes",
	OnOutcomeFromYac:         "on_outcome_from_yac",
	OnOutcomeDelayed:         "on_outcome_delayed",
	OnBlock:                  "on_block",
	OnInitialBlock:           "on_initial_block",
	OnBlockCreatorEvent:      "on_block_creator_event",
	OnFinalizedTxs:           "on_finalized_txs",
	OnApplyState:             "on_apply_state",
	OnNeedProposal:           "on_need_proposal",
	OnNewProposal:            "on_new_proposal",
	OnStateUpdate:            "on_state_update",
	OnPreparedBatches:        "on_prepared_batches",
	OnExpiredBatches:         "on_expired_batches",
	Timer:                    "timer",
	OnTestOperationComplete:  "on_test_operation_complete",
}

// String returns the event name.
func (e EventType) String() string {
	if e < eventTypeCount {
		return eventNames[e]
	}
	return "unknown"
}

// EventTypes returns every defined event type in declaration order.
func EventTypes() []EventType {
	types := make([]EventType, eventTypeCount)
	for i := range types {
		types[i] = EventType(i)
	}
	return types
}
