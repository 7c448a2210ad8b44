package node

import "github.com/dshills/ledgerbus/internal/event/dispatch"

// Execution lanes of the node.
const (
	// LaneYac runs consensus voting.
	LaneYac dispatch.LaneID = iota
	// LaneMetrics runs metric updates.
	LaneMetrics
	// LaneRequestProposal runs proposal requests to the ordering service.
	LaneRequestProposal
	// LaneVoteProcess runs incoming vote processing.
	LaneVoteProcess

	laneCount
)

var laneNames = [laneCount]string{
	LaneYac:             "yac",
	LaneMetrics:         "metrics",
	LaneRequestProposal: "request_proposal",
	LaneVoteProcess:     "vote_process",
}

// NewLanes returns the lane set of the node. Dispatchers built for the node
// must use a set created here so lane IDs resolve to the lanes above.
func NewLanes() *dispatch.LaneSet {
	return dispatch.NewLaneSet(laneNames[:]...)
}
