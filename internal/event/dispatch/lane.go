package dispatch

import (
	"fmt"
	"strconv"
)

// LaneID identifies an execution lane. Values are supplied by the
// application, usually as an enumeration starting at zero.
type LaneID uint32

// LaneSet is the fixed set of lanes a dispatcher serves.
// It is immutable after construction and safe for concurrent use.
type LaneSet struct {
	names []string
}

// NewLaneSet creates a lane set with one lane per name.
// Lane IDs are assigned in argument order starting at zero.
// It panics if no names are given.
func NewLaneSet(names ...string) *LaneSet {
	if len(names) == 0 {
		panic("dispatch: lane set must contain at least one lane")
	}
	s := &LaneSet{names: make([]string, len(names))}
	for i, name := range names {
		if name == "" {
			name = "lane-" + strconv.Itoa(i)
		}
		s.names[i] = name
	}
	return s
}

// Count returns the number of lanes.
func (s *LaneSet) Count() int {
	return len(s.names)
}

// Contains reports whether id names a lane of this set.
func (s *LaneSet) Contains(id LaneID) bool {
	return int(id) < len(s.names)
}

// Name returns the configured name of a lane, or "" for unknown IDs.
func (s *LaneSet) Name(id LaneID) string {
	if !s.Contains(id) {
		return ""
	}
	return s.names[id]
}

// Lane validates id against the set and returns a lane token.
func (s *LaneSet) Lane(id LaneID) (Lane, error) {
	if !s.Contains(id) {
		return Lane{}, fmt.Errorf("%w: %d (lane count %d)", ErrInvalidLane, id, len(s.names))
	}
	return Lane{id: id, set: s}, nil
}

// MustLane is like Lane but panics on an unknown id.
// Use it where the lane is a compile-time constant.
func (s *LaneSet) MustLane(id LaneID) Lane {
	l, err := s.Lane(id)
	if err != nil {
		panic("dispatch: " + err.Error())
	}
	return l
}

// All returns a token for every lane in ID order.
func (s *LaneSet) All() []Lane {
	lanes := make([]Lane, len(s.names))
	for i := range s.names {
		lanes[i] = Lane{id: LaneID(i), set: s}
	}
	return lanes
}

// Lane is a validated lane token. The zero value is not a valid lane.
type Lane struct {
	id  LaneID
	set *LaneSet
}

// ID returns the lane identifier.
func (l Lane) ID() LaneID {
	return l.id
}

// Valid reports whether the token was issued by a LaneSet.
func (l Lane) Valid() bool {
	return l.set != nil
}

// BelongsTo reports whether the lane was issued by s.
func (l Lane) BelongsTo(s *LaneSet) bool {
	return l.set != nil && l.set == s
}

// String returns the lane name.
func (l Lane) String() string {
	if l.set == nil {
		return "invalid"
	}
	return l.set.Name(l.id)
}
