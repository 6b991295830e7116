package relay

import "sync/atomic"

// State is the operator-controlled relay gate.
//
// The command task is the only writer; the publish bridge and the metrics
// gauge read it. Readers may observe a change one event late.
type State struct {
	enabled atomic.Bool
}

func NewState(enabled bool) *State {
	s := &State{}
	s.enabled.Store(enabled)
	return s
}

func (s *State) Enabled() bool { return s.enabled.Load() }

// Set stores v and reports whether the value changed.
func (s *State) Set(v bool) bool {
	return s.enabled.Swap(v) != v
}
