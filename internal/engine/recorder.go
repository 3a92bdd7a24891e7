package engine

import (
	"github.com/Cyclone1070/agentrig/internal/trace"
)

// recorder accumulates the turn sequence and aggregate usage of one run.
// Indices are monotonically increasing; turns are never reordered or
// mutated after being appended.
type recorder struct {
	turns []trace.Turn
	usage trace.Usage

	// base is the length of the inherited session prefix; the result
	// exposes only turns at or past base.
	base int
}

func newRecorder(seed []trace.Turn, inherited int) *recorder {
	return &recorder{turns: seed, base: inherited}
}

// nextIndex is the index the next appended turn will get.
func (r *recorder) nextIndex() int {
	return len(r.turns)
}

func (r *recorder) appendTurn(t trace.Turn) {
	t.Index = len(r.turns)
	r.turns = append(r.turns, t)
}

// history returns the full turn sequence for the next model invocation.
func (r *recorder) history() []trace.Turn {
	return r.turns
}

// newTurns returns the turns produced by this invocation, excluding the
// inherited prefix.
func (r *recorder) newTurns() []trace.Turn {
	return r.turns[r.base:]
}
