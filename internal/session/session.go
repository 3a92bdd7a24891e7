// Package session carries conversation history across independent engine
// runs. A Session is an immutable snapshot of prior turns; a continuation
// produces a fresh seed slice for a new conversation, so the stored turns
// are never extended or reordered in place.
package session

import (
	"github.com/google/uuid"

	"github.com/Cyclone1070/agentrig/internal/trace"
)

// Session is an ordered, append-only snapshot of conversation turns plus
// provenance. The engine never persists sessions; lifetime is owned by the
// caller.
type Session struct {
	id    string
	flow  string
	turns []trace.Turn
}

// Snapshot deep-copies the given turns into a new Session. Later mutation of
// the originating conversation does not affect the snapshot.
func Snapshot(flow string, turns []trace.Turn) *Session {
	return &Session{
		id:    uuid.NewString(),
		flow:  flow,
		turns: trace.CloneTurns(turns),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Flow returns the logical flow this session belongs to.
func (s *Session) Flow() string { return s.flow }

// Len returns the number of stored turns.
func (s *Session) Len() int {
	if s == nil {
		return 0
	}
	return len(s.turns)
}

// Turns returns a deep copy of the stored turns.
func (s *Session) Turns() []trace.Turn {
	if s == nil {
		return nil
	}
	return trace.CloneTurns(s.turns)
}

// Continue produces the seed turns for a new conversation: a copy of the
// stored turns followed by a user turn carrying the new prompt. The stored
// session is left untouched.
func (s *Session) Continue(prompt string) []trace.Turn {
	seed := s.Turns()
	seed = append(seed, trace.Turn{
		Index:   len(seed),
		Role:    trace.RoleUser,
		Content: prompt,
	})
	return seed
}
