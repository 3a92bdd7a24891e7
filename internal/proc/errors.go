package proc

import (
	"fmt"
)

// StartErrorKind distinguishes why a server never became ready.
type StartErrorKind string

const (
	// StartErrorSpawn: the process could not be launched at all.
	StartErrorSpawn StartErrorKind = "spawn_failed"

	// StartErrorExited: the process exited before readiness.
	StartErrorExited StartErrorKind = "process_exited"

	// StartErrorHandshake: the protocol handshake failed, including a
	// protocol-version mismatch.
	StartErrorHandshake StartErrorKind = "handshake_failed"

	// StartErrorTimeout: the wait strategy's timeout expired. Distinct from
	// the other kinds so callers can tell "never started" from "started but
	// never satisfied the readiness predicate".
	StartErrorTimeout StartErrorKind = "ready_timeout"
)

// ServerStartError reports a process, handshake, or readiness failure. It is
// fatal to that server only; conversations using other servers are
// unaffected.
type ServerStartError struct {
	Server string
	Kind   StartErrorKind

	// Stderr is the last-known diagnostic output of the process.
	Stderr string

	Err error
}

func (e *ServerStartError) Error() string {
	msg := fmt.Sprintf("server %s failed to start (%s)", e.Server, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\nstderr tail:\n" + e.Stderr
	}
	return msg
}

func (e *ServerStartError) Unwrap() error {
	return e.Err
}
