package proc

import (
	"time"
)

// WaitKind selects the readiness predicate for a server.
type WaitKind string

const (
	// WaitHandshake: ready once the protocol handshake completes.
	WaitHandshake WaitKind = "handshake"

	// WaitForTools: ready once a named set of tools appears in the server's
	// tool listing.
	WaitForTools WaitKind = "tools"

	// WaitFixedDelay: ready after a fixed delay. Escape hatch for servers
	// with no better signal.
	WaitFixedDelay WaitKind = "delay"
)

// WaitStrategy pairs a readiness predicate with its own timeout.
type WaitStrategy struct {
	Kind WaitKind

	// Tools names the tools that must be listed, for WaitForTools.
	Tools []string

	// Delay is the fixed wait, for WaitFixedDelay.
	Delay time.Duration

	// Timeout bounds the whole wait; expiry moves the server to Failed.
	Timeout time.Duration

	// PollInterval is how often the tool listing is re-checked, for
	// WaitForTools. Zero means the default.
	PollInterval time.Duration
}

// DefaultWait returns the default strategy: ready on handshake, bounded by
// 30 seconds.
func DefaultWait() WaitStrategy {
	return WaitStrategy{Kind: WaitHandshake, Timeout: 30 * time.Second}
}

func (w WaitStrategy) normalized() WaitStrategy {
	if w.Kind == "" {
		w.Kind = WaitHandshake
	}
	if w.Timeout <= 0 {
		w.Timeout = 30 * time.Second
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 100 * time.Millisecond
	}
	return w
}

// containsAll reports whether every wanted name is in listed.
func containsAll(listed []string, wanted []string) bool {
	have := make(map[string]bool, len(listed))
	for _, name := range listed {
		have[name] = true
	}
	for _, name := range wanted {
		if !have[name] {
			return false
		}
	}
	return true
}
