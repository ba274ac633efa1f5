package hybrid

import (
	"time"

	"github.com/meshwire/meshwire/internal/runtime/backoff"
	"github.com/meshwire/meshwire/transport"
)

// Override tunes the client for one endpoint. Zero fields fall back to the
// client-wide configuration.
type Override struct {
	// Timeout replaces the global call timeout.
	Timeout time.Duration

	// Retry replaces the global retry policy.
	Retry *backoff.Policy

	// ForceProtocol pins the endpoint to one backend, skipping detection.
	// Sends fail fast with ErrForcedProtocolUnavailable when no backend
	// serves the protocol.
	ForceProtocol transport.Protocol

	// Headers are added to every outgoing message for this endpoint. They
	// count against the propagator's header budget and take precedence
	// over injected metadata on name collisions.
	Headers map[string]string

	// Preference replaces the global protocol preference order.
	Preference []transport.Protocol
}

// ReplaceOverrides swaps the whole per-endpoint override table atomically.
// In-flight sends keep the table they started with.
func (c *Client) ReplaceOverrides(table map[string]Override) {
	next := make(map[string]Override, len(table))
	for endpoint, ov := range table {
		next[endpoint] = ov
	}
	c.overrides.Store(&next)
}

// OverrideFor returns the override for an endpoint, if any.
func (c *Client) OverrideFor(endpoint string) (Override, bool) {
	ov, ok := (*c.overrides.Load())[endpoint]
	return ov, ok
}
