package hybrid

import (
	"context"

	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/transport"
)

// staticScore is assigned to statically declared capabilities so they rank
// like a fully successful probe round.
const staticScore = 100

// detect resolves the protocol tags an endpoint supports. A static
// declaration wins outright; otherwise every backend is probed, bounded by
// DetectionTimeout per probe, and the whole round reruns up to
// MaxDetectionRetries times before giving up.
func (c *Client) detect(ctx context.Context, endpoint string) (capability, error) {
	if tags, ok := c.conf.Static[endpoint]; ok {
		return capability{
			Tags:  append([]transport.Protocol(nil), tags...),
			Score: staticScore,
		}, nil
	}

	attempts := c.conf.MaxDetectionRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		var tags []transport.Protocol
		score := 0
		for _, backend := range c.probing {
			probeCtx, cancel := context.WithTimeout(ctx, c.conf.DetectionTimeout)
			err := backend.Probe(probeCtx, endpoint)
			cancel()
			if err != nil {
				lastErr = err
				continue
			}
			score++
			for _, tag := range backend.Protocols() {
				if !hasTag(tags, tag) {
					tags = append(tags, tag)
				}
			}
		}

		if len(tags) > 0 {
			return capability{Tags: tags, Score: score}, nil
		}
	}

	return capability{}, &faults.DetectionError{
		Endpoint: endpoint,
		Attempts: attempts,
		Cause:    lastErr,
	}
}

func hasTag(tags []transport.Protocol, tag transport.Protocol) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
