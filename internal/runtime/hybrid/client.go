// Package hybrid implements the multi-protocol client: it detects what an
// endpoint can speak, caches the answer, picks the most preferred protocol,
// and sends envelopes through the matching backend with retries.
package hybrid

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meshwire/meshwire/internal/runtime/backoff"
	"github.com/meshwire/meshwire/internal/runtime/envelope"
	errs "github.com/meshwire/meshwire/internal/runtime/errors"
	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/headers"
	"github.com/meshwire/meshwire/internal/runtime/ids"
	"github.com/meshwire/meshwire/internal/runtime/logging"
	"github.com/meshwire/meshwire/internal/runtime/propagation"
	"github.com/meshwire/meshwire/transport"
)

// Config tunes the hybrid client.
type Config struct {
	// Preference is the protocol order used when an endpoint supports more
	// than one. Defaults to transport.DefaultPreference().
	Preference []transport.Protocol

	// CacheTTL bounds how long a detection result is trusted.
	CacheTTL time.Duration

	// DetectionTimeout bounds each individual probe.
	DetectionTimeout time.Duration

	// MaxDetectionRetries is how often a failed detection round is rerun.
	MaxDetectionRetries int

	// CallTimeout bounds each send attempt. Zero means the caller's
	// context is the only bound.
	CallTimeout time.Duration

	// Retry is the send retry policy. The zero value gets defaults.
	Retry backoff.Policy

	// Static declares endpoint capabilities up front, skipping probes.
	Static map[string][]transport.Protocol
}

func (c Config) withDefaults() Config {
	if len(c.Preference) == 0 {
		c.Preference = transport.DefaultPreference()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = 2 * time.Second
	}
	if c.MaxDetectionRetries < 0 {
		c.MaxDetectionRetries = 0
	}
	return c
}

// Client is the single send entry point over a set of protocol backends.
type Client struct {
	conf     Config
	backends map[transport.Protocol]transport.Backend
	probing  []transport.Backend

	cache     *capabilityCache
	overrides atomic.Pointer[map[string]Override]
	prop      *propagation.Propagator
	log       logging.ServiceLogger
}

// New builds a Client over the given backends. The first backend serving a
// protocol tag wins that tag; all backends participate in probing.
func New(conf Config, prop *propagation.Propagator, log logging.ServiceLogger, backends ...transport.Backend) (*Client, error) {
	if log == nil {
		return nil, errs.ErrLoggerRequired
	}
	if prop == nil {
		prop = propagation.Default()
	}

	conf = conf.withDefaults()
	c := &Client{
		conf:     conf,
		backends: make(map[transport.Protocol]transport.Backend, len(backends)),
		probing:  backends,
		cache:    newCapabilityCache(conf.CacheTTL),
		prop:     prop,
		log:      log.With(logging.LogFields{"component": "hybrid"}),
	}
	for _, b := range backends {
		for _, tag := range b.Protocols() {
			if _, taken := c.backends[tag]; !taken {
				c.backends[tag] = b
			}
		}
	}

	empty := map[string]Override{}
	c.overrides.Store(&empty)
	return c, nil
}

// Send delivers the envelope to the endpoint over the selected protocol and
// returns the peer's response envelope.
func (c *Client) Send(ctx context.Context, endpoint string, env *envelope.Envelope[[]byte]) (*envelope.Envelope[[]byte], error) {
	if env == nil {
		return nil, errs.ErrEnvelopeRequired
	}
	if endpoint == "" {
		return nil, errs.ErrEndpointRequired
	}

	ov, _ := c.OverrideFor(endpoint)

	msg := message.NewMessage(ids.CreateULID(), env.Payload)
	// Override headers go on first so Inject counts them against the
	// header budget, then again afterwards so they win name collisions.
	for key, value := range ov.Headers {
		msg.Metadata.Set(key, value)
	}
	if err := c.prop.Inject(env.Meta, headers.Metadata(msg.Metadata)); err != nil {
		return nil, err
	}
	for key, value := range ov.Headers {
		msg.Metadata.Set(key, value)
	}

	backend, err := c.selectBackend(ctx, endpoint, ov)
	if err != nil {
		return nil, err
	}

	timeout := c.conf.CallTimeout
	if ov.Timeout > 0 {
		timeout = ov.Timeout
	}
	policy := c.conf.Retry
	if ov.Retry != nil {
		policy = *ov.Retry
	}

	var reply *message.Message
	reselected := false
	err = policy.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var callErr error
		reply, callErr = backend.Request(callCtx, endpoint, msg)
		if callErr == nil {
			return nil
		}

		// A wire failure may mean the cached capability is stale. Drop the
		// entry and re-select once; further failures ride the retry policy
		// on whatever backend won.
		if faults.Retryable(callErr) && !reselected && ov.ForceProtocol == "" {
			reselected = true
			c.cache.invalidate(endpoint)
			if next, selErr := c.selectBackend(ctx, endpoint, ov); selErr == nil {
				backend = next
			}
		}
		return callErr
	})
	if err != nil {
		c.log.Error("send failed", err, logging.LogFields{
			"endpoint": endpoint,
			"backend":  backend.Name(),
		})
		return nil, err
	}

	meta, err := c.prop.Extract(headers.ReadonlyMetadata(reply.Metadata))
	if err != nil {
		return nil, err
	}
	return &envelope.Envelope[[]byte]{Meta: meta, Payload: reply.Payload}, nil
}

// Capabilities exposes the live cache entries for introspection.
func (c *Client) Capabilities() map[string][]transport.Protocol {
	out := map[string][]transport.Protocol{}
	for endpoint, entry := range c.cache.snapshot() {
		out[endpoint] = append([]transport.Protocol(nil), entry.Tags...)
	}
	return out
}

// Close closes every distinct backend.
func (c *Client) Close() error {
	var errsList []error
	for _, b := range c.probing {
		errsList = append(errsList, b.Close())
	}
	return errors.Join(errsList...)
}

func (c *Client) selectBackend(ctx context.Context, endpoint string, ov Override) (transport.Backend, error) {
	if ov.ForceProtocol != "" {
		b, ok := c.backends[ov.ForceProtocol]
		if !ok {
			return nil, faults.ErrForcedProtocolUnavailable
		}
		return b, nil
	}

	pref := c.conf.Preference
	if len(ov.Preference) > 0 {
		pref = ov.Preference
	}

	entry, ok := c.cache.get(endpoint)
	if !ok {
		detected, err := c.detect(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		c.cache.put(endpoint, detected)
		entry = detected
		c.log.Debug("detected endpoint capabilities", logging.LogFields{
			"endpoint":  endpoint,
			"protocols": detected.Tags,
		})
	}

	for _, tag := range pref {
		if !entry.has(tag) {
			continue
		}
		if b, ok := c.backends[tag]; ok {
			return b, nil
		}
	}
	return nil, &faults.DetectionError{
		Endpoint: endpoint,
		Attempts: 1,
		Cause:    errors.New("no preferred protocol among detected capabilities"),
	}
}
