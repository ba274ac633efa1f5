// Package transports imports all built-in substrates for auto-registration.
// Import this package to have every substrate registered with the default
// registry.
package transports

import (
	// Import all substrates for side-effect registration
	_ "github.com/meshwire/meshwire/transport/aws"
	_ "github.com/meshwire/meshwire/transport/channel"
	_ "github.com/meshwire/meshwire/transport/httpcall"
	_ "github.com/meshwire/meshwire/transport/jetstream"
	_ "github.com/meshwire/meshwire/transport/kafka"

	"github.com/meshwire/meshwire/transport/nats"
	"github.com/meshwire/meshwire/transport/rabbitmq"
)

func init() {
	// These two opt out of init-time registration so tests can build them
	// in isolation; register them here instead.
	nats.Register()
	rabbitmq.Register()
}
