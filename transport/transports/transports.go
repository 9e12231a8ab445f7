// Package transports imports every built-in adapter for its registration
// side effect. Import it to have all adapters in the default registry.
package transports

import (
	_ "github.com/drblury/eventport/transport/channel"
	_ "github.com/drblury/eventport/transport/kafka"
	_ "github.com/drblury/eventport/transport/mqtt"
	_ "github.com/drblury/eventport/transport/nats"
	_ "github.com/drblury/eventport/transport/rabbitmq"
)
