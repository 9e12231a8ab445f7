package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// ClientID builds a broker client identifier such as "eventport-01hx...".
// MQTT brokers reject duplicate client ids, so every process gets a fresh one
// unless configured explicitly.
func ClientID(prefix string) string {
	if prefix == "" {
		prefix = "eventport"
	}
	return prefix + "-" + strings.ToLower(CreateULID())
}
