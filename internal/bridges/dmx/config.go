package dmx

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
)

// Configuration defaults.
const (
	defaultBridgeID       = "dmx-tri"
	defaultRequestTimeout = 10 * time.Second
	defaultOutboxSize     = 100

	minExpireInterval = 10 * time.Millisecond
	maxExpireInterval = time.Second
)

// DefaultSourceUID is the UID the bridge uses as the source of RDM requests
// when none is configured.
var DefaultSourceUID = rdm.NewUID(0x7a70, 0x00000001)

// Config holds the bridge settings. Zero values take defaults.
type Config struct {
	// ID identifies this bridge in health and discovery messages.
	// Default: "dmx-tri".
	ID string

	// Device is the serial device path, reported in health messages.
	Device string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// RequestTimeout is how long an RDM request may wait for the engine
	// before a TIMEOUT response is published. Default: 10s.
	RequestTimeout time.Duration

	// DMXRefresh re-sends the merged output at this period. Zero sends
	// only on change.
	DMXRefresh time.Duration

	// SourceUID is the controller UID placed in outgoing requests.
	SourceUID rdm.UID

	// OutboxSize bounds the number of messages waiting to be published.
	// Default: 100.
	OutboxSize int
}

// withDefaults returns a copy of c with defaults applied.
func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = defaultBridgeID
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.DMXRefresh < 0 {
		c.DMXRefresh = 0
	}
	if c.SourceUID == (rdm.UID{}) {
		c.SourceUID = DefaultSourceUID
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	return c
}

// Validate checks settings that have no sensible default.
func (c Config) Validate() error {
	if c.SourceUID.IsBroadcast() {
		return fmt.Errorf("%w: source uid %s is a broadcast address", ErrInvalidParameter, c.SourceUID)
	}
	return nil
}

// expireInterval is the period of the request expiry sweep.
func (c Config) expireInterval() time.Duration {
	return min(max(c.RequestTimeout/2, minExpireInterval), maxExpireInterval)
}
