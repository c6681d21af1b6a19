package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single message at 1MB, in line with broker defaults.
// The largest DMX bridge payload is a 512-slot universe state.
const maxPayloadSize = 1 << 20

// Publish sends a message and waits up to defaultPublishTimeout for the
// broker acknowledgment (QoS 1 and 2).
//
// Retained publishes are used for state the bridge owns: health, the
// merged universe and the discovered device list. Acks and responses are
// not retained.
//
//	err := client.Publish("graylogic/ack/dmx/console", payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
