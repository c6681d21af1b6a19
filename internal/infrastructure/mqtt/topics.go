package mqtt

import "fmt"

// TopicPrefix is the root of every bridge topic. Bridge topics use the
// flat scheme graylogic/{category}/{protocol}/{address}.
const TopicPrefix = "graylogic"

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeAck("dmx", "console") // graylogic/ack/dmx/console
type Topics struct{}

// BridgeState returns the topic for state published by a bridge.
//
// Example: graylogic/state/dmx/universe
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge. Address may
// be "#" to build a subscription pattern.
//
// Example: graylogic/command/dmx/console
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements.
//
// Example: graylogic/ack/dmx/console
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, address)
}

// BridgeRequest returns the topic for requests to a bridge.
//
// Example: graylogic/request/dmx/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeResponse returns the topic for request responses.
//
// Example: graylogic/response/dmx/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeHealth returns the retained bridge health topic, which is also
// the will topic.
//
// Example: graylogic/health/dmx
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery returns the retained device list topic.
//
// Example: graylogic/discovery/dmx
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}
