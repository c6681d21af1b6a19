package dmx

import (
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
	"github.com/nerrad567/gray-logic-dmx/internal/usbpro"
)

// Protocol is the protocol segment used in every bridge topic.
const Protocol = "dmx"

// MQTT message types exchanged between Gray Logic Core and the DMX bridge.

// CommandMessage is sent from Core to set DMX output for one source.
// Topic: graylogic/command/dmx/{source}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is one of "set", "set_range", "set_channel", "blackout", "release".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"levels": "0,255,128"} for set
	//   {"offset": 10, "values": "255,255"} for set_range
	//   {"channel": 3, "value": 200} for set_channel
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source names the contributor whose levels this command changes. The
	// topic suffix wins when both are present.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the levels were merged and sent to the widget.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to acknowledge a command.
// Topic: graylogic/ack/dmx/{source}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
	ErrCodeRDMNack           = "RDM_NACK"
)

// UniverseStateMessage carries the merged output levels.
// Topic: graylogic/state/dmx/universe
// QoS: 1, Retained: Yes
type UniverseStateMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Channels  int       `json:"channels"`
	Levels    string    `json:"levels"`
	Sources   []string  `json:"sources"`
	Protocol  string    `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/dmx
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the serial link to the widget.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Device is the serial device path.
	Device string `json:"device,omitempty"`

	// LastActivity is when a frame last crossed the link.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	FramesReceived     uint64 `json:"frames_received"`
	FramesSent         uint64 `json:"frames_sent"`
	FramesDropped      uint64 `json:"frames_dropped"`
	Errors             uint64 `json:"errors"`
	RDMRequestsSent    uint64 `json:"rdm_requests_sent"`
	RDMResponses       uint64 `json:"rdm_responses"`
	RDMNacks           uint64 `json:"rdm_nacks"`
	RDMRequestsDropped uint64 `json:"rdm_requests_dropped"`
	DiscoveryRuns      uint64 `json:"discovery_runs"`
	DMXFramesSent      uint64 `json:"dmx_frames_sent"`
}

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/dmx/{request_id}
type RequestMessage struct {
	// RequestID correlates the response. A random id is assigned when empty.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is one of "rdm_get", "rdm_set", "discover", "list_devices".
	Action string `json:"action"`

	// Parameters for rdm_get and rdm_set:
	//   {"uid": "7a70:00000001", "sub_device": 0, "pid": 130, "data": "0a0b"}
	// pid may also be a string such as "0x0082". data is hex.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/dmx/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DiscoveryMessage announces the RDM devices found on the line.
// Topic: graylogic/discovery/dmx
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one responder in the device table.
type DiscoveredDevice struct {
	Protocol       string  `json:"protocol"`
	UID            rdm.UID `json:"uid"`
	ManufacturerID uint16  `json:"manufacturer_id"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, source string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, source, code, message string) AckMessage {
	ack := NewAckMessage(cmd, source, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewResponse creates a successful response.
func NewResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewErrorResponse creates a failed response.
func NewErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// NewDiscoveryMessage lists uids in sorted order.
func NewDiscoveryMessage(bridgeID string, uids rdm.UIDSet) DiscoveryMessage {
	devices := make([]DiscoveredDevice, 0, uids.Len())
	for _, uid := range uids.UIDs() {
		devices = append(devices, DiscoveredDevice{
			Protocol:       Protocol,
			UID:            uid,
			ManufacturerID: uid.ManufacturerID,
		})
	}
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   devices,
	}
}

// NewHealthMessage creates a health status message from engine and link
// counters.
func NewHealthMessage(bridgeID, version string, status HealthStatus, engine usbpro.TriStats, link usbpro.WidgetStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: int(engine.Devices),
	}

	if link.Connected {
		lastActivity := link.LastActivity
		msg.Connection = &ConnectionStatus{
			Status:       "connected",
			LastActivity: &lastActivity,
		}
	} else {
		msg.Connection = &ConnectionStatus{Status: "disconnected"}
	}

	msg.Statistics = &BridgeStatistics{
		FramesReceived:     link.FramesRx,
		FramesSent:         link.FramesTx,
		FramesDropped:      link.FramesDropped,
		Errors:             link.ErrorsTotal,
		RDMRequestsSent:    engine.RequestsSent,
		RDMResponses:       engine.ResponsesDelivered,
		RDMNacks:           engine.Nacks,
		RDMRequestsDropped: engine.RequestsDropped,
		DiscoveryRuns:      engine.DiscoveryRuns,
		DMXFramesSent:      engine.DMXFramesSent,
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

var topics mqtt.Topics

// AckTopic returns the acknowledgment topic for a source.
// Example: graylogic/ack/dmx/console
func AckTopic(source string) string {
	return topics.BridgeAck(Protocol, source)
}

// UniverseStateTopic returns the retained topic for merged output levels.
// Example: graylogic/state/dmx/universe
func UniverseStateTopic() string {
	return topics.BridgeState(Protocol, "universe")
}

// HealthTopic returns the bridge health topic.
// Example: graylogic/health/dmx
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// ResponseTopic returns the response topic for a request id.
// Example: graylogic/response/dmx/req-123
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// DiscoveryTopic returns the retained device table topic.
// Example: graylogic/discovery/dmx
func DiscoveryTopic() string {
	return topics.BridgeDiscovery(Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/dmx/#
func CommandSubscribeTopic() string {
	return topics.BridgeCommand(Protocol, "#")
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
// Example: graylogic/request/dmx/#
func RequestSubscribeTopic() string {
	return topics.BridgeRequest(Protocol, "#")
}
