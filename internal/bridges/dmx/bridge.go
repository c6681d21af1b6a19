package dmx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
	"github.com/nerrad567/gray-logic-dmx/internal/universe"
	"github.com/nerrad567/gray-logic-dmx/internal/usbpro"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// defaultSource is used when a command names no source.
	defaultSource = "default"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Executor runs closures on the engine's goroutine.
// *eventloop.Loop satisfies this interface.
type Executor interface {
	Execute(fn func()) error
}

// Engine is the RDM discovery and dispatch engine. Every method except
// Stats is only called from inside an Executor closure.
type Engine interface {
	SendRDMRequest(req *rdm.Request) error
	RunDiscovery() error
	InDiscoveryMode() bool
	UIDs() rdm.UIDSet
	SendDMX(buf universe.Buffer) error
	Stats() usbpro.TriStats
}

var _ Engine = (*usbpro.TriWidget)(nil)

// MetricsWriter receives telemetry points.
// *influxdb.Client satisfies this interface.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config holds bridge settings. Zero values take defaults.
	Config Config

	// Version is reported in health messages.
	Version string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Executor posts work to the engine's goroutine.
	Executor Executor

	// Engine is the RDM engine.
	Engine Engine

	// Link is the serial link, reported in health. Optional.
	Link Link

	// Metrics receives telemetry points. Optional.
	Metrics MetricsWriter

	// Logger is optional structured logger.
	Logger Logger
}

// pendingRequest tracks an RDM request between submission and response.
type pendingRequest struct {
	requestID string
	action    string
	deadline  time.Time
}

type outboundMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge connects Gray Logic Core to the DMX-TRI engine over MQTT.
// It handles:
//   - RDM get/set requests, discovery and device listing
//   - DMX output from any number of command sources, merged HTP
//   - Health reporting and graceful shutdown
//
// Thread Safety: All exported methods are safe for concurrent use.
// HandleRDMResponse and HandleUIDSetChange must run on the Executor.
type Bridge struct {
	cfg     Config
	mqtt    MQTTClient
	exec    Executor
	engine  Engine
	link    Link
	metrics MetricsWriter
	health  *HealthReporter

	pending     map[*rdm.Request]pendingRequest
	pendingMu   sync.Mutex
	transaction atomic.Uint32

	sources   map[string]*universe.Buffer
	output    universe.Buffer
	sourcesMu sync.Mutex

	outbox chan outboundMessage

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool

	requestsReceived atomic.Uint64
	commandsReceived atomic.Uint64
	requestTimeouts  atomic.Uint64
	outboxDropped    atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Wire HandleRDMResponse and HandleUIDSetChange into the engine, then call
// Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidOptions)
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidOptions)
	}

	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:     cfg,
		mqtt:    opts.MQTTClient,
		exec:    opts.Executor,
		engine:  opts.Engine,
		link:    opts.Link,    // May be nil (optional)
		metrics: opts.Metrics, // May be nil (optional)
		pending: make(map[*rdm.Request]pendingRequest),
		sources: make(map[string]*universe.Buffer),
		outbox:  make(chan outboundMessage, cfg.OutboxSize),
		done:    make(chan struct{}),
		logger:  opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.ID,
		Version:   opts.Version,
		Device:    cfg.Device,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Engine:    opts.Engine,
		Link:      opts.Link,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to MQTT topics and starts health reporting and the
// background publishers.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.wg.Add(2)
	go b.publishLoop()
	go b.expireLoop(ctx)
	if b.cfg.DMXRefresh > 0 {
		b.wg.Add(1)
		go b.refreshLoop(ctx)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.cfg.ID)
	return nil
}

// Stop flushes queued messages and shuts the bridge down.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		// Publishes "stopping" status
		b.health.Stop()

		b.sourcesMu.Lock()
		for name, buf := range b.sources {
			buf.Release()
			delete(b.sources, name)
		}
		b.output.Release()
		b.sourcesMu.Unlock()

		b.logInfo("bridge stopped")
	})
}

// RunDiscovery starts a discovery run on the engine.
func (b *Bridge) RunDiscovery() error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}
	return b.exec.Execute(func() {
		if err := b.engine.RunDiscovery(); err != nil {
			b.logError("discovery failed to start", err)
		}
	})
}

// PublishHealth publishes the current health immediately. The daemon calls
// it after an MQTT reconnect so the retained will is overwritten.
func (b *Bridge) PublishHealth() error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}
	return b.health.PublishNow()
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	messageType := parts[1] // command, request

	switch messageType {
	case "command":
		source := ""
		if len(parts) > minTopicParts {
			source = strings.Join(parts[minTopicParts:], "/")
		}
		b.handleCommand(source, payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	b.requestsReceived.Add(1)

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	switch req.Action {
	case "rdm_get", "rdm_set":
		b.handleRDMRequest(req)
	case "discover":
		b.handleDiscover(req)
	case "list_devices":
		b.handleListDevices(req)
	default:
		b.publishResponse(NewErrorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("%v: %s", ErrUnknownAction, req.Action)))
	}
}

// handleRDMRequest submits an rdm_get or rdm_set to the engine. The
// response is published when the engine delivers it or the request expires.
func (b *Bridge) handleRDMRequest(req RequestMessage) {
	rdmReq, err := b.buildRDMRequest(req)
	if err != nil {
		b.publishResponse(NewErrorResponse(req.RequestID, ErrCodeInvalidParameters, err.Error()))
		return
	}
	rdmReq.TransactionNumber = uint8(b.transaction.Add(1))

	b.pendingMu.Lock()
	b.pending[rdmReq] = pendingRequest{
		requestID: req.RequestID,
		action:    req.Action,
		deadline:  time.Now().Add(b.cfg.RequestTimeout),
	}
	b.pendingMu.Unlock()

	err = b.exec.Execute(func() {
		if err := b.engine.SendRDMRequest(rdmReq); err != nil {
			b.failPending(rdmReq, err)
		}
	})
	if err != nil {
		b.failPending(rdmReq, err)
	}
}

// buildRDMRequest validates request parameters into an RDM request.
func (b *Bridge) buildRDMRequest(req RequestMessage) (*rdm.Request, error) {
	uidText, err := requireString(req.Parameters, "uid")
	if err != nil {
		return nil, err
	}
	uid, err := rdm.ParseUID(uidText)
	if err != nil {
		return nil, fmt.Errorf("%w: uid: %w", ErrInvalidParameter, err)
	}

	pid, err := requireUint16(req.Parameters, "pid")
	if err != nil {
		return nil, err
	}

	subDevice, _, err := optionalUint16(req.Parameters, "sub_device")
	if err != nil {
		return nil, err
	}

	var data []byte
	if text, ok := req.Parameters["data"].(string); ok && text != "" {
		data, err = hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrInvalidParameter, err)
		}
	}

	var rdmReq *rdm.Request
	if req.Action == "rdm_set" {
		rdmReq = rdm.NewSetRequest(b.cfg.SourceUID, uid, subDevice, pid, data)
	} else {
		rdmReq = rdm.NewGetRequest(b.cfg.SourceUID, uid, subDevice, pid, data)
	}
	if err := rdmReq.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return rdmReq, nil
}

// failPending answers a pending request with an error derived from err.
func (b *Bridge) failPending(req *rdm.Request, err error) {
	p, ok := b.takePending(req)
	if !ok {
		return
	}

	code := ErrCodeBridgeError
	switch {
	case errors.Is(err, usbpro.ErrUnknownUID), errors.Is(err, usbpro.ErrNotConnected):
		code = ErrCodeDeviceUnreachable
	case errors.Is(err, usbpro.ErrInvalidOptions):
		code = ErrCodeInvalidParameters
	}

	b.logError("rdm request failed", err)
	b.publishResponse(NewErrorResponse(p.requestID, code, err.Error()))
}

// takePending removes and returns the pending entry for req.
func (b *Bridge) takePending(req *rdm.Request) (pendingRequest, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	p, ok := b.pending[req]
	if ok {
		delete(b.pending, req)
	}
	return p, ok
}

// HandleRDMResponse publishes the engine's answer to a pending request.
// It runs on the Executor and never blocks.
func (b *Bridge) HandleRDMResponse(req *rdm.Request, resp *rdm.Response) {
	p, ok := b.takePending(req)
	if !ok {
		b.logDebug("rdm response for expired request",
			"uid", req.Destination.String(),
			"pid", fmt.Sprintf("0x%04x", req.ParamID))
		return
	}

	b.writeResponseMetric(resp)

	data := responseData(resp)
	if reason, isNack := resp.NackReason(); isNack {
		msg := NewErrorResponse(p.requestID, ErrCodeRDMNack,
			fmt.Sprintf("device %s returned nack: %s", resp.Source, reason))
		msg.Error.Details = map[string]any{
			"nack_reason": reason.String(),
			"uid":         resp.Source.String(),
			"pid":         resp.ParamID,
		}
		b.publishResponse(msg)
		return
	}

	b.publishResponse(NewResponse(p.requestID, data))
}

func responseData(resp *rdm.Response) map[string]any {
	return map[string]any{
		"uid":           resp.Source.String(),
		"sub_device":    resp.SubDevice,
		"pid":           resp.ParamID,
		"command_class": resp.CommandClass.String(),
		"response_type": resp.ResponseType.String(),
		"message_count": resp.MessageCount,
		"data":          hex.EncodeToString(resp.ParamData),
	}
}

// HandleUIDSetChange publishes the device table after a discovery run.
// It runs on the Executor and never blocks.
func (b *Bridge) HandleUIDSetChange(uids rdm.UIDSet) {
	b.logInfo("rdm device table updated", "devices", uids.Len())

	b.enqueue(DiscoveryTopic(), NewDiscoveryMessage(b.cfg.ID, uids), true)

	if b.metrics != nil {
		b.metrics.WritePoint("rdm_discovery",
			map[string]string{"bridge": b.cfg.ID},
			map[string]interface{}{"devices": uids.Len()})
	}
}

func (b *Bridge) writeResponseMetric(resp *rdm.Response) {
	if b.metrics == nil {
		return
	}

	tags := map[string]string{
		"bridge":        b.cfg.ID,
		"uid":           resp.Source.String(),
		"pid":           fmt.Sprintf("0x%04x", resp.ParamID),
		"response_type": resp.ResponseType.String(),
	}
	reason, isNack := resp.NackReason()
	if isNack {
		tags["nack_reason"] = reason.String()
	}

	b.metrics.WritePoint("rdm_response", tags, map[string]interface{}{
		"message_count": int(resp.MessageCount),
		"data_length":   len(resp.ParamData),
		"nack":          isNack,
	})
}

// handleDiscover starts discovery and reports whether it was already
// running.
func (b *Bridge) handleDiscover(req RequestMessage) {
	err := b.exec.Execute(func() {
		status := "started"
		if b.engine.InDiscoveryMode() {
			status = "running"
		}
		if err := b.engine.RunDiscovery(); err != nil {
			b.publishResponse(NewErrorResponse(req.RequestID, ErrCodeDeviceUnreachable, err.Error()))
			return
		}
		b.publishResponse(NewResponse(req.RequestID, map[string]any{"status": status}))
	})
	if err != nil {
		b.publishResponse(NewErrorResponse(req.RequestID, ErrCodeBridgeError, err.Error()))
	}
}

// handleListDevices answers with the engine's current device table.
func (b *Bridge) handleListDevices(req RequestMessage) {
	err := b.exec.Execute(func() {
		uids := b.engine.UIDs()
		b.publishResponse(NewResponse(req.RequestID, map[string]any{
			"devices":     uids.UIDs(),
			"count":       uids.Len(),
			"discovering": b.engine.InDiscoveryMode(),
		}))
	})
	if err != nil {
		b.publishResponse(NewErrorResponse(req.RequestID, ErrCodeBridgeError, err.Error()))
	}
}

// handleCommand applies a DMX command for one source and sends the merged
// output when it changed.
func (b *Bridge) handleCommand(source string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if source == "" {
		source = cmd.Source
	}
	if source == "" {
		source = defaultSource
	}
	b.commandsReceived.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"source", source,
		"command", cmd.Command)

	changed, err := b.applyCommand(source, cmd)
	if err != nil {
		code := ErrCodeInvalidParameters
		if errors.Is(err, ErrUnknownCommand) {
			code = ErrCodeInvalidCommand
		}
		b.publishAckError(cmd, source, code, err.Error())
		return
	}

	if changed {
		if err := b.sendOutput(); err != nil {
			b.publishAckError(cmd, source, ErrCodeBridgeError, err.Error())
			return
		}
	}
	b.publishAck(cmd, source)
}

// applyCommand updates the source's buffer and recomputes the merged
// output. It reports whether the output changed.
func (b *Bridge) applyCommand(source string, cmd CommandMessage) (bool, error) {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()

	if cmd.Command == "release" {
		buf, ok := b.sources[source]
		if !ok {
			return false, nil
		}
		buf.Release()
		delete(b.sources, source)
		return b.remergeLocked(), nil
	}

	buf, ok := b.sources[source]
	if !ok {
		buf = &universe.Buffer{}
	}

	if err := applyToBuffer(buf, cmd); err != nil {
		if !ok {
			buf.Release()
		}
		return false, err
	}

	b.sources[source] = buf
	return b.remergeLocked(), nil
}

// applyToBuffer executes one level-changing command against buf.
func applyToBuffer(buf *universe.Buffer, cmd CommandMessage) error {
	switch cmd.Command {
	case "set":
		levels, err := requireString(cmd.Parameters, "levels")
		if err != nil {
			return err
		}
		buf.SetFromString(levels)
		return nil

	case "set_range":
		offset, err := requireInt(cmd.Parameters, "offset")
		if err != nil {
			return err
		}
		values, err := requireString(cmd.Parameters, "values")
		if err != nil {
			return err
		}
		var parsed universe.Buffer
		parsed.SetFromString(values)
		data := parsed.Bytes()
		parsed.Release()
		if err := buf.SetRange(offset, data); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
		}
		return nil

	case "set_channel":
		channel, err := requireInt(cmd.Parameters, "channel")
		if err != nil {
			return err
		}
		if channel < 0 || channel >= universe.Size {
			return fmt.Errorf("%w: channel %d out of range", ErrInvalidParameter, channel)
		}
		value, err := requireInt(cmd.Parameters, "value")
		if err != nil {
			return err
		}
		if value < 0 || value > 255 {
			return fmt.Errorf("%w: value %d out of range", ErrInvalidParameter, value)
		}
		// SetChannel blacks out an uninitialised source and ignores writes
		// past the valid length of any other.
		buf.SetChannel(channel, byte(value))
		if channel >= buf.Size() {
			return fmt.Errorf("%w: channel %d beyond source length %d", ErrInvalidParameter, channel, buf.Size())
		}
		return nil

	case "blackout":
		buf.Blackout()
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Command)
	}
}

// remergeLocked rebuilds the HTP merge of all sources. With no sources
// left the output is a full blackout. It reports whether the output changed
// and, if so, queues a state update. Caller holds sourcesMu.
func (b *Bridge) remergeLocked() bool {
	names := b.sourceNamesLocked()

	var merged universe.Buffer
	if len(names) == 0 {
		merged.Blackout()
	}
	for _, name := range names {
		merged.HTPMerge(*b.sources[name])
	}

	if merged.Equal(b.output) {
		merged.Release()
		return false
	}

	b.output.Release()
	b.output = merged

	b.enqueue(UniverseStateTopic(), UniverseStateMessage{
		Timestamp: time.Now().UTC(),
		Channels:  merged.Size(),
		Levels:    merged.String(),
		Sources:   names,
		Protocol:  Protocol,
	}, true)
	return true
}

func (b *Bridge) sourceNamesLocked() []string {
	names := make([]string, 0, len(b.sources))
	for name := range b.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// sendOutput posts the merged output to the engine.
func (b *Bridge) sendOutput() error {
	b.sourcesMu.Lock()
	frame := b.output.Clone()
	b.sourcesMu.Unlock()

	err := b.exec.Execute(func() {
		defer frame.Release()
		if err := b.engine.SendDMX(frame); err != nil {
			b.logError("failed to send dmx frame", err)
		}
	})
	if err != nil {
		frame.Release()
		return err
	}
	return nil
}

// Output returns a copy of the merged output levels.
func (b *Bridge) Output() []byte {
	b.sourcesMu.Lock()
	defer b.sourcesMu.Unlock()
	return b.output.Bytes()
}

// publishAck publishes a successful command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, source string) {
	b.enqueue(AckTopic(source), NewAckMessage(cmd, source, AckAccepted), false)
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, source, code, message string) {
	b.enqueue(AckTopic(source), NewAckError(cmd, source, code, message), false)
	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

func (b *Bridge) publishResponse(resp ResponseMessage) {
	b.enqueue(ResponseTopic(resp.RequestID), resp, false)
}

// enqueue marshals msg and hands it to the publish loop. It never blocks:
// when the outbox is full the message is dropped.
func (b *Bridge) enqueue(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}

	select {
	case <-b.done:
		b.outboxDropped.Add(1)
		return
	default:
	}

	select {
	case b.outbox <- outboundMessage{topic: topic, payload: payload, retained: retained}:
	default:
		b.outboxDropped.Add(1)
		b.logWarn("outbox full, dropping message", "topic", topic)
	}
}

// publishLoop publishes queued messages until Stop, then drains the outbox.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case msg := <-b.outbox:
			b.publish(msg)
		case <-b.done:
			for {
				select {
				case msg := <-b.outbox:
					b.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(msg outboundMessage) {
	if err := b.mqtt.Publish(msg.topic, msg.payload, 1, msg.retained); err != nil {
		b.logError("failed to publish", fmt.Errorf("topic %s: %w", msg.topic, err))
	}
}

// expireLoop answers requests the engine never completed.
func (b *Bridge) expireLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.expireInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case now := <-ticker.C:
			b.expirePending(now)
		}
	}
}

// expirePending publishes TIMEOUT responses for requests past their
// deadline.
func (b *Bridge) expirePending(now time.Time) {
	var expired []pendingRequest

	b.pendingMu.Lock()
	for req, p := range b.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(b.pending, req)
		}
	}
	b.pendingMu.Unlock()

	for _, p := range expired {
		b.requestTimeouts.Add(1)
		b.logWarn("rdm request timed out", "request_id", p.requestID, "action", p.action)
		b.publishResponse(NewErrorResponse(p.requestID, ErrCodeTimeout,
			fmt.Sprintf("no response within %s", b.cfg.RequestTimeout)))
	}
}

// refreshLoop re-sends the merged output at the configured period.
func (b *Bridge) refreshLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.DMXRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			if err := b.sendOutput(); err != nil {
				b.logError("dmx refresh failed", err)
				return
			}
		}
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains a snapshot of bridge counters.
type BridgeMetrics struct {
	Connected        bool
	Status           string
	FramesTx         uint64
	FramesRx         uint64
	RDMRequestsSent  uint64
	RDMResponses     uint64
	DevicesManaged   int
	PendingRequests  int
	Sources          int
	RequestsReceived uint64
	CommandsReceived uint64
	RequestTimeouts  uint64
	OutboxDropped    uint64
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	engine := b.engine.Stats()

	b.pendingMu.Lock()
	pending := len(b.pending)
	b.pendingMu.Unlock()

	b.sourcesMu.Lock()
	sources := len(b.sources)
	b.sourcesMu.Unlock()

	m := BridgeMetrics{
		Status:           "disconnected",
		RDMRequestsSent:  engine.RequestsSent,
		RDMResponses:     engine.ResponsesDelivered,
		DevicesManaged:   int(engine.Devices),
		PendingRequests:  pending,
		Sources:          sources,
		RequestsReceived: b.requestsReceived.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		RequestTimeouts:  b.requestTimeouts.Load(),
		OutboxDropped:    b.outboxDropped.Load(),
	}

	if b.link != nil {
		stats := b.link.Stats()
		m.Connected = b.link.IsConnected()
		m.FramesTx = stats.FramesTx
		m.FramesRx = stats.FramesRx
		if m.Connected {
			m.Status = "healthy"
		}
	}
	return m
}
