package usbpro

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/eventloop"
	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
	"github.com/nerrad567/gray-logic-dmx/internal/universe"
)

// Widget labels.
const (
	// DMXLabel carries a DMX frame: start code followed by channel data.
	DMXLabel byte = 6

	// ExtendedCommandLabel carries DMX-TRI sub-commands.
	ExtendedCommandLabel byte = 0x58
)

// DMX-TRI sub-command ids.
const (
	cmdDiscoverAuto   byte = 0x33
	cmdDiscoverStatus byte = 0x34
	cmdRemoteUID      byte = 0x35
	cmdRawRDM         byte = 0x37
	cmdRemoteGet      byte = 0x38
	cmdRemoteSet      byte = 0x39
	cmdQueuedGet      byte = 0x3A
	cmdSetFilter      byte = 0x3D
)

// DMX-TRI return codes.
const (
	ecNoError             byte = 0x00
	ecConstraint          byte = 0x01
	ecUnknownCommand      byte = 0x02
	ecInvalidOption       byte = 0x03
	ecFrameFormat         byte = 0x04
	ecDataTooLong         byte = 0x05
	ecDataMissing         byte = 0x06
	ecSystemMode          byte = 0x07
	ecSystemBusy          byte = 0x08
	ecDataChecksum        byte = 0x0A
	ecIncompatible        byte = 0x0B
	ecResponseTime        byte = 0x10
	ecResponseWait        byte = 0x11
	ecResponseMore        byte = 0x12
	ecResponseTransaction byte = 0x13
	ecResponseSubDevice   byte = 0x14
	ecResponseFormat      byte = 0x15
	ecResponseChecksum    byte = 0x16
	ecResponseNone        byte = 0x18
	ecResponseIdentity    byte = 0x1A
	ecResponseMute        byte = 0x1B
	ecResponseDiscovery   byte = 0x1C
	ecResponseUnexpected  byte = 0x1D
)

// nackReasons maps the widget's NACK return codes to E1.20 reasons.
var nackReasons = map[byte]rdm.NackReason{
	0x20: rdm.NRUnknownPID,
	0x21: rdm.NRFormatError,
	0x22: rdm.NRHardwareFault,
	0x23: rdm.NRProxyReject,
	0x24: rdm.NRWriteProtect,
	0x25: rdm.NRUnsupportedCommandClass,
	0x26: rdm.NRDataOutOfRange,
	0x27: rdm.NRBufferFull,
	0x28: rdm.NRPacketSizeUnsupported,
	0x29: rdm.NRSubDeviceOutOfRange,
}

// returnCodeNames is used for log lines only.
var returnCodeNames = map[byte]string{
	ecNoError:             "ok",
	ecConstraint:          "constraint",
	ecUnknownCommand:      "unknown_command",
	ecInvalidOption:       "invalid_option",
	ecFrameFormat:         "frame_format",
	ecDataTooLong:         "data_too_long",
	ecDataMissing:         "data_missing",
	ecSystemMode:          "system_mode",
	ecSystemBusy:          "system_busy",
	ecDataChecksum:        "data_checksum",
	ecIncompatible:        "incompatible",
	ecResponseTime:        "response_timeout",
	ecResponseWait:        "response_wait",
	ecResponseMore:        "response_more",
	ecResponseTransaction: "response_transaction",
	ecResponseSubDevice:   "response_sub_device",
	ecResponseFormat:      "response_format",
	ecResponseChecksum:    "response_checksum",
	ecResponseNone:        "response_none",
	ecResponseIdentity:    "response_identity",
	ecResponseMute:        "response_mute",
	ecResponseDiscovery:   "response_discovery",
	ecResponseUnexpected:  "response_unexpected",
}

func returnCodeName(rc byte) string {
	if name, ok := returnCodeNames[rc]; ok {
		return name
	}
	if reason, ok := nackReasons[rc]; ok {
		return "nack_" + reason.String()
	}
	return fmt.Sprintf("0x%02x", rc)
}

// DefaultStatusInterval is how often discovery progress is polled.
const DefaultStatusInterval = 100 * time.Millisecond

// Scheduler registers repeating callbacks on the engine's goroutine.
// *eventloop.Loop satisfies this interface.
type Scheduler interface {
	RegisterRepeatingTimeout(interval time.Duration, fn func() bool) eventloop.TimeoutID
	RemoveTimeout(id eventloop.TimeoutID)
}

// TriWidgetOptions holds dependencies and callbacks for a TriWidget.
type TriWidgetOptions struct {
	// Transport is required.
	Transport Transport

	// Scheduler is required.
	Scheduler Scheduler

	// Logger is optional.
	Logger Logger

	// StatusInterval is the discovery poll period. Default: 100ms.
	StatusInterval time.Duration

	// OnUIDSetChange fires after every address resolution phase with the
	// full device table.
	OnUIDSetChange func(uids rdm.UIDSet)

	// OnResponse fires once per completed request. The request is passed
	// alongside the response for correlation.
	OnResponse func(req *rdm.Request, resp *rdm.Response)
}

// TriStats holds engine counters. Safe to read from any goroutine.
type TriStats struct {
	RequestsQueued     uint64 `json:"requests_queued"`
	RequestsSent       uint64 `json:"requests_sent"`
	RequestsRejected   uint64 `json:"requests_rejected"`
	RequestsDropped    uint64 `json:"requests_dropped"`
	ResponsesDelivered uint64 `json:"responses_delivered"`
	Nacks              uint64 `json:"nacks"`
	DiscoveryRuns      uint64 `json:"discovery_runs"`
	DMXFramesSent      uint64 `json:"dmx_frames_sent"`
	Devices            int64  `json:"devices"`
}

// TriWidget is the RDM discovery and dispatch engine for a DMX-TRI.
//
// Requests are answered strictly in submission order. At most one request
// is outstanding on the widget at any time, and none while discovery runs.
//
// Thread Safety:
//   - Not safe for concurrent use. Call every method on the Scheduler's
//     goroutine. Stats is the exception.
type TriWidget struct {
	transport      Transport
	scheduler      Scheduler
	logger         Logger
	statusInterval time.Duration
	onUIDSetChange func(rdm.UIDSet)
	onResponse     func(*rdm.Request, *rdm.Response)

	discoveryTimer eventloop.TimeoutID
	uidCount       int
	uidIndex       map[rdm.UID]byte
	queue          []*rdm.Request
	inFlight       *rdm.Request
	partial        *rdm.Response
	lastESTAID     uint16
	closed         bool

	requestsQueued     atomic.Uint64
	requestsSent       atomic.Uint64
	requestsRejected   atomic.Uint64
	requestsDropped    atomic.Uint64
	responsesDelivered atomic.Uint64
	nacks              atomic.Uint64
	discoveryRuns      atomic.Uint64
	dmxFramesSent      atomic.Uint64
	devices            atomic.Int64
}

// NewTriWidget creates the engine and installs it as the transport's
// message handler.
func NewTriWidget(opts TriWidgetOptions) (*TriWidget, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidOptions)
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrInvalidOptions)
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}

	w := &TriWidget{
		transport:      opts.Transport,
		scheduler:      opts.Scheduler,
		logger:         opts.Logger,
		statusInterval: opts.StatusInterval,
		onUIDSetChange: opts.OnUIDSetChange,
		onResponse:     opts.OnResponse,
		uidIndex:       make(map[rdm.UID]byte),
		lastESTAID:     rdm.AllManufacturers,
	}
	opts.Transport.SetMessageHandler(w.HandleMessage)
	return w, nil
}

// SendDMX transmits buf as a DMX frame with a null start code.
func (w *TriWidget) SendDMX(buf universe.Buffer) error {
	if w.closed {
		return ErrClosed
	}

	frame := make([]byte, 1+buf.Size())
	buf.CopyTo(frame[1:])
	if err := w.transport.SendMessage(DMXLabel, frame); err != nil {
		return err
	}
	w.dmxFramesSent.Add(1)
	return nil
}

// RunDiscovery starts a full discovery on the widget. It is a no-op while
// discovery is already running.
func (w *TriWidget) RunDiscovery() error {
	if w.closed {
		return ErrClosed
	}
	if w.InDiscoveryMode() {
		w.logDebug("discovery already running")
		return nil
	}

	if err := w.sendCommand(cmdDiscoverAuto, nil); err != nil {
		w.logWarn("unable to start discovery", "error", err)
		return err
	}

	w.discoveryRuns.Add(1)
	w.discoveryTimer = w.scheduler.RegisterRepeatingTimeout(w.statusInterval, w.checkDiscoveryStatus)
	return nil
}

// InDiscoveryMode reports whether discovery or address resolution is in
// progress.
func (w *TriWidget) InDiscoveryMode() bool {
	return w.discoveryTimer != 0 || w.uidCount != 0
}

// SendRDMRequest queues req. Responses are delivered through OnResponse in
// queue order.
func (w *TriWidget) SendRDMRequest(req *rdm.Request) error {
	if w.closed {
		return ErrClosed
	}
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidOptions)
	}

	if !req.Destination.IsBroadcast() && !w.InDiscoveryMode() {
		if _, ok := w.uidIndex[req.Destination]; !ok {
			w.requestsRejected.Add(1)
			return fmt.Errorf("%w: %s", ErrUnknownUID, req.Destination)
		}
	}

	w.queue = append(w.queue, req)
	w.requestsQueued.Add(1)
	w.maybeSendRDMRequest()
	return nil
}

// UIDs returns the current device table.
func (w *TriWidget) UIDs() rdm.UIDSet {
	set := rdm.NewUIDSet()
	for uid := range w.uidIndex {
		set.Add(uid)
	}
	return set
}

// QueueLength returns the number of requests waiting, including the one in
// flight.
func (w *TriWidget) QueueLength() int {
	n := len(w.queue)
	if w.inFlight != nil {
		n++
	}
	return n
}

// Stop cancels discovery polling.
func (w *TriWidget) Stop() {
	w.stopDiscovery()
}

// Close stops the engine and drops every pending request without invoking
// callbacks. Further calls return ErrClosed.
func (w *TriWidget) Close() {
	if w.closed {
		return
	}
	w.stopDiscovery()
	w.closed = true

	dropped := len(w.queue)
	if w.inFlight != nil {
		dropped++
	}
	clear(w.queue)
	w.queue = nil
	w.inFlight = nil
	w.partial = nil
	w.uidCount = 0

	if dropped > 0 {
		w.requestsDropped.Add(uint64(dropped))
		w.logInfo("dropped pending rdm requests", "count", dropped)
	}
}

// Stats returns engine counters.
func (w *TriWidget) Stats() TriStats {
	return TriStats{
		RequestsQueued:     w.requestsQueued.Load(),
		RequestsSent:       w.requestsSent.Load(),
		RequestsRejected:   w.requestsRejected.Load(),
		RequestsDropped:    w.requestsDropped.Load(),
		ResponsesDelivered: w.responsesDelivered.Load(),
		Nacks:              w.nacks.Load(),
		DiscoveryRuns:      w.discoveryRuns.Load(),
		DMXFramesSent:      w.dmxFramesSent.Load(),
		Devices:            w.devices.Load(),
	}
}

// HandleMessage is the transport callback. It demultiplexes replies by
// sub-command id.
func (w *TriWidget) HandleMessage(label byte, data []byte) {
	if w.closed {
		return
	}
	if label != ExtendedCommandLabel {
		w.logInfo("ignoring frame", "label", label, "length", len(data))
		return
	}
	if len(data) < 2 {
		w.logWarn("extended reply too short", "length", len(data))
		return
	}

	command, rc, body := data[0], data[1], data[2:]
	switch command {
	case cmdDiscoverAuto:
		w.handleDiscoverAutoReply(rc)
	case cmdDiscoverStatus:
		w.handleDiscoverStatusReply(rc, body)
	case cmdRemoteUID:
		w.handleRemoteUIDReply(rc, body)
	case cmdRawRDM:
		w.logDebug("raw rdm reply ignored", "rc", returnCodeName(rc))
	case cmdRemoteGet, cmdRemoteSet, cmdQueuedGet:
		w.handleRemoteReply(rc, body)
	case cmdSetFilter:
		w.handleSetFilterReply(rc)
	default:
		w.logWarn("unknown extended reply", "command", fmt.Sprintf("0x%02x", command))
	}
}

// checkDiscoveryStatus is the repeating discovery poll.
func (w *TriWidget) checkDiscoveryStatus() bool {
	if err := w.sendCommand(cmdDiscoverStatus, nil); err != nil {
		w.logWarn("discovery status poll failed, stopping discovery", "error", err)
		w.discoveryTimer = 0
		w.maybeSendRDMRequest()
		return false
	}
	return true
}

func (w *TriWidget) stopDiscovery() {
	if w.discoveryTimer != 0 {
		w.scheduler.RemoveTimeout(w.discoveryTimer)
		w.discoveryTimer = 0
	}
}

func (w *TriWidget) abortDiscovery() {
	w.stopDiscovery()
	w.maybeSendRDMRequest()
}

func (w *TriWidget) handleDiscoverAutoReply(rc byte) {
	if rc != ecNoError {
		w.logWarn("discovery start rejected", "rc", returnCodeName(rc))
		w.abortDiscovery()
	}
}

func (w *TriWidget) handleDiscoverStatusReply(rc byte, body []byte) {
	if w.discoveryTimer == 0 {
		w.logDebug("stale discovery status reply", "rc", returnCodeName(rc))
		return
	}

	switch rc {
	case ecNoError:
	case ecResponseUnexpected:
		w.logInfo("unexpected response during discovery")
	case ecResponseMute:
		w.logWarn("unable to mute device, aborting discovery")
		w.abortDiscovery()
		return
	case ecResponseDiscovery:
		w.logWarn("duplicate uids detected, aborting discovery")
		w.abortDiscovery()
		return
	default:
		w.logWarn("discovery status error, aborting discovery", "rc", returnCodeName(rc))
		w.abortDiscovery()
		return
	}

	if len(body) < 2 {
		w.logWarn("discovery status reply too short", "length", len(body))
		return
	}

	count, resolving := body[0], body[1]
	if resolving != 0 {
		w.logDebug("discovery in progress", "count", count)
		return
	}

	w.stopDiscovery()
	clear(w.uidIndex)
	w.uidCount = int(count)
	w.logInfo("discovery complete", "devices", count)

	if w.uidCount == 0 {
		w.finishAddressResolution()
		return
	}
	w.fetchNextUID()
}

// fetchNextUID asks for the UID at the current cursor.
func (w *TriWidget) fetchNextUID() {
	if err := w.sendCommand(cmdRemoteUID, []byte{byte(w.uidCount)}); err != nil {
		w.logWarn("uid fetch failed, ending address resolution", "index", w.uidCount, "error", err)
		w.uidCount = 0
		w.finishAddressResolution()
	}
}

func (w *TriWidget) handleRemoteUIDReply(rc byte, body []byte) {
	if w.uidCount == 0 {
		w.logWarn("uid reply outside address resolution")
		return
	}

	switch rc {
	case ecNoError:
		uid, err := rdm.UIDFromBytes(body)
		if err != nil {
			w.logWarn("short uid reply", "index", w.uidCount, "length", len(body))
			break
		}
		w.uidIndex[uid] = byte(w.uidCount)
	case ecConstraint:
		w.logInfo("no device at index, continuing", "index", w.uidCount)
	default:
		w.logInfo("uid fetch error", "index", w.uidCount, "rc", returnCodeName(rc))
	}

	w.uidCount--
	if w.uidCount > 0 {
		w.fetchNextUID()
		return
	}
	w.finishAddressResolution()
}

func (w *TriWidget) finishAddressResolution() {
	uids := w.UIDs()
	w.devices.Store(int64(uids.Len()))
	if w.onUIDSetChange != nil {
		w.onUIDSetChange(uids)
	}
	w.maybeSendRDMRequest()
}

// maybeSendRDMRequest moves the head of the queue onto the wire when the
// widget is idle. Requests that cannot be dispatched are dropped and the
// next one is tried.
func (w *TriWidget) maybeSendRDMRequest() {
	for !w.closed && !w.InDiscoveryMode() && w.inFlight == nil && len(w.queue) > 0 {
		req := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.inFlight = req

		dst := req.Destination
		if dst.IsBroadcast() && dst.ManufacturerID != w.lastESTAID {
			filter := binary.BigEndian.AppendUint16(nil, dst.ManufacturerID)
			if err := w.sendCommand(cmdSetFilter, filter); err != nil {
				w.dropInFlight("set filter failed", err)
				continue
			}
			return
		}

		if w.dispatchInFlight() {
			return
		}
	}
}

// dispatchInFlight encodes and sends the in-flight request. It returns false
// when the request was dropped.
func (w *TriWidget) dispatchInFlight() bool {
	req := w.inFlight

	if req.IsQueuedMessageGet() {
		if len(req.ParamData) == 0 {
			w.dropInFlight("queued message get without status type", nil)
			return false
		}
		index, ok := w.uidIndex[req.Destination]
		if !ok {
			w.dropInFlight("uid not in device table", nil)
			return false
		}
		return w.sendInFlight(cmdQueuedGet, []byte{index, req.ParamData[0]})
	}

	var command byte
	switch req.CommandClass {
	case rdm.GetCommand:
		command = cmdRemoteGet
	case rdm.SetCommand:
		command = cmdRemoteSet
	default:
		w.dropInFlight("request is not get or set", nil)
		return false
	}

	var index byte
	if !req.Destination.IsBroadcast() {
		idx, ok := w.uidIndex[req.Destination]
		if !ok {
			w.dropInFlight("uid not in device table", nil)
			return false
		}
		index = idx
	}

	pdata := req.ParamData
	if len(pdata) > rdm.MaxParamDataLength {
		pdata = pdata[:rdm.MaxParamDataLength]
	}

	// index(1) + sub-device(2) + pid(2) + param data
	body := make([]byte, 0, 5+len(pdata))
	body = append(body, index)
	body = binary.BigEndian.AppendUint16(body, req.SubDevice)
	body = binary.BigEndian.AppendUint16(body, req.ParamID)
	body = append(body, pdata...)
	return w.sendInFlight(command, body)
}

func (w *TriWidget) sendInFlight(command byte, body []byte) bool {
	if err := w.sendCommand(command, body); err != nil {
		w.dropInFlight("rdm send failed", err)
		return false
	}
	w.requestsSent.Add(1)
	w.logDebug("rdm request sent",
		"uid", w.inFlight.Destination.String(),
		"command_class", w.inFlight.CommandClass.String(),
		"pid", fmt.Sprintf("0x%04x", w.inFlight.ParamID))
	return true
}

// dropInFlight releases the in-flight request without a callback.
func (w *TriWidget) dropInFlight(reason string, err error) {
	req := w.inFlight
	w.inFlight = nil
	w.partial = nil
	w.requestsDropped.Add(1)

	kv := []any{"uid", req.Destination.String(), "pid", fmt.Sprintf("0x%04x", req.ParamID)}
	if err != nil {
		kv = append(kv, "error", err)
	}
	w.logWarn("dropping rdm request: "+reason, kv...)
}

func (w *TriWidget) handleSetFilterReply(rc byte) {
	if w.inFlight == nil {
		w.logWarn("set filter reply with no request in flight", "rc", returnCodeName(rc))
		return
	}

	if rc != ecNoError {
		w.dropInFlight("set filter rejected: "+returnCodeName(rc), nil)
		w.maybeSendRDMRequest()
		return
	}

	w.lastESTAID = w.inFlight.Destination.ManufacturerID
	if !w.dispatchInFlight() {
		w.maybeSendRDMRequest()
	}
}

func (w *TriWidget) handleRemoteReply(rc byte, body []byte) {
	req := w.inFlight
	if req == nil {
		w.logWarn("rdm reply with no request in flight", "rc", returnCodeName(rc))
		return
	}

	w.logDebug("rdm reply",
		"rc", returnCodeName(rc),
		"length", len(body),
		"pid", fmt.Sprintf("0x%04x", req.ParamID))

	switch {
	case rc == ecNoError || rc == ecResponseWait || rc == ecResponseMore:
		var messageCount uint8
		if rc == ecResponseWait {
			messageCount = 1
		}
		resp := rdm.GetResponseWithData(req, body, messageCount)

		if w.partial != nil {
			combined, err := rdm.CombineResponses(w.partial, resp)
			if err != nil {
				w.logWarn("unable to combine rdm responses", "error", err)
				w.partial = nil
				w.completeInFlight(nil)
				return
			}
			resp = combined
		}

		if rc == ecResponseMore {
			w.partial = resp
			if !w.dispatchInFlight() {
				w.maybeSendRDMRequest()
			}
			return
		}
		w.partial = nil
		w.completeInFlight(resp)

	default:
		w.partial = nil
		reason, ok := nackReasons[rc]
		if !ok {
			w.logWarn("rdm reply with unhandled return code", "rc", returnCodeName(rc))
			w.completeInFlight(nil)
			return
		}
		w.nacks.Add(1)
		w.completeInFlight(rdm.NackWithReason(req, reason))
	}
}

// completeInFlight pops the in-flight request, delivers resp when non-nil
// and resumes dispatch.
func (w *TriWidget) completeInFlight(resp *rdm.Response) {
	req := w.inFlight
	w.inFlight = nil

	if resp != nil {
		w.responsesDelivered.Add(1)
		if w.onResponse != nil {
			w.onResponse(req, resp)
		}
	}
	w.maybeSendRDMRequest()
}

// sendCommand writes one extended command to the transport.
func (w *TriWidget) sendCommand(command byte, body []byte) error {
	msg := make([]byte, 0, 1+len(body))
	msg = append(msg, command)
	msg = append(msg, body...)
	if err := w.transport.SendMessage(ExtendedCommandLabel, msg); err != nil {
		return fmt.Errorf("%w: command 0x%02x: %w", ErrSendFailed, command, err)
	}
	return nil
}

func (w *TriWidget) logDebug(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, keysAndValues...)
	}
}

func (w *TriWidget) logInfo(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Info(msg, keysAndValues...)
	}
}

func (w *TriWidget) logWarn(msg string, keysAndValues ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, keysAndValues...)
	}
}
