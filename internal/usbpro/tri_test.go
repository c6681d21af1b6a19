package usbpro

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-dmx/internal/eventloop"
	"github.com/nerrad567/gray-logic-dmx/internal/rdm"
	"github.com/nerrad567/gray-logic-dmx/internal/universe"
)

type sentFrame struct {
	label byte
	data  []byte
}

// mockTransport records frames instead of writing them.
type mockTransport struct {
	mu      sync.Mutex
	sent    []sentFrame
	handler func(label byte, data []byte)
	failOn  map[byte]bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{failOn: make(map[byte]bool)}
}

func (m *mockTransport) SendMessage(label byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == ExtendedCommandLabel && len(data) > 0 && m.failOn[data[0]] {
		return errors.New("write failed")
	}
	m.sent = append(m.sent, sentFrame{label: label, data: append([]byte(nil), data...)})
	return nil
}

func (m *mockTransport) SetMessageHandler(handler func(label byte, data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockTransport) fail(command byte, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[command] = fail
}

// take returns and clears the recorded frames.
func (m *mockTransport) take() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

// manualScheduler fires timers only when told to.
type manualScheduler struct {
	mu     sync.Mutex
	nextID eventloop.TimeoutID
	timers map[eventloop.TimeoutID]func() bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{timers: make(map[eventloop.TimeoutID]func() bool)}
}

func (s *manualScheduler) RegisterRepeatingTimeout(_ time.Duration, fn func() bool) eventloop.TimeoutID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.timers[s.nextID] = fn
	return s.nextID
}

func (s *manualScheduler) RemoveTimeout(id eventloop.TimeoutID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, id)
}

// fire runs every active timer once.
func (s *manualScheduler) fire() {
	s.mu.Lock()
	pending := make(map[eventloop.TimeoutID]func() bool, len(s.timers))
	for id, fn := range s.timers {
		pending[id] = fn
	}
	s.mu.Unlock()

	for id, fn := range pending {
		if !fn() {
			s.RemoveTimeout(id)
		}
	}
}

func (s *manualScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type delivered struct {
	req  *rdm.Request
	resp *rdm.Response
}

type triFixture struct {
	t         *testing.T
	transport *mockTransport
	sched     *manualScheduler
	widget    *TriWidget
	uidSets   []rdm.UIDSet
	responses []delivered
}

func newTriFixture(t *testing.T) *triFixture {
	t.Helper()
	f := &triFixture{
		t:         t,
		transport: newMockTransport(),
		sched:     newManualScheduler(),
	}
	w, err := NewTriWidget(TriWidgetOptions{
		Transport:      f.transport,
		Scheduler:      f.sched,
		OnUIDSetChange: func(uids rdm.UIDSet) { f.uidSets = append(f.uidSets, uids) },
		OnResponse: func(req *rdm.Request, resp *rdm.Response) {
			f.responses = append(f.responses, delivered{req: req, resp: resp})
		},
	})
	require.NoError(t, err)
	f.widget = w
	return f
}

// reply feeds an extended command reply into the engine.
func (f *triFixture) reply(command, rc byte, body ...byte) {
	f.widget.HandleMessage(ExtendedCommandLabel, append([]byte{command, rc}, body...))
}

// discover runs a full discovery that finds uids. uids[i] ends up at bus
// index i+1.
func (f *triFixture) discover(uids ...rdm.UID) {
	f.t.Helper()
	require.NoError(f.t, f.widget.RunDiscovery())
	f.sched.fire()
	f.reply(cmdDiscoverStatus, ecNoError, byte(len(uids)), 0)
	for i := len(uids); i > 0; i-- {
		f.reply(cmdRemoteUID, ecNoError, uids[i-1].Bytes()...)
	}
	require.False(f.t, f.widget.InDiscoveryMode())
	f.transport.take()
}

// extended returns the payloads of extended command frames.
func extended(frames []sentFrame) [][]byte {
	var out [][]byte
	for _, fr := range frames {
		if fr.label == ExtendedCommandLabel {
			out = append(out, fr.data)
		}
	}
	return out
}

var (
	uidA = rdm.NewUID(0x7a70, 0x00000001)
	uidB = rdm.NewUID(0x7a70, 0x00000002)
	src  = rdm.NewUID(0x4744, 0x00000001)
)

func TestNewTriWidgetRequiresDependencies(t *testing.T) {
	_, err := NewTriWidget(TriWidgetOptions{Scheduler: newManualScheduler()})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewTriWidget(TriWidgetOptions{Transport: newMockTransport()})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	transport := newMockTransport()
	_, err = NewTriWidget(TriWidgetOptions{Transport: transport, Scheduler: newManualScheduler()})
	require.NoError(t, err)
	assert.NotNil(t, transport.handler)
}

func TestDiscoveryBuildsDeviceTable(t *testing.T) {
	f := newTriFixture(t)

	require.NoError(t, f.widget.RunDiscovery())
	assert.Equal(t, [][]byte{{cmdDiscoverAuto}}, extended(f.transport.take()))
	assert.True(t, f.widget.InDiscoveryMode())
	assert.Equal(t, 1, f.sched.active())

	// A second run while discovering does nothing.
	require.NoError(t, f.widget.RunDiscovery())
	assert.Empty(t, f.transport.take())

	f.reply(cmdDiscoverAuto, ecNoError)
	f.sched.fire()
	assert.Equal(t, [][]byte{{cmdDiscoverStatus}}, extended(f.transport.take()))

	// Still resolving: keep polling.
	f.reply(cmdDiscoverStatus, ecNoError, 2, 1)
	assert.Empty(t, f.transport.take())
	assert.Equal(t, 1, f.sched.active())

	f.sched.fire()
	f.transport.take()
	f.reply(cmdDiscoverStatus, ecNoError, 2, 0)
	assert.Equal(t, 0, f.sched.active())
	assert.Equal(t, [][]byte{{cmdRemoteUID, 2}}, extended(f.transport.take()))

	f.reply(cmdRemoteUID, ecNoError, uidB.Bytes()...)
	assert.Equal(t, [][]byte{{cmdRemoteUID, 1}}, extended(f.transport.take()))
	assert.True(t, f.widget.InDiscoveryMode())
	assert.Empty(t, f.uidSets)

	f.reply(cmdRemoteUID, ecNoError, uidA.Bytes()...)
	assert.False(t, f.widget.InDiscoveryMode())
	require.Len(t, f.uidSets, 1)
	assert.Equal(t, []rdm.UID{uidA, uidB}, f.uidSets[0].UIDs())
	assert.Equal(t, int64(2), f.widget.Stats().Devices)
	assert.Equal(t, uint64(1), f.widget.Stats().DiscoveryRuns)

	// uidB was fetched at index 2.
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidB, 0, rdm.PIDDeviceInfo, nil)))
	assert.Equal(t, [][]byte{{cmdRemoteGet, 2, 0x00, 0x00, 0x00, 0x60}}, extended(f.transport.take()))
}

func TestDiscoveryStatusErrors(t *testing.T) {
	tests := []struct {
		name string
		rc   byte
	}{
		{"mute failure", ecResponseMute},
		{"duplicate uids", ecResponseDiscovery},
		{"other error", ecSystemBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTriFixture(t)
			require.NoError(t, f.widget.RunDiscovery())
			f.transport.take()

			f.reply(cmdDiscoverStatus, tt.rc, 3, 0)

			assert.Equal(t, 0, f.sched.active())
			assert.False(t, f.widget.InDiscoveryMode())
			assert.Empty(t, f.transport.take())
			assert.Empty(t, f.uidSets)
		})
	}
}

func TestDiscoveryUnexpectedResponseContinues(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())
	f.transport.take()

	f.reply(cmdDiscoverStatus, ecResponseUnexpected, 1, 0)
	assert.Equal(t, [][]byte{{cmdRemoteUID, 1}}, extended(f.transport.take()))
}

func TestDiscoveryStartRejected(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())

	f.reply(cmdDiscoverAuto, ecSystemMode)
	assert.Equal(t, 0, f.sched.active())
	assert.False(t, f.widget.InDiscoveryMode())
}

func TestDiscoveryStartSendFailure(t *testing.T) {
	f := newTriFixture(t)
	f.transport.fail(cmdDiscoverAuto, true)

	assert.ErrorIs(t, f.widget.RunDiscovery(), ErrSendFailed)
	assert.Equal(t, 0, f.sched.active())
	assert.False(t, f.widget.InDiscoveryMode())
}

func TestDiscoveryShortStatusIgnored(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())
	f.transport.take()

	f.reply(cmdDiscoverStatus, ecNoError, 1)
	assert.True(t, f.widget.InDiscoveryMode())
	assert.Equal(t, 1, f.sched.active())
	assert.Empty(t, f.transport.take())
}

func TestDiscoveryNoDevicesResumesQueue(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())
	f.transport.take()

	// Accepted while discovering even though the table is empty.
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, rdm.AllDevices, 0, rdm.PIDIdentifyDevice, []byte{1})))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	assert.Empty(t, f.transport.take())

	f.reply(cmdDiscoverStatus, ecNoError, 0, 0)

	require.Len(t, f.uidSets, 1)
	assert.Equal(t, 0, f.uidSets[0].Len())
	assert.Equal(t, [][]byte{{cmdRemoteSet, 0, 0x00, 0x00, 0x10, 0x00, 0x01}}, extended(f.transport.take()))

	// The broadcast completes; the unicast to an unknown uid is dropped.
	f.reply(cmdRemoteSet, ecNoError)
	require.Len(t, f.responses, 1)
	assert.Empty(t, f.transport.take())
	assert.Equal(t, 0, f.widget.QueueLength())
	assert.Equal(t, uint64(1), f.widget.Stats().RequestsDropped)
}

func TestDiscoveryStatusPollFailureStopsDiscovery(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())
	f.transport.fail(cmdDiscoverStatus, true)

	f.sched.fire()
	assert.Equal(t, 0, f.sched.active())
	assert.False(t, f.widget.InDiscoveryMode())
}

func TestDiscoveryUIDFetchErrors(t *testing.T) {
	t.Run("constraint skips the index", func(t *testing.T) {
		f := newTriFixture(t)
		require.NoError(t, f.widget.RunDiscovery())
		f.reply(cmdDiscoverStatus, ecNoError, 2, 0)

		f.reply(cmdRemoteUID, ecConstraint)
		f.reply(cmdRemoteUID, ecNoError, uidA.Bytes()...)

		require.Len(t, f.uidSets, 1)
		assert.Equal(t, []rdm.UID{uidA}, f.uidSets[0].UIDs())
	})

	t.Run("short uid is skipped", func(t *testing.T) {
		f := newTriFixture(t)
		require.NoError(t, f.widget.RunDiscovery())
		f.reply(cmdDiscoverStatus, ecNoError, 1, 0)

		f.reply(cmdRemoteUID, ecNoError, 0x7a, 0x70)

		require.Len(t, f.uidSets, 1)
		assert.Equal(t, 0, f.uidSets[0].Len())
	})

	t.Run("send failure ends resolution", func(t *testing.T) {
		f := newTriFixture(t)
		require.NoError(t, f.widget.RunDiscovery())
		f.reply(cmdDiscoverStatus, ecNoError, 3, 0)
		f.reply(cmdRemoteUID, ecNoError, uidB.Bytes()...)

		f.transport.fail(cmdRemoteUID, true)
		f.reply(cmdRemoteUID, ecNoError, uidA.Bytes()...)

		assert.False(t, f.widget.InDiscoveryMode())
		require.Len(t, f.uidSets, 1)
		assert.Equal(t, []rdm.UID{uidA, uidB}, f.uidSets[0].UIDs())
	})

	t.Run("stray uid reply ignored", func(t *testing.T) {
		f := newTriFixture(t)
		f.reply(cmdRemoteUID, ecNoError, uidA.Bytes()...)
		assert.Empty(t, f.uidSets)
		assert.Equal(t, 0, f.widget.UIDs().Len())
	})
}

func TestRediscoveryReplacesTable(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA, uidB)
	f.discover(uidB)

	require.Len(t, f.uidSets, 2)
	assert.Equal(t, []rdm.UID{uidB}, f.widget.UIDs().UIDs())

	err := f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil))
	assert.ErrorIs(t, err, ErrUnknownUID)
}

func TestSendRDMRequestUnknownUID(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	err := f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidB, 0, rdm.PIDDeviceInfo, nil))
	assert.ErrorIs(t, err, ErrUnknownUID)
	assert.Equal(t, 0, f.widget.QueueLength())
	assert.Empty(t, f.transport.take())
	assert.Equal(t, uint64(1), f.widget.Stats().RequestsRejected)
}

func TestRequestsAnsweredInOrder(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA, uidB)

	get := rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceLabel, nil)
	set := rdm.NewSetRequest(src, uidB, 1, rdm.PIDDMXStartAddress, []byte{0x00, 0x10})
	require.NoError(t, f.widget.SendRDMRequest(get))
	require.NoError(t, f.widget.SendRDMRequest(set))

	assert.Equal(t, 2, f.widget.QueueLength())
	assert.Equal(t, [][]byte{{cmdRemoteGet, 1, 0x00, 0x00, 0x00, 0x82}}, extended(f.transport.take()))

	f.reply(cmdRemoteGet, ecNoError, 'd', 'i', 'm')
	assert.Equal(t, [][]byte{{cmdRemoteSet, 2, 0x00, 0x01, 0x00, 0xF0, 0x00, 0x10}}, extended(f.transport.take()))

	f.reply(cmdRemoteSet, ecNoError)

	require.Len(t, f.responses, 2)
	assert.Same(t, get, f.responses[0].req)
	assert.Equal(t, []byte("dim"), f.responses[0].resp.ParamData)
	assert.Equal(t, rdm.GetCommandResponse, f.responses[0].resp.CommandClass)
	assert.Same(t, set, f.responses[1].req)
	assert.Equal(t, rdm.SetCommandResponse, f.responses[1].resp.CommandClass)
	assert.Equal(t, 0, f.widget.QueueLength())
	assert.Equal(t, uint64(2), f.widget.Stats().ResponsesDelivered)
}

func TestMoreDataRedispatches(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	req := rdm.NewGetRequest(src, uidA, 0, rdm.PIDSupportedParameters, nil)
	require.NoError(t, f.widget.SendRDMRequest(req))
	first := extended(f.transport.take())

	f.reply(cmdRemoteGet, ecResponseMore, 0x00, 0x60)
	assert.Equal(t, first, extended(f.transport.take()))
	assert.Empty(t, f.responses)

	f.reply(cmdRemoteGet, ecNoError, 0x00, 0x82)
	require.Len(t, f.responses, 1)
	resp := f.responses[0].resp
	assert.Equal(t, rdm.ResponseTypeAck, resp.ResponseType)
	assert.Equal(t, []byte{0x00, 0x60, 0x00, 0x82}, resp.ParamData)
}

func TestWaitReplyCarriesMessageCount(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	f.reply(cmdRemoteGet, ecResponseWait, 0x01)

	require.Len(t, f.responses, 1)
	assert.Equal(t, uint8(1), f.responses[0].resp.MessageCount)
	assert.Equal(t, rdm.ResponseTypeAck, f.responses[0].resp.ResponseType)
}

func TestNackReplies(t *testing.T) {
	tests := []struct {
		rc   byte
		want rdm.NackReason
	}{
		{0x20, rdm.NRUnknownPID},
		{0x21, rdm.NRFormatError},
		{0x22, rdm.NRHardwareFault},
		{0x23, rdm.NRProxyReject},
		{0x24, rdm.NRWriteProtect},
		{0x25, rdm.NRUnsupportedCommandClass},
		{0x26, rdm.NRDataOutOfRange},
		{0x27, rdm.NRBufferFull},
		{0x28, rdm.NRPacketSizeUnsupported},
		{0x29, rdm.NRSubDeviceOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			f := newTriFixture(t)
			f.discover(uidA)

			require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, uidA, 0, rdm.PIDDeviceLabel, []byte("x"))))
			f.reply(cmdRemoteSet, tt.rc)

			require.Len(t, f.responses, 1)
			reason, ok := f.responses[0].resp.NackReason()
			require.True(t, ok)
			assert.Equal(t, tt.want, reason)
			assert.Equal(t, uint64(1), f.widget.Stats().Nacks)
		})
	}
}

func TestNackDiscardsPartialResponse(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDSupportedParameters, nil)))
	f.reply(cmdRemoteGet, ecResponseMore, 0x00, 0x60)
	f.reply(cmdRemoteGet, 0x22)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDSupportedParameters, nil)))
	f.reply(cmdRemoteGet, ecNoError, 0x00, 0x82)

	require.Len(t, f.responses, 2)
	assert.Equal(t, []byte{0x00, 0x82}, f.responses[1].resp.ParamData)
}

func TestUnhandledReturnCodeDeliversNothing(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceLabel, nil)))
	f.transport.take()

	f.reply(cmdRemoteGet, ecResponseFormat)
	assert.Empty(t, f.responses)

	// The next request goes out.
	assert.Equal(t, [][]byte{{cmdRemoteGet, 1, 0x00, 0x00, 0x00, 0x82}}, extended(f.transport.take()))
	assert.Equal(t, 1, f.widget.QueueLength())
}

func TestReplyWithoutRequestIgnored(t *testing.T) {
	f := newTriFixture(t)
	f.reply(cmdRemoteGet, ecNoError, 1, 2, 3)
	f.reply(cmdSetFilter, ecNoError)
	assert.Empty(t, f.responses)
}

func TestBroadcastSetsFilter(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	vendor := rdm.VendorcastUID(0x7a70)
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, vendor, 0, rdm.PIDIdentifyDevice, []byte{1})))
	assert.Equal(t, [][]byte{{cmdSetFilter, 0x7a, 0x70}}, extended(f.transport.take()))

	f.reply(cmdSetFilter, ecNoError)
	assert.Equal(t, [][]byte{{cmdRemoteSet, 0, 0x00, 0x00, 0x10, 0x00, 0x01}}, extended(f.transport.take()))
	f.reply(cmdRemoteSet, ecNoError)

	// Same manufacturer: no new filter.
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, vendor, 0, rdm.PIDIdentifyDevice, []byte{0})))
	assert.Equal(t, [][]byte{{cmdRemoteSet, 0, 0x00, 0x00, 0x10, 0x00, 0x00}}, extended(f.transport.take()))
	f.reply(cmdRemoteSet, ecNoError)

	// Back to all manufacturers.
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, rdm.AllDevices, 0, rdm.PIDIdentifyDevice, []byte{0})))
	assert.Equal(t, [][]byte{{cmdSetFilter, 0xFF, 0xFF}}, extended(f.transport.take()))
	assert.Len(t, f.responses, 2)
}

func TestBroadcastFilterRejected(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, rdm.VendorcastUID(0x0001), 0, rdm.PIDIdentifyDevice, []byte{1})))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	f.transport.take()

	f.reply(cmdSetFilter, ecInvalidOption)
	assert.Equal(t, [][]byte{{cmdRemoteGet, 1, 0x00, 0x00, 0x00, 0x60}}, extended(f.transport.take()))
	assert.Equal(t, uint64(1), f.widget.Stats().RequestsDropped)
}

func TestQueuedMessageGet(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA, uidB)

	// Without a status type the request cannot be encoded.
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidB, 0, rdm.PIDQueuedMessage, nil)))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidB, 0, rdm.PIDQueuedMessage, []byte{0x04})))
	assert.Equal(t, [][]byte{{cmdQueuedGet, 2, 0x04}}, extended(f.transport.take()))

	f.reply(cmdQueuedGet, ecNoError, 0x00, 0x01)
	require.Len(t, f.responses, 1)
	assert.Equal(t, []byte{0x00, 0x01}, f.responses[0].resp.ParamData)
	assert.Equal(t, uint64(1), f.widget.Stats().RequestsDropped)
}

func TestDispatchSendFailureMovesOn(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)
	f.transport.fail(cmdRemoteSet, true)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, uidA, 0, rdm.PIDIdentifyDevice, []byte{1})))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))

	assert.Equal(t, [][]byte{{cmdRemoteGet, 1, 0x00, 0x00, 0x00, 0x60}}, extended(f.transport.take()))
	assert.Equal(t, 1, f.widget.QueueLength())
	assert.Equal(t, uint64(1), f.widget.Stats().RequestsDropped)
}

func TestDispatchRejectsOtherCommandClasses(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	req := rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)
	req.CommandClass = rdm.DiscoverCommand
	require.NoError(t, f.widget.SendRDMRequest(req))

	assert.Empty(t, f.transport.take())
	assert.Equal(t, 0, f.widget.QueueLength())
}

func TestParamDataTruncated(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewSetRequest(src, uidA, 0, rdm.PIDDeviceLabel, make([]byte, 300))))
	sent := extended(f.transport.take())
	require.Len(t, sent, 1)
	assert.Len(t, sent[0], 1+5+rdm.MaxParamDataLength)
}

func TestRequestsWaitForDiscovery(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.RunDiscovery())
	f.transport.take()
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	assert.Empty(t, f.transport.take())

	f.reply(cmdDiscoverStatus, ecNoError, 1, 0)
	f.reply(cmdRemoteUID, ecNoError, uidA.Bytes()...)

	frames := extended(f.transport.take())
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{cmdRemoteGet, 1, 0x00, 0x00, 0x00, 0x60}, frames[1])
}

func TestCloseDropsPendingRequests(t *testing.T) {
	f := newTriFixture(t)
	f.discover(uidA)

	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)))
	require.NoError(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceLabel, nil)))
	require.NoError(t, f.widget.RunDiscovery())

	f.widget.Close()
	f.widget.Close()

	assert.Equal(t, 0, f.widget.QueueLength())
	assert.Equal(t, 0, f.sched.active())
	assert.Equal(t, uint64(2), f.widget.Stats().RequestsDropped)

	f.reply(cmdRemoteGet, ecNoError, 1)
	assert.Empty(t, f.responses)

	assert.ErrorIs(t, f.widget.SendRDMRequest(rdm.NewGetRequest(src, uidA, 0, rdm.PIDDeviceInfo, nil)), ErrClosed)
	assert.ErrorIs(t, f.widget.RunDiscovery(), ErrClosed)
	assert.ErrorIs(t, f.widget.SendDMX(universe.NewBuffer([]byte{1})), ErrClosed)
}

func TestStopCancelsDiscoveryPoll(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())

	f.widget.Stop()
	assert.Equal(t, 0, f.sched.active())
	assert.False(t, f.widget.InDiscoveryMode())
}

func TestSendDMX(t *testing.T) {
	f := newTriFixture(t)

	require.NoError(t, f.widget.SendDMX(universe.NewBuffer([]byte{1, 2, 3})))
	frames := f.transport.take()
	require.Len(t, frames, 1)
	assert.Equal(t, DMXLabel, frames[0].label)
	assert.Equal(t, []byte{0x00, 1, 2, 3}, frames[0].data)
	assert.Equal(t, uint64(1), f.widget.Stats().DMXFramesSent)

	var empty universe.Buffer
	require.NoError(t, f.widget.SendDMX(empty))
	assert.Equal(t, []byte{0x00}, f.transport.take()[0].data)
}

func TestHandleMessageIgnoresOtherFrames(t *testing.T) {
	f := newTriFixture(t)
	require.NoError(t, f.widget.RunDiscovery())

	f.widget.HandleMessage(DMXLabel, []byte{cmdDiscoverStatus, ecNoError, 0, 0})
	f.widget.HandleMessage(ExtendedCommandLabel, []byte{cmdDiscoverStatus})
	f.widget.HandleMessage(ExtendedCommandLabel, []byte{0x7F, ecNoError})

	assert.True(t, f.widget.InDiscoveryMode())
	assert.Empty(t, f.uidSets)
}
