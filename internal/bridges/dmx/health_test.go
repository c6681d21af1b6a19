package dmx

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-dmx/internal/usbpro"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func decodeHealth(t *testing.T, msg publishedMessage) HealthMessage {
	t.Helper()
	assert.Equal(t, HealthTopic(), msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var health HealthMessage
	require.NoError(t, json.Unmarshal(msg.payload, &health))
	return health
}

func TestHealthReporterDefaults(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "dmx-tri"})
	assert.Equal(t, defaultHealthInterval, h.interval)

	// No publisher: nothing to do, no error.
	assert.NoError(t, h.PublishNow())
}

func TestHealthReporterStatus(t *testing.T) {
	tests := []struct {
		name          string
		mqttConnected bool
		link          *mockLink
		wantStatus    HealthStatus
		wantReason    string
	}{
		{"healthy", true, &mockLink{connected: true}, HealthHealthy, ""},
		{"healthy without link", true, nil, HealthHealthy, ""},
		{"mqtt down", false, &mockLink{connected: true}, HealthDegraded, "MQTT disconnected"},
		{"widget down", true, &mockLink{connected: false}, HealthDegraded, "widget disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockPublisher(tt.mqttConnected)
			cfg := HealthReporterConfig{BridgeID: "dmx-tri", Publisher: pub}
			if tt.link != nil {
				cfg.Link = tt.link
			}
			h := NewHealthReporter(cfg)

			require.NoError(t, h.PublishNow())

			msgs := pub.getMessages()
			require.Len(t, msgs, 1)
			health := decodeHealth(t, msgs[0])
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.wantReason, health.Reason)
		})
	}
}

func TestHealthReporterStatistics(t *testing.T) {
	pub := newMockPublisher(true)
	engine := &fakeEngine{stats: usbpro.TriStats{
		RequestsSent:       7,
		ResponsesDelivered: 6,
		Nacks:              1,
		DiscoveryRuns:      2,
		DMXFramesSent:      40,
		Devices:            3,
	}}
	link := &mockLink{connected: true, stats: usbpro.WidgetStats{
		FramesTx:     50,
		FramesRx:     20,
		LastActivity: time.Now(),
		Connected:    true,
	}}

	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "dmx-tri",
		Version:   "1.2.3",
		Device:    "/dev/ttyUSB0",
		Publisher: pub,
		Engine:    engine,
		Link:      link,
	})
	require.NoError(t, h.PublishNow())

	health := decodeHealth(t, pub.getMessages()[0])
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 3, health.DevicesManaged)

	require.NotNil(t, health.Connection)
	assert.Equal(t, "connected", health.Connection.Status)
	assert.Equal(t, "/dev/ttyUSB0", health.Connection.Device)
	assert.NotNil(t, health.Connection.LastActivity)

	require.NotNil(t, health.Statistics)
	assert.Equal(t, uint64(50), health.Statistics.FramesSent)
	assert.Equal(t, uint64(20), health.Statistics.FramesReceived)
	assert.Equal(t, uint64(7), health.Statistics.RDMRequestsSent)
	assert.Equal(t, uint64(1), health.Statistics.RDMNacks)
	assert.Equal(t, uint64(40), health.Statistics.DMXFramesSent)
}

func TestHealthReporterPeriodicAndStop(t *testing.T) {
	pub := newMockPublisher(true)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "dmx-tri",
		Interval:  5 * time.Millisecond,
		Publisher: pub,
	})

	h.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(pub.getMessages()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()

	msgs := pub.getMessages()
	last := decodeHealth(t, msgs[len(msgs)-1])
	assert.Equal(t, HealthStopping, last.Status)

	// Nothing is published after Stop.
	count := len(msgs)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, pub.getMessages(), count)
}

func TestHealthReporterLWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "dmx-tri"})

	payload, err := h.LWTPayload()
	require.NoError(t, err)

	var lwt HealthMessage
	require.NoError(t, json.Unmarshal(payload, &lwt))
	assert.Equal(t, HealthOffline, lwt.Status)
	assert.Equal(t, "dmx-tri", lwt.Bridge)
	assert.Equal(t, "unexpected_disconnect", lwt.Reason)
}

func TestHealthReporterStarting(t *testing.T) {
	pub := newMockPublisher(true)
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "dmx-tri", Publisher: pub})

	require.NoError(t, h.PublishStarting())
	health := decodeHealth(t, pub.getMessages()[0])
	assert.Equal(t, HealthStarting, health.Status)
	assert.Equal(t, "disconnected", health.Connection.Status)
}
