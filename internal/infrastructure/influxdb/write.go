package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-dmx/internal/usbpro"
)

// Measurement names written by the daemon's stats sampler.
const (
	MeasurementLink   = "dmx_link"
	MeasurementEngine = "dmx_engine"
)

// WritePoint writes a point stamped with the current time. Tags should be
// low cardinality. It is a no-op when the client is not connected.
//
//	client.WritePoint("rdm_discovery",
//	    map[string]string{"bridge": "dmx-tri"},
//	    map[string]interface{}{"devices": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WriteLinkStats records the serial widget counters as cumulative fields.
func (c *Client) WriteLinkStats(bridgeID string, stats usbpro.WidgetStats) {
	c.WritePoint(MeasurementLink,
		map[string]string{"bridge": bridgeID},
		map[string]interface{}{
			"frames_tx":      stats.FramesTx,
			"frames_rx":      stats.FramesRx,
			"frames_dropped": stats.FramesDropped,
			"bytes_skipped":  stats.BytesSkipped,
			"errors_total":   stats.ErrorsTotal,
			"connected":      stats.Connected,
		})
}

// WriteEngineStats records the RDM engine counters as cumulative fields.
func (c *Client) WriteEngineStats(bridgeID string, stats usbpro.TriStats) {
	c.WritePoint(MeasurementEngine,
		map[string]string{"bridge": bridgeID},
		map[string]interface{}{
			"requests_queued":     stats.RequestsQueued,
			"requests_sent":       stats.RequestsSent,
			"requests_rejected":   stats.RequestsRejected,
			"requests_dropped":    stats.RequestsDropped,
			"responses_delivered": stats.ResponsesDelivered,
			"nacks":               stats.Nacks,
			"discovery_runs":      stats.DiscoveryRuns,
			"dmx_frames_sent":     stats.DMXFramesSent,
			"devices":             stats.Devices,
		})
}
