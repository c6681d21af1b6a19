// Package influxdb provides optional time-series telemetry for the DMX
// bridge.
//
// It wraps influxdb-client-go v2 with batched, non-blocking writes. The
// bridge writes rdm_discovery and rdm_response points through WritePoint;
// the daemon samples link and engine counters every health interval with
// WriteLinkStats and WriteEngineStats.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteLinkStats("dmx-tri", widget.Stats())
//
// # Error Handling
//
// Write failures are delivered asynchronously to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
