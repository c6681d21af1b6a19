// Package dmx implements the DMX512/RDM protocol bridge for Gray Logic.
//
// The bridge connects Gray Logic Core to an Enttec-style DMX-TRI widget.
// It translates MQTT requests into RDM transactions and MQTT commands into
// DMX output.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐           ┌──────────┐
//	│   Gray Logic    │   MQTT   │   DMX Bridge    │  Execute  │ TriWidget│  serial
//	│      Core       │◄────────►│   (this pkg)    │──────────►│ (engine) │◄────────► DMX line
//	└─────────────────┘          └─────────────────┘           └──────────┘
//
// The engine is single-threaded. Every call the bridge makes into it is
// posted through an Executor (the event loop). Engine callbacks
// (HandleRDMResponse, HandleUIDSetChange) run on the loop and never block
// on MQTT: replies are queued and published by a separate goroutine.
//
// # Topics
//
//   - graylogic/request/dmx/{id}    rdm_get, rdm_set, discover, list_devices
//   - graylogic/response/dmx/{id}   one response per request
//   - graylogic/command/dmx/{src}   set, set_range, set_channel, blackout, release
//   - graylogic/ack/dmx/{src}       command acknowledgments
//   - graylogic/state/dmx/universe  merged output levels (retained)
//   - graylogic/discovery/dmx       device table (retained)
//   - graylogic/health/dmx          bridge health (retained, LWT)
//
// # DMX sources
//
// Each command source owns one universe buffer. The output is the
// highest-takes-precedence merge of every source, recomputed on each change.
// "release" removes a source from the merge.
package dmx
