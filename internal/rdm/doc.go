// Package rdm holds the RDM (ANSI E1.20) value types shared by the widget
// engine and the MQTT bridge: device UIDs, requests, responses and NACK
// reasons.
//
// Only the fields the widget needs are modelled. Wire encoding of full RDM
// packets is left to the widget, which carries RDM in its own framing.
package rdm
