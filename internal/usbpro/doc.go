// Package usbpro drives Enttec USB Pro style serial widgets, and in
// particular the JESE DMX-TRI, which carries RDM over an extended command
// label.
//
// The package has two layers:
//
//   - Widget owns the serial port. It frames outgoing messages and parses
//     incoming frames, posting each one to an Executor (normally the event
//     loop).
//   - TriWidget is the RDM discovery and dispatch engine. It keeps the
//     device address table, queues RDM requests, sends one at a time and
//     turns the widget's replies into rdm.Response values.
//
// TriWidget is not safe for concurrent use. Every method, including the
// transport callback, must run on the same goroutine.
//
// Wire format:
//
//	0x7E | label | len LSB | len MSB | data... | 0xE7
//
// Extended command payloads (label 0x58):
//
//	request: command id | body...
//	reply:   command id | return code | body...
package usbpro
