package rdm

import "fmt"

// NackReason is the reason code carried by a NACK response.
type NackReason uint16

// NACK reason codes from E1.20 table A-17.
const (
	NRUnknownPID              NackReason = 0x0000
	NRFormatError             NackReason = 0x0001
	NRHardwareFault           NackReason = 0x0002
	NRProxyReject             NackReason = 0x0003
	NRWriteProtect            NackReason = 0x0004
	NRUnsupportedCommandClass NackReason = 0x0005
	NRDataOutOfRange          NackReason = 0x0006
	NRBufferFull              NackReason = 0x0007
	NRPacketSizeUnsupported   NackReason = 0x0008
	NRSubDeviceOutOfRange     NackReason = 0x0009
)

var nackReasonNames = map[NackReason]string{
	NRUnknownPID:              "unknown_pid",
	NRFormatError:             "format_error",
	NRHardwareFault:           "hardware_fault",
	NRProxyReject:             "proxy_reject",
	NRWriteProtect:            "write_protect",
	NRUnsupportedCommandClass: "unsupported_command_class",
	NRDataOutOfRange:          "data_out_of_range",
	NRBufferFull:              "buffer_full",
	NRPacketSizeUnsupported:   "packet_size_unsupported",
	NRSubDeviceOutOfRange:     "sub_device_out_of_range",
}

// String returns the snake_case name of the reason.
func (n NackReason) String() string {
	if s, ok := nackReasonNames[n]; ok {
		return s
	}
	return fmt.Sprintf("nack_0x%04x", uint16(n))
}

// Bytes returns the big-endian parameter data form of the reason.
func (n NackReason) Bytes() []byte {
	return []byte{byte(n >> 8), byte(n)}
}
