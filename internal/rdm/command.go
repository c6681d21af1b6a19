package rdm

import (
	"fmt"
)

// MaxParamDataLength is the largest parameter data block one RDM message
// carries.
const MaxParamDataLength = 231

// MaxOverflowSize caps the parameter data assembled from ACK_OVERFLOW
// fragments.
const MaxOverflowSize = 4 << 10

// CommandClass is the RDM command class byte.
type CommandClass uint8

// Command classes.
const (
	DiscoverCommand         CommandClass = 0x10
	DiscoverCommandResponse CommandClass = 0x11
	GetCommand              CommandClass = 0x20
	GetCommandResponse      CommandClass = 0x21
	SetCommand              CommandClass = 0x30
	SetCommandResponse      CommandClass = 0x31
)

// String returns a short name for the command class.
func (c CommandClass) String() string {
	switch c {
	case DiscoverCommand:
		return "discover"
	case DiscoverCommandResponse:
		return "discover_response"
	case GetCommand:
		return "get"
	case GetCommandResponse:
		return "get_response"
	case SetCommand:
		return "set"
	case SetCommandResponse:
		return "set_response"
	default:
		return fmt.Sprintf("0x%02x", uint8(c))
	}
}

// Frequently used parameter ids.
const (
	PIDQueuedMessage       uint16 = 0x0020
	PIDSupportedParameters uint16 = 0x0050
	PIDDeviceInfo          uint16 = 0x0060
	PIDDeviceLabel         uint16 = 0x0082
	PIDDMXStartAddress     uint16 = 0x00F0
	PIDIdentifyDevice      uint16 = 0x1000
)

// Request is an RDM request addressed to one device or a broadcast UID.
type Request struct {
	Source            UID
	Destination       UID
	TransactionNumber uint8
	PortID            uint8
	MessageCount      uint8
	SubDevice         uint16
	CommandClass      CommandClass
	ParamID           uint16
	ParamData         []byte
}

// NewGetRequest builds a GET request.
func NewGetRequest(src, dst UID, subDevice, pid uint16, data []byte) *Request {
	return &Request{
		Source:       src,
		Destination:  dst,
		PortID:       1,
		SubDevice:    subDevice,
		CommandClass: GetCommand,
		ParamID:      pid,
		ParamData:    data,
	}
}

// NewSetRequest builds a SET request.
func NewSetRequest(src, dst UID, subDevice, pid uint16, data []byte) *Request {
	return &Request{
		Source:       src,
		Destination:  dst,
		PortID:       1,
		SubDevice:    subDevice,
		CommandClass: SetCommand,
		ParamID:      pid,
		ParamData:    data,
	}
}

// Validate checks the fields the transport needs.
func (r *Request) Validate() error {
	if len(r.ParamData) > MaxParamDataLength {
		return fmt.Errorf("%w: %d bytes", ErrParamDataTooLong, len(r.ParamData))
	}
	return nil
}

// IsQueuedMessageGet reports whether r fetches a queued message.
func (r *Request) IsQueuedMessageGet() bool {
	return r.CommandClass == GetCommand && r.ParamID == PIDQueuedMessage
}

// ResponseType is the RDM response type byte.
type ResponseType uint8

// Response types.
const (
	ResponseTypeAck         ResponseType = 0x00
	ResponseTypeAckTimer    ResponseType = 0x01
	ResponseTypeNackReason  ResponseType = 0x02
	ResponseTypeAckOverflow ResponseType = 0x03
)

// String returns a short name for the response type.
func (t ResponseType) String() string {
	switch t {
	case ResponseTypeAck:
		return "ack"
	case ResponseTypeAckTimer:
		return "ack_timer"
	case ResponseTypeNackReason:
		return "nack"
	case ResponseTypeAckOverflow:
		return "ack_overflow"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// Response is an RDM response to a Request.
type Response struct {
	Source            UID
	Destination       UID
	TransactionNumber uint8
	ResponseType      ResponseType
	MessageCount      uint8
	SubDevice         uint16
	CommandClass      CommandClass
	ParamID           uint16
	ParamData         []byte
}

// responseClass returns the response command class for a request class.
func responseClass(c CommandClass) CommandClass {
	switch c {
	case GetCommand:
		return GetCommandResponse
	case SetCommand:
		return SetCommandResponse
	case DiscoverCommand:
		return DiscoverCommandResponse
	default:
		return c
	}
}

// newResponse fills the addressing fields of a response to req.
func newResponse(req *Request, rt ResponseType, data []byte, messageCount uint8) *Response {
	return &Response{
		Source:            req.Destination,
		Destination:       req.Source,
		TransactionNumber: req.TransactionNumber,
		ResponseType:      rt,
		MessageCount:      messageCount,
		SubDevice:         req.SubDevice,
		CommandClass:      responseClass(req.CommandClass),
		ParamID:           req.ParamID,
		ParamData:         data,
	}
}

// GetResponseWithData builds an ACK response to req carrying a copy of data.
func GetResponseWithData(req *Request, data []byte, messageCount uint8) *Response {
	var pd []byte
	if len(data) > 0 {
		pd = append([]byte(nil), data...)
	}
	return newResponse(req, ResponseTypeAck, pd, messageCount)
}

// NackWithReason builds a NACK response to req.
func NackWithReason(req *Request, reason NackReason) *Response {
	return newResponse(req, ResponseTypeNackReason, reason.Bytes(), 0)
}

// NackReason returns the reason carried by a NACK response.
func (r *Response) NackReason() (NackReason, bool) {
	if r.ResponseType != ResponseTypeNackReason || len(r.ParamData) < 2 {
		return 0, false
	}
	return NackReason(uint16(r.ParamData[0])<<8 | uint16(r.ParamData[1])), true
}

// CombineResponses joins two fragments of an overflowed response. The
// result takes its header from second and the concatenated parameter data.
func CombineResponses(first, second *Response) (*Response, error) {
	if first.CommandClass != second.CommandClass {
		return nil, fmt.Errorf("%w: command class %s != %s",
			ErrIncompatibleResponses, first.CommandClass, second.CommandClass)
	}
	if first.ParamID != second.ParamID {
		return nil, fmt.Errorf("%w: pid 0x%04x != 0x%04x",
			ErrIncompatibleResponses, first.ParamID, second.ParamID)
	}
	total := len(first.ParamData) + len(second.ParamData)
	if total > MaxOverflowSize {
		return nil, fmt.Errorf("%w: combined size %d exceeds %d",
			ErrIncompatibleResponses, total, MaxOverflowSize)
	}

	combined := *second
	combined.ResponseType = ResponseTypeAck
	combined.ParamData = make([]byte, 0, total)
	combined.ParamData = append(combined.ParamData, first.ParamData...)
	combined.ParamData = append(combined.ParamData, second.ParamData...)
	return &combined, nil
}
