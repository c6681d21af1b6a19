package rdm

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// UIDLength is the wire size of a UID.
const UIDLength = 6

const (
	// AllManufacturers is the ESTA id that addresses every manufacturer.
	AllManufacturers uint16 = 0xFFFF

	// AllDevicesID is the device id used by broadcast and vendorcast UIDs.
	AllDevicesID uint32 = 0xFFFFFFFF
)

// AllDevices is the broadcast UID.
var AllDevices = UID{ManufacturerID: AllManufacturers, DeviceID: AllDevicesID}

// UID is a 48 bit RDM device identifier: a 16 bit ESTA manufacturer id and
// a 32 bit device id.
type UID struct {
	ManufacturerID uint16
	DeviceID       uint32
}

// NewUID returns the UID for a manufacturer and device id.
func NewUID(manufacturerID uint16, deviceID uint32) UID {
	return UID{ManufacturerID: manufacturerID, DeviceID: deviceID}
}

// VendorcastUID returns the UID that addresses every device made by the
// given manufacturer.
func VendorcastUID(manufacturerID uint16) UID {
	return UID{ManufacturerID: manufacturerID, DeviceID: AllDevicesID}
}

// UIDFromBytes decodes a big-endian 6 byte UID.
func UIDFromBytes(b []byte) (UID, error) {
	if len(b) < UIDLength {
		return UID{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidUID, UIDLength, len(b))
	}
	return UID{
		ManufacturerID: binary.BigEndian.Uint16(b[0:2]),
		DeviceID:       binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// ParseUID parses the "mmmm:dddddddd" hex form produced by String.
func ParseUID(s string) (UID, error) {
	manu, dev, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return UID{}, fmt.Errorf("%w: %q", ErrInvalidUID, s)
	}
	m, err := strconv.ParseUint(manu, 16, 16)
	if err != nil {
		return UID{}, fmt.Errorf("%w: manufacturer %q: %w", ErrInvalidUID, manu, err)
	}
	d, err := strconv.ParseUint(dev, 16, 32)
	if err != nil {
		return UID{}, fmt.Errorf("%w: device %q: %w", ErrInvalidUID, dev, err)
	}
	return UID{ManufacturerID: uint16(m), DeviceID: uint32(d)}, nil
}

// Bytes returns the big-endian wire form.
func (u UID) Bytes() []byte {
	b := make([]byte, UIDLength)
	binary.BigEndian.PutUint16(b[0:2], u.ManufacturerID)
	binary.BigEndian.PutUint32(b[2:6], u.DeviceID)
	return b
}

// IsBroadcast reports whether u addresses more than one device, either
// every device or every device of one manufacturer.
func (u UID) IsBroadcast() bool {
	return u.DeviceID == AllDevicesID
}

// String formats u as "mmmm:dddddddd".
func (u UID) String() string {
	return fmt.Sprintf("%04x:%08x", u.ManufacturerID, u.DeviceID)
}

// Compare orders UIDs by manufacturer then device id.
func (u UID) Compare(other UID) int {
	if c := cmp.Compare(u.ManufacturerID, other.ManufacturerID); c != 0 {
		return c
	}
	return cmp.Compare(u.DeviceID, other.DeviceID)
}

// MarshalText implements encoding.TextMarshaler.
func (u UID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UID) UnmarshalText(text []byte) error {
	parsed, err := ParseUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// UIDSet is an unordered set of UIDs.
type UIDSet struct {
	m map[UID]struct{}
}

// NewUIDSet returns a set holding uids.
func NewUIDSet(uids ...UID) UIDSet {
	s := UIDSet{m: make(map[UID]struct{}, len(uids))}
	for _, u := range uids {
		s.m[u] = struct{}{}
	}
	return s
}

// Add inserts u.
func (s *UIDSet) Add(u UID) {
	if s.m == nil {
		s.m = make(map[UID]struct{})
	}
	s.m[u] = struct{}{}
}

// Contains reports whether u is in the set.
func (s UIDSet) Contains(u UID) bool {
	_, ok := s.m[u]
	return ok
}

// Len returns the number of UIDs in the set.
func (s UIDSet) Len() int {
	return len(s.m)
}

// UIDs returns the members in ascending order.
func (s UIDSet) UIDs() []UID {
	out := make([]UID, 0, len(s.m))
	for u := range s.m {
		out = append(out, u)
	}
	slices.SortFunc(out, UID.Compare)
	return out
}

// String lists the members in ascending order, comma separated.
func (s UIDSet) String() string {
	uids := s.UIDs()
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = u.String()
	}
	return strings.Join(parts, ",")
}
