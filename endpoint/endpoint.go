// Package endpoint provides the socket-address value types used as the
// primary key for connection identity throughout the collector: a
// family-aware, comparable, formattable address+port pair.
package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Family is the address family of an Endpoint.
type Family uint8

// Supported address families. Families are disjoint: an IPv4 address is
// never equal to an IPv6 address, even when the IPv6 address's low bytes
// match the IPv4 bytes exactly.
const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "IPv4"
	case FamilyV6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// ErrBadAddressLength is returned by New when the address byte slice doesn't
// match the declared family.
var ErrBadAddressLength = errors.New("endpoint: address length does not match family")

// addr is a fixed-width address, zero padded. Only the first 4 bytes are
// significant for FamilyV4.
type addr [16]byte

// Endpoint is an (address-family, address-bytes, port) triple. Endpoints are
// immutable after construction and comparable with ==.
type Endpoint struct {
	family Family
	bytes  addr
	port   uint16
}

// New constructs an Endpoint from raw network-byte-order address bytes and a
// host-byte-order port.
func New(family Family, raw []byte, port uint16) (Endpoint, error) {
	var e Endpoint
	switch family {
	case FamilyV4:
		if len(raw) != 4 {
			return e, ErrBadAddressLength
		}
	case FamilyV6:
		if len(raw) != 16 {
			return e, ErrBadAddressLength
		}
	default:
		return e, fmt.Errorf("endpoint: unsupported family %d", family)
	}
	e.family = family
	copy(e.bytes[:], raw)
	e.port = port
	return e, nil
}

// Family returns the endpoint's address family.
func (e Endpoint) Family() Family { return e.family }

// Port returns the host-byte-order port.
func (e Endpoint) Port() uint16 { return e.port }

// IP returns the address as a net.IP.
func (e Endpoint) IP() net.IP {
	if e.family == FamilyV4 {
		return net.IPv4(e.bytes[0], e.bytes[1], e.bytes[2], e.bytes[3]).To4()
	}
	return net.IP(e.bytes[:16])
}

// Less orders endpoints lexicographically on (address-bytes, port) within a
// family; families are disjoint and compare by family number first.
func (e Endpoint) Less(o Endpoint) bool {
	if e.family != o.family {
		return e.family < o.family
	}
	n := 4
	if e.family == FamilyV6 {
		n = 16
	}
	for i := 0; i < n; i++ {
		if e.bytes[i] != o.bytes[i] {
			return e.bytes[i] < o.bytes[i]
		}
	}
	return e.port < o.port
}

// String renders the canonical "ip:port" form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP(), e.port)
}

// MarshalCSV renders the endpoint for gocsv-tagged structs.
func (e Endpoint) MarshalCSV() (string, error) {
	return e.String(), nil
}

// portFromBytes decodes a big-endian (network byte order) 2-byte port.
func portFromBytes(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// PortFromNetworkBytes exposes the network-byte-order port decode used when
// parsing raw OS connection-table rows.
func PortFromNetworkBytes(b []byte) uint16 {
	return portFromBytes(b)
}

// Identity is the ordered pair (local Endpoint, remote Endpoint) used as the
// primary key into each family's Connection Index.
type Identity struct {
	Local  Endpoint
	Remote Endpoint
}

// Less orders identities by (local, remote), matching spec §3's required
// Connection Record ordering.
func (id Identity) Less(o Identity) bool {
	if id.Local != o.Local {
		return id.Local.Less(o.Local)
	}
	return id.Remote.Less(o.Remote)
}

func (id Identity) String() string {
	return fmt.Sprintf("%s->%s", id.Local, id.Remote)
}
