// Package winapi declares the OS connection-table enumeration and
// per-connection ESTATS surface consumed by the collector, and the platform
// implementations of it.
//
// The real implementation only builds on windows (windows.go). Every other
// GOOS gets a stub (stub.go) that returns ErrUnsupportedPlatform, a "does
// nothing, but needed for compiling elsewhere" split. Tests drive an
// in-memory Fake (fake.go) instead of real syscalls.
//
// GetDynamic/GetStatic return decoded field values rather than raw RW/ROS/ROD
// byte blocks: pre-filling a buffer with 0xFF and reading it back through
// unsafe pointers is an implementation detail of talking to iphlpapi.dll, not
// part of the core logic (validity-sentinel testing, cumulative vs.
// instantaneous handling) that this package's callers need to exercise.
package winapi

import (
	"errors"
	"fmt"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/tcp"
)

// EstatsType discriminates the seven ESTATS families understood by
// GetPerTcpConnectionEStats/SetPerTcpConnectionEStats, matching the Windows
// TCP_ESTATS_TYPE enum.
type EstatsType uint32

// Values taken from the Windows SDK's tcpestats.h TCP_ESTATS_TYPE enum.
const (
	EstatsTypeSynOpts EstatsType = iota
	EstatsTypeData
	EstatsTypeSndCong
	EstatsTypePath
	EstatsTypeSendBuff
	EstatsTypeRec
	EstatsTypeObsRec
	EstatsTypeBandwidth
	EstatsTypeFineRtt
)

// Row is one entry from the OS TCP connection table.
type Row struct {
	Local  endpoint.Endpoint
	Remote endpoint.Endpoint
	State  tcp.State
}

// Errors returned by System implementations. ErrAccessDenied is the
// distinguished failure that spec §4.H/§7 classifies as fatal; everything
// else is transient except ErrInsufficientBuffer, which the table
// enumeration recovers from with a single resize-and-retry (spec §4.D step
// 2, §7).
var (
	ErrAccessDenied        = errors.New("winapi: access denied")
	ErrInsufficientBuffer  = errors.New("winapi: insufficient buffer")
	ErrNoData              = errors.New("winapi: no data")
	ErrUnsupportedPlatform = errors.New("winapi: ESTATS surface unavailable on this platform")
)

// StatusError wraps a non-zero OS status code that isn't one of the
// distinguished sentinels above.
type StatusError struct {
	Op   string
	Code uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("winapi: %s failed with status %d", e.Op, e.Code)
}

// FieldWidths gives each family's ROD (or, for SynOpts, ROS) field bit
// widths, in the same order package family declares its columns. Both the
// real Windows implementation (for buffer sizing) and package family (for
// validity-sentinel checks) key off this table, so it lives here rather
// than being duplicated.
var FieldWidths = map[EstatsType][]int{
	// MssRcvd, MssSent
	EstatsTypeSynOpts: {32, 32},
	// DataBytesOut, DataBytesIn
	EstatsTypeData: {64, 64},
	// CurCwnd (instantaneous) then six cumulative byte/transition counters.
	EstatsTypeSndCong: {32, 64, 64, 64, 32, 32, 32},
	// CurRto, SmoothedRtt (instantaneous) then five cumulative counters.
	EstatsTypePath: {32, 32, 64, 32, 32, 32, 32},
	// CurRwinRcvd, MinRwinRcvd, MaxRwinRcvd (LocalRwin, "Rec" in winapi).
	EstatsTypeRec: {32, 32, 32},
	// CurRwinSent, MinRwinSent, MaxRwinSent (RemoteRwin, "ObsRec" in winapi).
	EstatsTypeObsRec: {32, 32, 32},
	// OutboundBandwidth, OutboundInstability, OutboundBandwidthPeaked,
	// InboundBandwidth, InboundInstability, InboundBandwidthPeaked.
	EstatsTypeBandwidth: {64, 64, 32, 64, 64, 32},
}

// Enable reports the readback state of a family's RW enable flag(s) after a
// get-dynamic call. Outbound is the single EnableCollection bit for every
// family except Bandwidth, which also reports Inbound.
type Enable struct {
	Outbound bool
	Inbound  bool
}

// System is the OS surface the Polling Engine and Counter-Family Trackers
// consume.
type System interface {
	// TCPTable enumerates the connection table for the given family,
	// retrying once internally on ErrInsufficientBuffer per spec §4.D/§7.
	TCPTable(family endpoint.Family) ([]Row, error)

	// SetEnable turns on collection for typ on a connection. For every
	// family except Bandwidth only outbound is used, as the single
	// EnableCollection bit; Bandwidth has independent outbound/inbound flags.
	SetEnable(row Row, typ EstatsType, outbound, inbound bool) error

	// GetDynamic reads the ROD (dynamic) block for typ, field by field, in
	// the family's declared column order. Each returned value is widened to
	// uint64; the caller checks validity against the column's declared bit
	// width. enable reports the RW readback.
	GetDynamic(row Row, typ EstatsType) (enable Enable, fields []uint64, err error)

	// GetStatic reads the ROS (static, read-once) block, used only by the
	// SynOpts family.
	GetStatic(row Row, typ EstatsType) (fields []uint64, err error)
}
