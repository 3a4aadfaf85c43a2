//go:build windows

package winapi

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/tcp"
)

var (
	modIPHlpAPI = windows.NewLazySystemDLL("iphlpapi.dll")

	procGetExtendedTcpTable       = modIPHlpAPI.NewProc("GetExtendedTcpTable")
	procGetPerTcpConnectionEStats = modIPHlpAPI.NewProc("GetPerTcpConnectionEStats")
	procSetPerTcpConnectionEStats = modIPHlpAPI.NewProc("SetPerTcpConnectionEStats")
)

// Constants from iprtrmib.h / tcpestats.h.
const (
	afINET  = 2  // AF_INET
	afINET6 = 23 // AF_INET6

	tcpTableOwnerPIDAll = 5 // TCP_TABLE_OWNER_PID_ALL

	errorInsufficientBuffer = 122
	errorAccessDenied       = 5
	errorNotFound           = 1168
	errorSuccess            = 0
)

// mibTCPRowOwnerPID mirrors MIB_TCPROW_OWNER_PID (iprtrmib.h).
type mibTCPRowOwnerPID struct {
	State      uint32
	LocalAddr  uint32
	LocalPort  [4]byte
	RemoteAddr uint32
	RemotePort [4]byte
	OwningPID  uint32
}

// mibTCP6RowOwnerPID mirrors MIB_TCP6ROW_OWNER_PID.
type mibTCP6RowOwnerPID struct {
	LocalAddr     [16]byte
	LocalScopeID  uint32
	LocalPort     [4]byte
	RemoteAddr    [16]byte
	RemoteScopeID uint32
	RemotePort    [4]byte
	State         uint32
	OwningPID     uint32
}

// windowsSystem is the production System implementation, talking directly
// to iphlpapi.dll's extended TCP table and per-connection ESTATS surface.
type windowsSystem struct{}

// New returns the production OS surface. It is only available on Windows;
// every other platform gets stub.go's New, which returns a System that
// reports ErrUnsupportedPlatform.
func New() System {
	return windowsSystem{}
}

func (windowsSystem) TCPTable(fam endpoint.Family) ([]Row, error) {
	af := uint32(afINET)
	if fam == endpoint.FamilyV6 {
		af = afINET6
	}
	var size uint32
	// First call with a zero-length buffer to discover the required size,
	// then retry once with a correctly sized buffer (spec §4.D/§7).
	r, _, _ := procGetExtendedTcpTable.Call(
		0, uintptr(unsafe.Pointer(&size)), 1, uintptr(af), uintptr(tcpTableOwnerPIDAll), 0)
	if r != errorInsufficientBuffer && r != errorSuccess {
		return nil, statusToErr("GetExtendedTcpTable", uint32(r))
	}
	buf := make([]byte, size)
	r, _, _ = procGetExtendedTcpTable.Call(
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)), 1, uintptr(af), uintptr(tcpTableOwnerPIDAll), 0)
	if r != errorSuccess {
		if r == errorInsufficientBuffer {
			return nil, ErrInsufficientBuffer
		}
		return nil, statusToErr("GetExtendedTcpTable", uint32(r))
	}
	if fam == endpoint.FamilyV4 {
		return parseV4Table(buf)
	}
	return parseV6Table(buf)
}

func parseV4Table(buf []byte) ([]Row, error) {
	count := binary.LittleEndian.Uint32(buf[:4])
	rows := make([]Row, 0, count)
	const rowSize = int(unsafe.Sizeof(mibTCPRowOwnerPID{}))
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+rowSize > len(buf) {
			break
		}
		row := (*mibTCPRowOwnerPID)(unsafe.Pointer(&buf[off]))
		var localAddr, remoteAddr [4]byte
		binary.LittleEndian.PutUint32(localAddr[:], row.LocalAddr)
		binary.LittleEndian.PutUint32(remoteAddr[:], row.RemoteAddr)
		local, err := endpoint.New(endpoint.FamilyV4, localAddr[:], endpoint.PortFromNetworkBytes(row.LocalPort[:2]))
		if err != nil {
			return nil, err
		}
		remote, err := endpoint.New(endpoint.FamilyV4, remoteAddr[:], endpoint.PortFromNetworkBytes(row.RemotePort[:2]))
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Local: local, Remote: remote, State: tcp.State(row.State)})
		off += rowSize
	}
	return rows, nil
}

func parseV6Table(buf []byte) ([]Row, error) {
	count := binary.LittleEndian.Uint32(buf[:4])
	rows := make([]Row, 0, count)
	const rowSize = int(unsafe.Sizeof(mibTCP6RowOwnerPID{}))
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+rowSize > len(buf) {
			break
		}
		row := (*mibTCP6RowOwnerPID)(unsafe.Pointer(&buf[off]))
		local, err := endpoint.New(endpoint.FamilyV6, row.LocalAddr[:], endpoint.PortFromNetworkBytes(row.LocalPort[:2]))
		if err != nil {
			return nil, err
		}
		remote, err := endpoint.New(endpoint.FamilyV6, row.RemoteAddr[:], endpoint.PortFromNetworkBytes(row.RemotePort[:2]))
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Local: local, Remote: remote, State: tcp.State(row.State)})
		off += rowSize
	}
	return rows, nil
}

func toMIBRow(row Row) (mibTCPRowOwnerPID, mibTCP6RowOwnerPID, bool) {
	if row.Local.Family() == endpoint.FamilyV4 {
		var r mibTCPRowOwnerPID
		r.LocalAddr = binary.LittleEndian.Uint32(row.Local.IP().To4())
		r.RemoteAddr = binary.LittleEndian.Uint32(row.Remote.IP().To4())
		binary.BigEndian.PutUint16(r.LocalPort[:2], row.Local.Port())
		binary.BigEndian.PutUint16(r.RemotePort[:2], row.Remote.Port())
		return r, mibTCP6RowOwnerPID{}, true
	}
	var r6 mibTCP6RowOwnerPID
	copy(r6.LocalAddr[:], row.Local.IP())
	copy(r6.RemoteAddr[:], row.Remote.IP())
	binary.BigEndian.PutUint16(r6.LocalPort[:2], row.Local.Port())
	binary.BigEndian.PutUint16(r6.RemotePort[:2], row.Remote.Port())
	return mibTCPRowOwnerPID{}, r6, false
}

// rwFlagCount is the size of the only RW block field the collector cares
// about: a run of BOOLEAN enable flags. Bandwidth uses two (outbound,
// inbound); SynOpts has none; every other family uses one. FieldWidths
// gives each family's ROD/ROS field widths in bits (32 or 64), in the
// declared column order from package family.
var rwFlagCount = map[EstatsType]int{
	EstatsTypeSynOpts:   0,
	EstatsTypeData:      1,
	EstatsTypeSndCong:   1,
	EstatsTypePath:      1,
	EstatsTypeRec:       1,
	EstatsTypeObsRec:    1,
	EstatsTypeBandwidth: 2,
}

func rowPointer(row Row) unsafe.Pointer {
	v4, v6, isV4 := toMIBRow(row)
	if isV4 {
		return unsafe.Pointer(&v4)
	}
	return unsafe.Pointer(&v6)
}

func (windowsSystem) SetEnable(row Row, typ EstatsType, outbound, inbound bool) error {
	n := rwFlagCount[typ]
	if n == 0 {
		return nil // SynOpts has no enable flag; always on.
	}
	rw := make([]byte, n)
	rw[0] = boolToByte(outbound)
	if n == 2 {
		rw[1] = boolToByte(inbound)
	}
	r, _, _ := procSetPerTcpConnectionEStats.Call(
		uintptr(rowPointer(row)), uintptr(typ),
		uintptr(unsafe.Pointer(&rw[0])), 0, uintptr(len(rw)), 0)
	if r != errorSuccess {
		return statusToErr("SetPerTcpConnectionEStats", uint32(r))
	}
	return nil
}

func (windowsSystem) GetDynamic(row Row, typ EstatsType) (Enable, []uint64, error) {
	n := rwFlagCount[typ]
	rw := make([]byte, maxInt(n, 1))
	widths := FieldWidths[typ]
	rod := make([]byte, byteWidth(widths))
	fillPattern(rod, 0xFF)

	r, _, _ := procGetPerTcpConnectionEStats.Call(
		uintptr(rowPointer(row)), uintptr(typ),
		uintptr(unsafe.Pointer(&rw[0])), 0, uintptr(len(rw)),
		0, 0, 0,
		uintptr(unsafe.Pointer(&rod[0])), 0, uintptr(len(rod)))
	if r != errorSuccess {
		return Enable{}, nil, statusToErr("GetPerTcpConnectionEStats", uint32(r))
	}
	en := Enable{Outbound: n > 0 && rw[0] != 0}
	if n == 2 {
		en.Inbound = rw[1] != 0
	}
	return en, decodeFields(rod, widths), nil
}

func (windowsSystem) GetStatic(row Row, typ EstatsType) ([]uint64, error) {
	widths := FieldWidths[typ]
	ros := make([]byte, byteWidth(widths))
	fillPattern(ros, 0xFF)
	r, _, _ := procGetPerTcpConnectionEStats.Call(
		uintptr(rowPointer(row)), uintptr(typ),
		0, 0, 0,
		uintptr(unsafe.Pointer(&ros[0])), 0, uintptr(len(ros)),
		0, 0, 0)
	if r != errorSuccess {
		return nil, statusToErr("GetPerTcpConnectionEStats(static)", uint32(r))
	}
	return decodeFields(ros, widths), nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func byteWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w / 8
	}
	return total
}

func fillPattern(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

// decodeFields reads len(widths) little-endian fields of the declared bit
// widths out of buf, widening each to uint64.
func decodeFields(buf []byte, widths []int) []uint64 {
	out := make([]uint64, len(widths))
	off := 0
	for i, w := range widths {
		switch w {
		case 32:
			out[i] = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
		default:
			out[i] = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		}
	}
	return out
}

func statusToErr(op string, code uint32) error {
	switch code {
	case errorAccessDenied:
		return ErrAccessDenied
	case errorNotFound:
		return ErrNoData
	case errorInsufficientBuffer:
		return ErrInsufficientBuffer
	case errorSuccess:
		return nil
	default:
		return &StatusError{Op: op, Code: code}
	}
}
