// Package wire speaks the net-shaper control protocol: length-framed
// messages over a stream socket, each carrying a fixed header and a
// native-endian TLV attribute payload. The server decodes requests and
// encodes replies; the client does the reverse. Policy validation
// lives on the decode path so the manager only ever sees well-formed
// requests.
package wire

import "fmt"

// Family and Version identify the protocol spoken on the socket.
const (
	Family  = "net-shaper"
	Version = 1
)

// Command selects the operation a message requests.
type Command uint8

const (
	CmdGet Command = iota + 1
	CmdSet
	CmdDelete
	CmdGroup
	CmdCapGet
	CmdCapDump
	// CmdDevices lists the registered devices. It is served entirely
	// from the daemon's registry and touches no shaper state.
	CmdDevices
)

// String returns the string representation of the command.
func (c Command) String() string {
	switch c {
	case CmdGet:
		return "get"
	case CmdSet:
		return "set"
	case CmdDelete:
		return "delete"
	case CmdGroup:
		return "group"
	case CmdCapGet:
		return "cap-get"
	case CmdCapDump:
		return "cap-dump"
	case CmdDevices:
		return "devices"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Header flags.
const (
	// FlagDump marks a request asking for every entry, answered by a
	// stream of replies terminated with FlagDone.
	FlagDump uint16 = 1 << iota
	// FlagError marks a reply whose payload is an errno plus reason.
	FlagError
	// FlagDone terminates a dump.
	FlagDone
)

// Shaper attribute types, shared by requests and node replies.
const (
	attrIfindex  uint16 = 1
	attrHandle   uint16 = 2
	attrMetric   uint16 = 3
	attrBwMin    uint16 = 4
	attrBwMax    uint16 = 5
	attrBurst    uint16 = 6
	attrPriority uint16 = 7
	attrWeight   uint16 = 8
	attrScope    uint16 = 9
	attrID       uint16 = 10
	attrParent   uint16 = 11
	attrInputs   uint16 = 12
	attrOutput   uint16 = 13
	attrShaper   uint16 = 14
)

// Capability attribute types. The support attrs are flags; their type
// values line up with the feature bit order so encode and decode are a
// single shift.
const (
	capsIfindex      uint16 = 1
	capsScope        uint16 = 2
	capsSupportFirst uint16 = 3 // metric-bps; the rest follow in feature-bit order
	capsSupportLast  uint16 = 10
)

// Device attribute types used by CmdDevices replies.
const (
	devIfindex  uint16 = 1
	devName     uint16 = 2
	devBackend  uint16 = 3
	devTxQueues uint16 = 4
)

// Error attribute types used by FlagError replies.
const (
	errAttrErrno  uint16 = 1
	errAttrReason uint16 = 2
)
