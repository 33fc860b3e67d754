package wire

import (
	"strings"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-shaperman"
)

// Errno maps a failure onto the errno carried by error replies.
// Anything without a recognised code reports as an I/O error.
func Errno(err error) uint32 {
	switch shaperman.CodeOf(err) {
	case shaperman.CodeInvalidRequest:
		return uint32(unix.EINVAL)
	case shaperman.CodeResourceExhausted:
		return uint32(unix.ENOSPC)
	case shaperman.CodeOutOfMemory:
		return uint32(unix.ENOMEM)
	case shaperman.CodeUnsupported:
		return uint32(unix.EOPNOTSUPP)
	default:
		return uint32(unix.EIO)
	}
}

func codeOfErrno(errno uint32) shaperman.ErrorCode {
	switch unix.Errno(errno) {
	case unix.EINVAL:
		return shaperman.CodeInvalidRequest
	case unix.ENOSPC:
		return shaperman.CodeResourceExhausted
	case unix.ENOMEM:
		return shaperman.CodeOutOfMemory
	case unix.EOPNOTSUPP:
		return shaperman.CodeUnsupported
	default:
		return shaperman.CodeHardwareFailure
	}
}

// EncodeError renders err as an error reply payload: an errno plus
// the full reason text.
func EncodeError(err error) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(errAttrErrno, Errno(err))
	ae.String(errAttrReason, err.Error())
	return ae.Encode()
}

// DecodeError rebuilds the failure an error reply carries. The errno
// recovers the code; the reason text travels verbatim, minus the code
// prefix the sender's formatting added.
func DecodeError(payload []byte) error {
	var (
		errno  uint32
		reason string
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return shaperman.InvalidRequestf("malformed error reply: %v", err)
	}
	for ad.Next() {
		switch ad.Type() {
		case errAttrErrno:
			errno = ad.Uint32()
		case errAttrReason:
			reason = ad.String()
		}
	}
	if err := ad.Err(); err != nil {
		return shaperman.InvalidRequestf("malformed error reply: %v", err)
	}
	code := codeOfErrno(errno)
	if reason == code.String() {
		reason = ""
	} else {
		reason = strings.TrimPrefix(reason, code.String()+": ")
	}
	return &shaperman.Error{Code: code, Reason: reason}
}

// EncodeHandleReply renders the ack of a group: the device and the
// output's effective handle.
func EncodeHandleReply(ifindex int, handle shaperman.Handle) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	encodeHandle(ae, attrHandle, handle)
	return ae.Encode()
}

// DecodeHandleReply parses a group ack.
func DecodeHandleReply(payload []byte) (int, shaperman.Handle, error) {
	var (
		ifindex int
		handle  shaperman.Handle
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, 0, taxonomyOr(err, "handle reply")
	}
	for ad.Next() {
		switch ad.Type() {
		case attrIfindex:
			ifindex = int(ad.Uint32())
		case attrHandle:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				h, err := decodeHandle(nad)
				if err != nil {
					return err
				}
				handle = h
				return nil
			})
		}
	}
	if err := taxonomyOr(ad.Err(), "handle reply"); err != nil {
		return 0, 0, err
	}
	return ifindex, handle, nil
}

// EncodeScopeCaps renders one scope's capabilities. Each supported
// feature becomes a flag attribute whose type is the feature's bit
// position offset into the support range.
func EncodeScopeCaps(ifindex int, caps shaperman.ScopeCapabilities) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(capsIfindex, uint32(ifindex))
	ae.Uint32(capsScope, uint32(caps.Scope))
	for bit := uint16(0); bit <= capsSupportLast-capsSupportFirst; bit++ {
		if caps.Features&(1<<bit) != 0 {
			ae.Flag(capsSupportFirst+bit, true)
		}
	}
	return ae.Encode()
}

// DecodeScopeCaps parses one scope's capabilities.
func DecodeScopeCaps(payload []byte) (shaperman.ScopeCapabilities, error) {
	var caps shaperman.ScopeCapabilities
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return caps, taxonomyOr(err, "capability reply")
	}
	for ad.Next() {
		switch t := ad.Type(); {
		case t == capsIfindex:
		case t == capsScope:
			caps.Scope = shaperman.Scope(ad.Uint32())
		case t >= capsSupportFirst && t <= capsSupportLast:
			caps.Features |= 1 << (t - capsSupportFirst)
		}
	}
	if err := taxonomyOr(ad.Err(), "capability reply"); err != nil {
		return caps, err
	}
	return caps, nil
}

// DeviceInfo is the device listing entry CmdDevices replies carry.
type DeviceInfo struct {
	Ifindex  int    `json:"ifindex"`
	Name     string `json:"name"`
	Backend  string `json:"backend"`
	TxQueues uint32 `json:"tx_queues"`
}

// EncodeDevice renders one device listing entry.
func EncodeDevice(dev DeviceInfo) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(devIfindex, uint32(dev.Ifindex))
	ae.String(devName, dev.Name)
	ae.String(devBackend, dev.Backend)
	ae.Uint32(devTxQueues, dev.TxQueues)
	return ae.Encode()
}

// DecodeDevice parses one device listing entry.
func DecodeDevice(payload []byte) (DeviceInfo, error) {
	var dev DeviceInfo
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return dev, taxonomyOr(err, "device reply")
	}
	for ad.Next() {
		switch ad.Type() {
		case devIfindex:
			dev.Ifindex = int(ad.Uint32())
		case devName:
			dev.Name = ad.String()
		case devBackend:
			dev.Backend = ad.String()
		case devTxQueues:
			dev.TxQueues = ad.Uint32()
		}
	}
	if err := taxonomyOr(ad.Err(), "device reply"); err != nil {
		return dev, err
	}
	return dev, nil
}
