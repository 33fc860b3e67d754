package wire

import (
	"github.com/mdlayher/netlink"

	"github.com/frobware/go-shaperman"
)

// Request decoders enforce per-command attribute policy: required
// attributes must be present, nothing beyond the command's attribute
// set is tolerated, and range checks happen before the manager runs.
// The matching encoders build exactly what the decoders accept.

// EncodeGetRequest builds the payload of a single-shaper get.
func EncodeGetRequest(ifindex int, handle shaperman.Handle) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	encodeHandle(ae, attrHandle, handle)
	return ae.Encode()
}

// DecodeGetRequest parses a get payload; ifindex and handle are both
// required.
func DecodeGetRequest(payload []byte) (int, shaperman.Handle, error) {
	var (
		ifindex    int
		handle     shaperman.Handle
		gotIfindex bool
		gotHandle  bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, 0, taxonomyOr(err, "get request")
	}
	for ad.Next() {
		switch ad.Type() {
		case attrIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		case attrHandle:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				h, err := decodeHandle(nad)
				if err != nil {
					return err
				}
				handle = h
				return nil
			})
			gotHandle = true
		default:
			return 0, 0, shaperman.InvalidRequestf("unexpected attribute %d in get request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "get request"); err != nil {
		return 0, 0, err
	}
	if !gotIfindex {
		return 0, 0, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	if !gotHandle {
		return 0, 0, shaperman.InvalidRequestf("missing handle attribute")
	}
	return ifindex, handle, nil
}

// EncodeListRequest builds the payload of a dump get, which carries
// the device alone.
func EncodeListRequest(ifindex int) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	return ae.Encode()
}

// DecodeListRequest parses a dump get payload.
func DecodeListRequest(payload []byte) (int, error) {
	var (
		ifindex    int
		gotIfindex bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, taxonomyOr(err, "dump request")
	}
	for ad.Next() {
		switch ad.Type() {
		case attrIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		default:
			return 0, shaperman.InvalidRequestf("unexpected attribute %d in dump request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "dump request"); err != nil {
		return 0, err
	}
	if !gotIfindex {
		return 0, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	return ifindex, nil
}

// EncodeSetRequest builds the payload of a set: the device plus one
// shaper nest carrying the handle and the attributes to change.
func EncodeSetRequest(ifindex int, node shaperman.NodeSpec) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	encodeNode(ae, attrShaper, node)
	return ae.Encode()
}

// DecodeSetRequest parses a set payload. The shaper nest may not
// carry a parent; re-parenting is group's job.
func DecodeSetRequest(payload []byte) (int, shaperman.NodeSpec, error) {
	var (
		ifindex    int
		node       shaperman.NodeSpec
		gotIfindex bool
		gotShaper  bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, node, taxonomyOr(err, "set request")
	}
	for ad.Next() {
		switch ad.Type() {
		case attrIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		case attrShaper:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				n, err := decodeNode(nad, false)
				if err != nil {
					return err
				}
				node = n
				return nil
			})
			gotShaper = true
		default:
			return 0, node, shaperman.InvalidRequestf("unexpected attribute %d in set request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "set request"); err != nil {
		return 0, node, err
	}
	if !gotIfindex {
		return 0, node, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	if !gotShaper {
		return 0, node, shaperman.InvalidRequestf("missing shaper attribute")
	}
	return ifindex, node, nil
}

// EncodeDeleteRequest builds the payload of a delete.
func EncodeDeleteRequest(ifindex int, handle shaperman.Handle) ([]byte, error) {
	return EncodeGetRequest(ifindex, handle)
}

// DecodeDeleteRequest parses a delete payload, which has the same
// shape as a get.
func DecodeDeleteRequest(payload []byte) (int, shaperman.Handle, error) {
	return DecodeGetRequest(payload)
}

// EncodeGroupRequest builds the payload of a group: the device, one
// nest per input, and the output nest, which alone may name a parent.
func EncodeGroupRequest(ifindex int, inputs []shaperman.NodeSpec, output shaperman.NodeSpec) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	for _, in := range inputs {
		encodeNode(ae, attrInputs, in)
	}
	encodeNode(ae, attrOutput, output)
	return ae.Encode()
}

// DecodeGroupRequest parses a group payload. Inputs may be absent at
// this layer; the manager owns the at-least-one rule so the error
// reads the same from every entry point.
func DecodeGroupRequest(payload []byte) (int, []shaperman.NodeSpec, shaperman.NodeSpec, error) {
	var (
		ifindex    int
		inputs     []shaperman.NodeSpec
		output     shaperman.NodeSpec
		gotIfindex bool
		gotOutput  bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, nil, output, taxonomyOr(err, "group request")
	}
	for ad.Next() {
		switch ad.Type() {
		case attrIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		case attrInputs:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				n, err := decodeNode(nad, false)
				if err != nil {
					return err
				}
				inputs = append(inputs, n)
				return nil
			})
		case attrOutput:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				n, err := decodeNode(nad, true)
				if err != nil {
					return err
				}
				output = n
				return nil
			})
			gotOutput = true
		default:
			return 0, nil, output, shaperman.InvalidRequestf("unexpected attribute %d in group request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "group request"); err != nil {
		return 0, nil, output, err
	}
	if !gotIfindex {
		return 0, nil, output, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	if !gotOutput {
		return 0, nil, output, shaperman.InvalidRequestf("missing output attribute")
	}
	return ifindex, inputs, output, nil
}

// EncodeCapGetRequest builds the payload of a single-scope capability
// query. Capability commands use their own attribute space.
func EncodeCapGetRequest(ifindex int, scope shaperman.Scope) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(capsIfindex, uint32(ifindex))
	ae.Uint32(capsScope, uint32(scope))
	return ae.Encode()
}

// DecodeCapGetRequest parses a single-scope capability query.
func DecodeCapGetRequest(payload []byte) (int, shaperman.Scope, error) {
	var (
		ifindex    int
		scope      shaperman.Scope
		gotIfindex bool
		gotScope   bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, 0, taxonomyOr(err, "capability request")
	}
	for ad.Next() {
		switch ad.Type() {
		case capsIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		case capsScope:
			scope = shaperman.Scope(ad.Uint32())
			gotScope = true
		default:
			return 0, 0, shaperman.InvalidRequestf("unexpected attribute %d in capability request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "capability request"); err != nil {
		return 0, 0, err
	}
	if !gotIfindex {
		return 0, 0, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	if !gotScope {
		return 0, 0, shaperman.InvalidRequestf("missing scope attribute")
	}
	if scope > shaperman.ScopeMaxUser {
		return 0, 0, shaperman.InvalidRequestf("capability scope %d out of range", uint32(scope))
	}
	return ifindex, scope, nil
}

// EncodeCapDumpRequest builds the payload of an all-scope capability
// dump.
func EncodeCapDumpRequest(ifindex int) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(capsIfindex, uint32(ifindex))
	return ae.Encode()
}

// DecodeCapDumpRequest parses an all-scope capability dump payload.
func DecodeCapDumpRequest(payload []byte) (int, error) {
	var (
		ifindex    int
		gotIfindex bool
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, taxonomyOr(err, "capability dump request")
	}
	for ad.Next() {
		switch ad.Type() {
		case capsIfindex:
			ifindex = int(ad.Uint32())
			gotIfindex = true
		default:
			return 0, shaperman.InvalidRequestf("unexpected attribute %d in capability dump request", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "capability dump request"); err != nil {
		return 0, err
	}
	if !gotIfindex {
		return 0, shaperman.InvalidRequestf("missing ifindex attribute")
	}
	return ifindex, nil
}
