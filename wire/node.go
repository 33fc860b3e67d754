package wire

import (
	"math"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	"github.com/frobware/go-shaperman"
)

// encodeUint writes a bandwidth value in the narrower of its two
// accepted widths: four bytes when it fits, eight otherwise.
func encodeUint(ae *netlink.AttributeEncoder, typ uint16, v uint64) {
	if v <= math.MaxUint32 {
		ae.Uint32(typ, uint32(v))
	} else {
		ae.Uint64(typ, v)
	}
}

// decodeUint accepts both widths encodeUint produces.
func decodeUint(ad *netlink.AttributeDecoder) (uint64, error) {
	b := ad.Bytes()
	switch len(b) {
	case 4:
		return uint64(nlenc.Uint32(b)), nil
	case 8:
		return nlenc.Uint64(b), nil
	default:
		return 0, shaperman.InvalidRequestf("attribute %d carries %d bytes, want 4 or 8", ad.Type(), len(b))
	}
}

// taxonomyOr keeps already-classified errors intact and folds decoder
// errors into an invalid-request naming what was being parsed.
func taxonomyOr(err error, what string) error {
	if err == nil {
		return nil
	}
	if shaperman.CodeOf(err) != 0 {
		return err
	}
	return shaperman.InvalidRequestf("malformed %s: %v", what, err)
}

func encodeHandle(ae *netlink.AttributeEncoder, typ uint16, h shaperman.Handle) {
	ae.Nested(typ, func(nae *netlink.AttributeEncoder) error {
		nae.Uint32(attrScope, uint32(h.Scope()))
		nae.Uint32(attrID, h.ID())
		return nil
	})
}

// decodeHandle parses a handle nest. Scopes beyond the user-visible
// range are rejected here so nothing past this point sees them.
func decodeHandle(ad *netlink.AttributeDecoder) (shaperman.Handle, error) {
	var (
		scope shaperman.Scope
		id    uint32
	)
	for ad.Next() {
		switch ad.Type() {
		case attrScope:
			scope = shaperman.Scope(ad.Uint32())
		case attrID:
			id = ad.Uint32()
		default:
			return 0, shaperman.InvalidRequestf("unexpected attribute %d in handle", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "handle"); err != nil {
		return 0, err
	}
	if scope > shaperman.ScopeMaxUser {
		return 0, shaperman.InvalidRequestf("handle scope %d out of range", uint32(scope))
	}
	return shaperman.MakeHandle(scope, id), nil
}

// encodeNode writes one request node as a nest of typ: its handle plus
// exactly the attributes the mask marks present.
func encodeNode(ae *netlink.AttributeEncoder, typ uint16, node shaperman.NodeSpec) {
	ae.Nested(typ, func(nae *netlink.AttributeEncoder) error {
		encodeHandle(nae, attrHandle, node.Handle)
		a := node.Attrs
		if a.Has(shaperman.AttrMetric) {
			nae.Uint32(attrMetric, uint32(a.Metric))
		}
		if a.Has(shaperman.AttrBwMin) {
			encodeUint(nae, attrBwMin, a.BwMin)
		}
		if a.Has(shaperman.AttrBwMax) {
			encodeUint(nae, attrBwMax, a.BwMax)
		}
		if a.Has(shaperman.AttrBurst) {
			encodeUint(nae, attrBurst, a.Burst)
		}
		if a.Has(shaperman.AttrPriority) {
			nae.Uint32(attrPriority, a.Priority)
		}
		if a.Has(shaperman.AttrWeight) {
			nae.Uint32(attrWeight, a.Weight)
		}
		if a.Has(shaperman.AttrParent) {
			encodeHandle(nae, attrParent, a.Parent)
		}
		return nil
	})
}

// decodeNode parses one request node nest. Only group outputs may
// carry a parent attribute; everything else gets rejected before the
// manager sees it.
func decodeNode(ad *netlink.AttributeDecoder, allowParent bool) (shaperman.NodeSpec, error) {
	var (
		node      shaperman.NodeSpec
		gotHandle bool
	)
	for ad.Next() {
		switch ad.Type() {
		case attrHandle:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				h, err := decodeHandle(nad)
				if err != nil {
					return err
				}
				node.Handle = h
				return nil
			})
			gotHandle = true
		case attrMetric:
			m := shaperman.Metric(ad.Uint32())
			if m > shaperman.MetricMax {
				return node, shaperman.InvalidRequestf("metric %d out of range", uint32(m))
			}
			node.Attrs.Metric = m
			node.Attrs.Present |= shaperman.AttrMetric
		case attrBwMin:
			v, err := decodeUint(ad)
			if err != nil {
				return node, err
			}
			node.Attrs.BwMin = v
			node.Attrs.Present |= shaperman.AttrBwMin
		case attrBwMax:
			v, err := decodeUint(ad)
			if err != nil {
				return node, err
			}
			node.Attrs.BwMax = v
			node.Attrs.Present |= shaperman.AttrBwMax
		case attrBurst:
			v, err := decodeUint(ad)
			if err != nil {
				return node, err
			}
			node.Attrs.Burst = v
			node.Attrs.Present |= shaperman.AttrBurst
		case attrPriority:
			node.Attrs.Priority = ad.Uint32()
			node.Attrs.Present |= shaperman.AttrPriority
		case attrWeight:
			node.Attrs.Weight = ad.Uint32()
			node.Attrs.Present |= shaperman.AttrWeight
		case attrParent:
			if !allowParent {
				return node, shaperman.InvalidRequestf("parent attribute only valid on a group output")
			}
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				h, err := decodeHandle(nad)
				if err != nil {
					return err
				}
				node.Attrs.Parent = h
				node.Attrs.Present |= shaperman.AttrParent
				return nil
			})
		default:
			return node, shaperman.InvalidRequestf("unexpected attribute %d in shaper", ad.Type())
		}
	}
	if err := taxonomyOr(ad.Err(), "shaper"); err != nil {
		return node, err
	}
	if !gotHandle {
		return node, shaperman.InvalidRequestf("missing handle attribute")
	}
	return node, nil
}

// EncodeShaper renders one committed node for a get or dump reply.
// Zero-valued limits are omitted and the metric rides along only when
// a limit gives it meaning.
func EncodeShaper(ifindex int, s shaperman.Shaper) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(attrIfindex, uint32(ifindex))
	encodeHandle(ae, attrParent, s.Parent)
	encodeHandle(ae, attrHandle, s.Handle)
	if s.BwMin != 0 || s.BwMax != 0 || s.Burst != 0 {
		ae.Uint32(attrMetric, uint32(s.Metric))
	}
	if s.BwMin != 0 {
		encodeUint(ae, attrBwMin, s.BwMin)
	}
	if s.BwMax != 0 {
		encodeUint(ae, attrBwMax, s.BwMax)
	}
	if s.Burst != 0 {
		encodeUint(ae, attrBurst, s.Burst)
	}
	if s.Priority != 0 {
		ae.Uint32(attrPriority, s.Priority)
	}
	if s.Weight != 0 {
		ae.Uint32(attrWeight, s.Weight)
	}
	return ae.Encode()
}

// DecodeShaper parses a get or dump reply. Unknown attributes are
// skipped so older clients keep working against newer daemons.
func DecodeShaper(payload []byte) (int, shaperman.Shaper, error) {
	var (
		ifindex int
		s       shaperman.Shaper
	)
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return 0, s, taxonomyOr(err, "shaper reply")
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
				s.Handle = h
				return nil
			})
		case attrParent:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				h, err := decodeHandle(nad)
				if err != nil {
					return err
				}
				s.Parent = h
				return nil
			})
		case attrMetric:
			s.Metric = shaperman.Metric(ad.Uint32())
		case attrBwMin:
			v, err := decodeUint(ad)
			if err != nil {
				return 0, s, err
			}
			s.BwMin = v
		case attrBwMax:
			v, err := decodeUint(ad)
			if err != nil {
				return 0, s, err
			}
			s.BwMax = v
		case attrBurst:
			v, err := decodeUint(ad)
			if err != nil {
				return 0, s, err
			}
			s.Burst = v
		case attrPriority:
			s.Priority = ad.Uint32()
		case attrWeight:
			s.Weight = ad.Uint32()
		}
	}
	if err := taxonomyOr(ad.Err(), "shaper reply"); err != nil {
		return 0, s, err
	}
	return ifindex, s, nil
}
