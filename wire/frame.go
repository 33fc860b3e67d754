package wire

import (
	"fmt"
	"io"

	"github.com/mdlayher/netlink/nlenc"
)

// Header precedes every message payload on the socket.
type Header struct {
	Seq     uint32
	Cmd     Command
	Version uint8
	Flags   uint16
}

// headerLen is the encoded size of a Header.
const headerLen = 8

// MaxPayload bounds a single message's attribute payload. A group
// request for every queue of a large device fits comfortably; anything
// bigger is a protocol error, not a real request.
const MaxPayload = 1 << 20

// WriteFrame writes one length-delimited message. The length field
// counts the header and payload that follow it.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds the %d byte limit", len(payload), MaxPayload)
	}
	buf := make([]byte, 4+headerLen+len(payload))
	nlenc.PutUint32(buf[0:4], uint32(headerLen+len(payload)))
	nlenc.PutUint32(buf[4:8], h.Seq)
	buf[8] = uint8(h.Cmd)
	buf[9] = h.Version
	nlenc.PutUint16(buf[10:12], h.Flags)
	copy(buf[12:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-delimited message. It returns io.EOF
// unwrapped when the stream ends cleanly between messages.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, fmt.Errorf("reading message length: %w", err)
	}
	length := nlenc.Uint32(lenbuf[:])
	if length < headerLen {
		return Header{}, nil, fmt.Errorf("message length %d shorter than the %d byte header", length, headerLen)
	}
	if length > headerLen+MaxPayload {
		return Header{}, nil, fmt.Errorf("message length %d exceeds the %d byte limit", length, headerLen+MaxPayload)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, nil, fmt.Errorf("reading message body: %w", err)
	}
	h := Header{
		Seq:     nlenc.Uint32(buf[0:4]),
		Cmd:     Command(buf[4]),
		Version: buf[5],
		Flags:   nlenc.Uint16(buf[6:8]),
	}
	return h, buf[headerLen:], nil
}
