// Package rcon implements the remote-console wire protocol: the
// length-prefixed binary frame codec, the authenticated client with its
// reconnect loop, and request/response correlation with multi-frame
// response reassembly.
package rcon

import (
	"bytes"
	"encoding/binary"
)

// Frame type codes as they appear on the wire.
const (
	TypeResponse      int32 = 0
	TypeServerMessage int32 = 1
	TypeCommand       int32 = 2
	TypeAuth          int32 = 3
)

// Protocol bounds. The size field of a frame covers id, type, body and
// the two trailing NUL bytes, so a frame occupies size+4 bytes on the
// wire including the size field itself.
const (
	// MaxBodyLen bounds a single command body. Longer payloads must be
	// chunked by the caller.
	MaxBodyLen = 4152

	minFrameSize = 10
	maxFrameSize = 8192
	maxFrameType = 5

	// authSentinelID is the request id used for the auth frame.
	authSentinelID int32 = 2147483647
)

// sohMarker is the out-of-band start-of-header acknowledgement. It is
// consumed whole and never enters the size-prefixed decode path.
var sohMarker = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}

// Frame is one decoded protocol unit. SoH marks the 7-byte
// start-of-header acknowledgement, which carries no id, type or body.
type Frame struct {
	Type int32
	ID   int32
	Body string
	SoH  bool
}

// Encode serialises a frame for the wire: little-endian size, id and
// type, the UTF-8 body, and two trailing NUL bytes. The size field is
// the frame length minus the four size bytes themselves.
func Encode(frameType, id int32, body string) []byte {
	size := len(body) + 14
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size-4))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(frameType))
	copy(buf[12:size-2], body)
	return buf
}

// Decoder accumulates raw connection bytes and yields frames. It is
// owned by a single reader goroutine and is not safe for concurrent use.
type Decoder struct {
	stream []byte
}

// Feed appends raw bytes received from the connection.
func (d *Decoder) Feed(p []byte) {
	d.stream = append(d.stream, p...)
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.stream = nil
}

// Next decodes the next frame from the accumulated stream. It returns
// ok=false when no complete frame is buffered yet. A malformed frame
// clears the whole accumulator and returns ErrBadFrame; the caller must
// also drop any partially reassembled response it is holding.
func (d *Decoder) Next() (Frame, bool, error) {
	if len(d.stream) < len(sohMarker) {
		return Frame{}, false, nil
	}
	if bytes.Equal(d.stream[:len(sohMarker)], sohMarker) {
		d.stream = d.stream[len(sohMarker):]
		return Frame{SoH: true, Type: TypeResponse}, true, nil
	}

	size := int32(binary.LittleEndian.Uint32(d.stream[0:4]))
	if size < minFrameSize || size > maxFrameSize {
		d.stream = nil
		return Frame{}, false, ErrBadFrame
	}
	if int(size) > len(d.stream)-4 {
		return Frame{}, false, nil
	}

	id := int32(binary.LittleEndian.Uint32(d.stream[4:8]))
	frameType := int32(binary.LittleEndian.Uint32(d.stream[8:12]))
	if d.stream[size+2] != 0 || d.stream[size+3] != 0 || id < 0 || frameType < 0 || frameType > maxFrameType {
		d.stream = nil
		return Frame{}, false, ErrBadFrame
	}

	frame := Frame{
		Type: frameType,
		ID:   id,
		Body: string(d.stream[12 : size+2]),
	}
	d.stream = d.stream[size+4:]
	return frame, true, nil
}
