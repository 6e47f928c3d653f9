package broker

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types, per spec.md §4.1.
const (
	FrameMethod    uint8 = 1
	FrameHeader    uint8 = 2
	FrameBody      uint8 = 3
	FrameHeartbeat uint8 = 8
)

const frameEnd = 0xCE

// ProtocolHeader is the fixed 8-byte preamble every client must send
// before any framed traffic.
var ProtocolHeader = []byte("AMQP\x00\x00\x09\x01")

// Frame is a single decoded AMQP frame: type, channel, and raw payload.
// For method frames the payload still holds classId/methodId/arguments;
// callers decode that with methods.go helpers.
type Frame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// FrameReader decodes a continuous byte stream into frames, correctly
// reassembling a frame whose header or payload arrives split across
// multiple underlying reads.
type FrameReader struct {
	r       *bufio.Reader
	maxSize uint32
}

func NewFrameReader(r io.Reader, maxFrameSize uint32) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024), maxSize: maxFrameSize}
}

// ReadFrame blocks until a full frame header and body (7 bytes + payload
// + trailing 0xCE) have been read, or returns an error. bufio.Reader
// already buffers partial reads across the underlying net.Conn, so the
// reassembly concern from a raw-socket decoder collapses into sequential
// io.ReadFull calls here.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	header := make([]byte, 7)
	if _, err := io.ReadFull(fr.r, header); err != nil {
		return nil, err
	}

	typ := header[0]
	channel := binary.BigEndian.Uint16(header[1:3])
	size := binary.BigEndian.Uint32(header[3:7])

	if fr.maxSize > 0 && size > fr.maxSize {
		return nil, NewFrameError(fmt.Sprintf("frame size %d exceeds negotiated max %d", size, fr.maxSize))
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
	}

	end := make([]byte, 1)
	if _, err := io.ReadFull(fr.r, end); err != nil {
		return nil, err
	}
	if end[0] != frameEnd {
		return nil, NewFrameError(fmt.Sprintf("invalid frame end marker 0x%02x", end[0]))
	}

	return &Frame{Type: typ, Channel: channel, Payload: payload}, nil
}

// ReadProtocolHeader reads and validates the 8-byte AMQP protocol
// header. Per spec.md §4.2, a mismatch is not replied to with a method
// — the caller writes its own header and closes the socket.
func (fr *FrameReader) ReadProtocolHeader() error {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return err
	}

	for i, b := range ProtocolHeader {
		if buf[i] != b {
			return fmt.Errorf("protocol header mismatch: got %q", buf)
		}
	}

	return nil
}

// EncodeFrame renders a frame to its complete wire form.
func EncodeFrame(f *Frame) []byte {
	out := make([]byte, 7+len(f.Payload)+1)
	out[0] = f.Type
	binary.BigEndian.PutUint16(out[1:3], f.Channel)
	binary.BigEndian.PutUint32(out[3:7], uint32(len(f.Payload)))
	copy(out[7:], f.Payload)
	out[len(out)-1] = frameEnd

	return out
}

// EncodeHeartbeat returns the wire form of a heartbeat frame.
func EncodeHeartbeat() []byte {
	return EncodeFrame(&Frame{Type: FrameHeartbeat, Channel: 0})
}

// EncodeMethodFrame packs a classId/methodId/argument payload into a
// method frame on the given channel.
func EncodeMethodFrame(channel uint16, classID, methodID uint16, args []byte) []byte {
	payload := make([]byte, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	copy(payload[4:], args)

	return EncodeFrame(&Frame{Type: FrameMethod, Channel: channel, Payload: payload})
}

// DecodeMethodHeader splits a method frame's payload into its
// classId/methodId and the remaining argument bytes.
func DecodeMethodHeader(payload []byte) (classID, methodID uint16, args []byte, err error) {
	if len(payload) < 4 {
		return 0, 0, nil, NewSyntaxError(0, 0, "truncated method header")
	}

	classID = binary.BigEndian.Uint16(payload[0:2])
	methodID = binary.BigEndian.Uint16(payload[2:4])
	args = payload[4:]

	return classID, methodID, args, nil
}
