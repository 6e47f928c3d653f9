package broker_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameReadFrameRoundTrip(t *testing.T) {
	t.Parallel()

	f := &broker.Frame{Type: broker.FrameMethod, Channel: 7, Payload: []byte{0x00, 0x0A, 0x00, 0x0B, 'x', 'y', 'z'}}
	wire := broker.EncodeFrame(f)

	fr := broker.NewFrameReader(bytes.NewReader(wire), 0)
	got, err := fr.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Channel, got.Channel)
	assert.Equal(t, f.Payload, got.Payload)
}

// chunkedReader dribbles out the underlying bytes a few at a time, to
// exercise FrameReader's reassembly of a header or payload split across
// multiple underlying reads.
type chunkedReader struct {
	buf []byte
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		return 0, io.EOF
	}
	n := 3
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	copy(p, c.buf[:n])
	c.buf = c.buf[n:]
	return n, nil
}

func TestReadFrameAcrossSplitReads(t *testing.T) {
	t.Parallel()

	f := &broker.Frame{Type: broker.FrameBody, Channel: 1, Payload: bytes.Repeat([]byte{'a'}, 4096)}
	wire := broker.EncodeFrame(f)

	fr := broker.NewFrameReader(&chunkedReader{buf: wire}, 0)
	got, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	f := &broker.Frame{Type: broker.FrameBody, Channel: 0, Payload: make([]byte, 128)}
	wire := broker.EncodeFrame(f)

	fr := broker.NewFrameReader(bytes.NewReader(wire), 64)
	_, err := fr.ReadFrame()
	assert.Error(t, err)

	var fe *broker.AMQPError
	assert.ErrorAs(t, err, &fe)
}

func TestReadFrameInvalidEndMarker(t *testing.T) {
	t.Parallel()

	f := &broker.Frame{Type: broker.FrameMethod, Channel: 0, Payload: []byte{0x00, 0x0A, 0x00, 0x0B}}
	wire := broker.EncodeFrame(f)
	wire[len(wire)-1] = 0x00

	fr := broker.NewFrameReader(bytes.NewReader(wire), 0)
	_, err := fr.ReadFrame()
	assert.Error(t, err)
}

func TestReadProtocolHeaderValid(t *testing.T) {
	t.Parallel()

	fr := broker.NewFrameReader(bytes.NewReader(broker.ProtocolHeader), 0)
	assert.NoError(t, fr.ReadProtocolHeader())
}

func TestReadProtocolHeaderMismatch(t *testing.T) {
	t.Parallel()

	bad := []byte("AMQP\x00\x00\x00\x00")
	fr := broker.NewFrameReader(bytes.NewReader(bad), 0)
	assert.Error(t, fr.ReadProtocolHeader())
}

func TestEncodeHeartbeat(t *testing.T) {
	t.Parallel()

	wire := broker.EncodeHeartbeat()
	fr := broker.NewFrameReader(bytes.NewReader(wire), 0)
	got, err := fr.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, broker.FrameHeartbeat, got.Type)
	assert.Empty(t, got.Payload)
}

func TestEncodeMethodFrameAndDecodeMethodHeader(t *testing.T) {
	t.Parallel()

	wire := broker.EncodeMethodFrame(3, 60, 40, []byte("args"))

	fr := broker.NewFrameReader(bytes.NewReader(wire), 0)
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), f.Channel)

	classID, methodID, args, err := broker.DecodeMethodHeader(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(60), classID)
	assert.Equal(t, uint16(40), methodID)
	assert.Equal(t, []byte("args"), args)
}

func TestDecodeMethodHeaderTruncated(t *testing.T) {
	t.Parallel()

	_, _, _, err := broker.DecodeMethodHeader([]byte{0x00, 0x0A})
	assert.Error(t, err)
}
