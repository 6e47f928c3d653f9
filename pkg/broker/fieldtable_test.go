package broker_test

import (
	"testing"
	"time"

	"github.com/architeacher/amqp-broker/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTableRoundTrip(t *testing.T) {
	t.Parallel()

	in := broker.Table{
		"present":    true,
		"absent":     false,
		"byte-val":   uint8(200),
		"short-val":  int16(-1234),
		"ushort-val": uint16(1234),
		"long-val":   int32(-123456),
		"ulong-val":  uint32(123456),
		"longlong":   int64(-9223372036854775000),
		"float":      float32(3.25),
		"double":     float64(3.14159),
		"decimal":    broker.Decimal{Scale: 2, Value: 12345},
		"str":        "hello, amqp",
		"timestamp":  time.Unix(1700000000, 0).UTC(),
		"nested":     broker.Table{"inner": "value"},
		"array":      []any{int32(1), "two", true},
		"bytes":      []byte{0xDE, 0xAD, 0xBE, 0xEF},
		"void":       nil,
	}

	encoded, err := broker.EncodeTable(in)
	require.NoError(t, err)

	out, n, err := broker.DecodeTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)

	for k, v := range in {
		assert.Equal(t, v, out[k], "field %q", k)
	}
}

func TestDecodeTableTruncatedLength(t *testing.T) {
	t.Parallel()

	_, _, err := broker.DecodeTable([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestDecodeTableTruncatedBody(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, 0x00, 0x00, 0x05, 0x01, 'a'}
	_, _, err := broker.DecodeTable(buf)
	assert.Error(t, err)
}

func TestDecodeValueCorruptedLengthField(t *testing.T) {
	t.Parallel()

	t1 := broker.Table{"k": "v"}
	encoded, err := broker.EncodeTable(t1)
	require.NoError(t, err)

	// Overwrite the low byte of the long-string length so it claims more
	// bytes than actually follow, which must surface as a decode error
	// rather than an out-of-range panic.
	corrupted := append([]byte{}, encoded...)
	corrupted[len(corrupted)-2] = '?'

	_, _, err = broker.DecodeTable(corrupted)
	assert.Error(t, err)
}

func TestEncodeTableUnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := broker.EncodeTable(broker.Table{"k": struct{}{}})
	assert.Error(t, err)
}

func TestEncodeTableEmpty(t *testing.T) {
	t.Parallel()

	encoded, err := broker.EncodeTable(broker.Table{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, encoded)

	out, n, err := broker.DecodeTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, out)
}
