package broker

import (
	"encoding/binary"
	"time"
)

// Properties is the AMQP basic content-header property bag, in the
// fixed wire order spec.md §4.1 defines.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	ClusterID       string

	hasContentType     bool
	hasContentEncoding bool
	hasHeaders         bool
	hasDeliveryMode    bool
	hasPriority        bool
	hasCorrelationID   bool
	hasReplyTo         bool
	hasExpiration      bool
	hasMessageID       bool
	hasTimestamp       bool
	hasType            bool
	hasUserID          bool
	hasAppID           bool
	hasClusterID       bool
}

// Property flag bits, high bit first, fixed by the wire format.
const (
	flagContentType     = 0x8000
	flagContentEncoding = 0x4000
	flagHeaders         = 0x2000
	flagDeliveryMode    = 0x1000
	flagPriority        = 0x0800
	flagCorrelationID   = 0x0400
	flagReplyTo         = 0x0200
	flagExpiration      = 0x0100
	flagMessageID       = 0x0080
	flagTimestamp       = 0x0040
	flagType            = 0x0020
	flagUserID          = 0x0010
	flagAppID           = 0x0008
	flagClusterID       = 0x0004
)

// SetContentType etc. exist because Properties tracks per-field
// presence independently of the Go zero value (an explicitly empty
// string is still "present" on the wire).
func (p *Properties) SetContentType(v string) { p.ContentType = v; p.hasContentType = true }
func (p *Properties) SetContentEncoding(v string) {
	p.ContentEncoding = v
	p.hasContentEncoding = true
}
func (p *Properties) SetHeaders(v Table)        { p.Headers = v; p.hasHeaders = true }
func (p *Properties) SetDeliveryMode(v uint8)   { p.DeliveryMode = v; p.hasDeliveryMode = true }
func (p *Properties) SetPriority(v uint8)       { p.Priority = v; p.hasPriority = true }
func (p *Properties) SetCorrelationID(v string) { p.CorrelationID = v; p.hasCorrelationID = true }
func (p *Properties) SetReplyTo(v string)       { p.ReplyTo = v; p.hasReplyTo = true }
func (p *Properties) SetExpiration(v string)    { p.Expiration = v; p.hasExpiration = true }
func (p *Properties) SetMessageID(v string)     { p.MessageID = v; p.hasMessageID = true }
func (p *Properties) SetTimestamp(v time.Time)  { p.Timestamp = v; p.hasTimestamp = true }
func (p *Properties) SetType(v string)          { p.Type = v; p.hasType = true }
func (p *Properties) SetUserID(v string)        { p.UserID = v; p.hasUserID = true }
func (p *Properties) SetAppID(v string)         { p.AppID = v; p.hasAppID = true }
func (p *Properties) SetClusterID(v string)     { p.ClusterID = v; p.hasClusterID = true }

// HasMessageID reports whether properties.messageId was present on the
// wire, used by message id defaulting logic (spec.md §3).
func (p *Properties) HasMessageID() bool { return p.hasMessageID }

// EncodeContentHeader renders the class-id/weight/body-size/properties
// content header frame payload for the given class (60 = basic).
func EncodeContentHeader(classID uint16, bodySize uint64, props Properties) []byte {
	var flags uint16
	var body []byte

	if props.hasContentType {
		flags |= flagContentType
		body = append(body, encodeShortString(props.ContentType)...)
	}
	if props.hasContentEncoding {
		flags |= flagContentEncoding
		body = append(body, encodeShortString(props.ContentEncoding)...)
	}
	if props.hasHeaders {
		flags |= flagHeaders
		enc, _ := EncodeTable(props.Headers)
		body = append(body, enc...)
	}
	if props.hasDeliveryMode {
		flags |= flagDeliveryMode
		body = append(body, props.DeliveryMode)
	}
	if props.hasPriority {
		flags |= flagPriority
		body = append(body, props.Priority)
	}
	if props.hasCorrelationID {
		flags |= flagCorrelationID
		body = append(body, encodeShortString(props.CorrelationID)...)
	}
	if props.hasReplyTo {
		flags |= flagReplyTo
		body = append(body, encodeShortString(props.ReplyTo)...)
	}
	if props.hasExpiration {
		flags |= flagExpiration
		body = append(body, encodeShortString(props.Expiration)...)
	}
	if props.hasMessageID {
		flags |= flagMessageID
		body = append(body, encodeShortString(props.MessageID)...)
	}
	if props.hasTimestamp {
		flags |= flagTimestamp
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(props.Timestamp.Unix()))
		body = append(body, ts...)
	}
	if props.hasType {
		flags |= flagType
		body = append(body, encodeShortString(props.Type)...)
	}
	if props.hasUserID {
		flags |= flagUserID
		body = append(body, encodeShortString(props.UserID)...)
	}
	if props.hasAppID {
		flags |= flagAppID
		body = append(body, encodeShortString(props.AppID)...)
	}
	if props.hasClusterID {
		flags |= flagClusterID
		body = append(body, encodeShortString(props.ClusterID)...)
	}

	out := make([]byte, 12)
	binary.BigEndian.PutUint16(out[0:2], classID)
	binary.BigEndian.PutUint16(out[2:4], 0) // weight, always encoded as 0
	binary.BigEndian.PutUint64(out[4:12], bodySize)
	flagBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(flagBytes, flags)
	out = append(out, flagBytes...)
	out = append(out, body...)

	return out
}

// DecodeContentHeader parses a content header frame payload into the
// class id, total body size, and the property bag (decoded by flag
// iteration, in fixed wire order).
func DecodeContentHeader(payload []byte) (classID uint16, bodySize uint64, props Properties, err error) {
	if len(payload) < 14 {
		return 0, 0, Properties{}, NewSyntaxError(60, 0, "truncated content header")
	}

	classID = binary.BigEndian.Uint16(payload[0:2])
	bodySize = binary.BigEndian.Uint64(payload[4:12])
	flags := binary.BigEndian.Uint16(payload[12:14])
	pos := 14

	readShort := func() (string, error) {
		s, n, e := decodeShortString(payload[pos:])
		pos += n
		return s, e
	}

	if flags&flagContentType != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetContentType(v)
	}
	if flags&flagContentEncoding != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetContentEncoding(v)
	}
	if flags&flagHeaders != 0 {
		t, n, e := DecodeTable(payload[pos:])
		if e != nil {
			return 0, 0, Properties{}, e
		}
		pos += n
		props.SetHeaders(t)
	}
	if flags&flagDeliveryMode != 0 {
		if pos >= len(payload) {
			return 0, 0, Properties{}, NewSyntaxError(60, 0, "truncated deliveryMode")
		}
		props.SetDeliveryMode(payload[pos])
		pos++
	}
	if flags&flagPriority != 0 {
		if pos >= len(payload) {
			return 0, 0, Properties{}, NewSyntaxError(60, 0, "truncated priority")
		}
		props.SetPriority(payload[pos])
		pos++
	}
	if flags&flagCorrelationID != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetCorrelationID(v)
	}
	if flags&flagReplyTo != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetReplyTo(v)
	}
	if flags&flagExpiration != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetExpiration(v)
	}
	if flags&flagMessageID != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetMessageID(v)
	}
	if flags&flagTimestamp != 0 {
		if pos+8 > len(payload) {
			return 0, 0, Properties{}, NewSyntaxError(60, 0, "truncated timestamp")
		}
		sec := binary.BigEndian.Uint64(payload[pos : pos+8])
		pos += 8
		props.SetTimestamp(time.Unix(int64(sec), 0).UTC())
	}
	if flags&flagType != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetType(v)
	}
	if flags&flagUserID != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetUserID(v)
	}
	if flags&flagAppID != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetAppID(v)
	}
	if flags&flagClusterID != 0 {
		v, e := readShort()
		if e != nil {
			return 0, 0, Properties{}, e
		}
		props.SetClusterID(v)
	}

	return classID, bodySize, props, nil
}

// packBits packs up to 8 booleans into a single byte, in argument
// order (bit 0 = first flag), matching how declare/delete/publish
// methods pack their trailing bit flags.
func packBits(flags ...bool) byte {
	var b byte
	for i, f := range flags {
		if f {
			b |= 1 << uint(i)
		}
	}

	return b
}

func unpackBit(b byte, i int) bool {
	return b&(1<<uint(i)) != 0
}
