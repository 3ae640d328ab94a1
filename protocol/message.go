package protocol

import (
	"encoding/binary"
	"math"
)

const (
	// Version is the protocol version word a client must send as the very
	// first 8 bytes of a new connection.
	Version uint64 = 0x8f1c6d037ad10001

	// WordSize is the unit of body length and alignment.
	WordSize = 8

	// HeaderSize is the fixed size of a frame header.
	HeaderSize = 8

	// MaxWords bounds the declared body length of a single frame (8 MiB).
	// A header declaring more is a protocol error and the connection is
	// aborted rather than buffered.
	MaxWords = 1 << 20
)

// Header is the fixed-size frame header. Words is the body length in
// 8-byte words, Type is a request or response type tag, and Flags and
// Extra are reserved for type-specific use.
type Header struct {
	Words uint32
	Type  uint8
	Flags uint8
	Extra uint16
}

// BodyLen returns the exact body length in bytes declared by the header.
func (h Header) BodyLen() int { return int(h.Words) * WordSize }

// ParseHeader decodes a Header from the first HeaderSize bytes of |b|,
// and validates its declared body length.
func ParseHeader(b []byte) (Header, error) {
	var h = Header{
		Words: binary.LittleEndian.Uint32(b[0:4]),
		Type:  b[4],
		Flags: b[5],
		Extra: binary.LittleEndian.Uint16(b[6:8]),
	}
	if h.Words == 0 {
		return h, Errf(CodeProtocol, "empty message body")
	} else if h.Words > MaxWords {
		return h, Errf(CodeProtocol, "message body too large")
	}
	return h, nil
}

// AppendHeader appends the wire encoding of |h| to |b|.
func AppendHeader(b []byte, h Header) []byte {
	var s [HeaderSize]byte
	binary.LittleEndian.PutUint32(s[0:4], h.Words)
	s[4] = h.Type
	s[5] = h.Flags
	binary.LittleEndian.PutUint16(s[6:8], h.Extra)
	return append(b, s[:]...)
}

// Message is a frame body being encoded or decoded. The zero value is an
// empty body ready for writing; NewMessage wraps received bytes for
// reading. All Put* methods keep the body word-aligned by construction.
type Message struct {
	body   []byte
	offset int
}

// NewMessage returns a Message reading from the received body |b|.
func NewMessage(b []byte) *Message { return &Message{body: b} }

// Bytes returns the encoded body.
func (m *Message) Bytes() []byte { return m.body }

// Words returns the body length in words.
func (m *Message) Words() uint32 { return uint32(len(m.body) / WordSize) }

func (m *Message) pad() {
	for len(m.body)%WordSize != 0 {
		m.body = append(m.body, 0)
	}
}

// PutUint64 appends one word holding |v|.
func (m *Message) PutUint64(v uint64) {
	var s [WordSize]byte
	binary.LittleEndian.PutUint64(s[:], v)
	m.body = append(m.body, s[:]...)
}

// PutInt64 appends one word holding |v|.
func (m *Message) PutInt64(v int64) { m.PutUint64(uint64(v)) }

// PutFloat64 appends one word holding the IEEE-754 bits of |v|.
func (m *Message) PutFloat64(v float64) { m.PutUint64(math.Float64bits(v)) }

// PutUint32Pair appends one word holding two 32-bit values, low then high.
func (m *Message) PutUint32Pair(lo, hi uint32) {
	m.PutUint64(uint64(lo) | uint64(hi)<<32)
}

// PutString appends |s| as NUL-terminated text padded to the next word.
func (m *Message) PutString(s string) {
	m.body = append(m.body, s...)
	m.body = append(m.body, 0)
	m.pad()
}

// PutBlob appends a length word followed by |b| padded to the next word.
func (m *Message) PutBlob(b []byte) {
	m.PutUint64(uint64(len(b)))
	m.body = append(m.body, b...)
	m.pad()
}

// GetUint64 reads the next word.
func (m *Message) GetUint64() (uint64, error) {
	if m.offset+WordSize > len(m.body) {
		return 0, Errf(CodeProtocol, "message body exhausted")
	}
	var v = binary.LittleEndian.Uint64(m.body[m.offset:])
	m.offset += WordSize
	return v, nil
}

// GetInt64 reads the next word as a signed integer.
func (m *Message) GetInt64() (int64, error) {
	var v, err = m.GetUint64()
	return int64(v), err
}

// GetFloat64 reads the next word as IEEE-754 bits.
func (m *Message) GetFloat64() (float64, error) {
	var v, err = m.GetUint64()
	return math.Float64frombits(v), err
}

// GetUint32Pair reads the next word as two 32-bit values, low then high.
func (m *Message) GetUint32Pair() (lo, hi uint32, err error) {
	var v uint64
	if v, err = m.GetUint64(); err != nil {
		return
	}
	return uint32(v), uint32(v >> 32), nil
}

// GetString reads NUL-terminated text and advances past its padding.
func (m *Message) GetString() (string, error) {
	for i := m.offset; i < len(m.body); i++ {
		if m.body[i] != 0 {
			continue
		}
		var s = string(m.body[m.offset:i])
		m.offset += (i - m.offset + WordSize) / WordSize * WordSize
		return s, nil
	}
	return "", Errf(CodeProtocol, "no string found")
}

// GetBlob reads a length-prefixed blob and advances past its padding.
func (m *Message) GetBlob() ([]byte, error) {
	var n, err = m.GetUint64()
	if err != nil {
		return nil, err
	}
	var padded = (int(n) + WordSize - 1) / WordSize * WordSize
	if n > uint64(len(m.body)) || m.offset+padded > len(m.body) {
		return nil, Errf(CodeProtocol, "blob length exceeds message body")
	}
	var b = append([]byte(nil), m.body[m.offset:m.offset+int(n)]...)
	m.offset += padded
	return b, nil
}

// Rewind resets the read offset, allowing the body to be decoded again.
func (m *Message) Rewind() { m.offset = 0 }
