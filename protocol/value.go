package protocol

import "encoding/binary"

// ValueType tags the SQL storage class of a Value on the wire.
type ValueType uint8

const (
	Integer ValueType = 1
	Float   ValueType = 2
	Text    ValueType = 3
	Blob    ValueType = 4
	Null    ValueType = 5
)

// Value is one SQL value crossing the wire, as a statement parameter or a
// row column. Only the field selected by Type is meaningful.
type Value struct {
	Type  ValueType
	Int   int64
	Float float64
	Text  string
	Blob  []byte
}

// rowSentinel terminates a row set.
const rowSentinel uint64 = 0xffffffffffffffff

func (m *Message) putValue(v Value) error {
	switch v.Type {
	case Integer:
		m.PutInt64(v.Int)
	case Float:
		m.PutFloat64(v.Float)
	case Text:
		m.PutString(v.Text)
	case Blob:
		m.PutBlob(v.Blob)
	case Null:
		m.PutUint64(0)
	default:
		return Errf(CodeProtocol, "unknown value type %d", v.Type)
	}
	return nil
}

func (m *Message) getValue(t ValueType) (Value, error) {
	var v = Value{Type: t}
	var err error

	switch t {
	case Integer:
		v.Int, err = m.GetInt64()
	case Float:
		v.Float, err = m.GetFloat64()
	case Text:
		v.Text, err = m.GetString()
	case Blob:
		v.Blob, err = m.GetBlob()
	case Null:
		_, err = m.GetUint64()
	default:
		err = Errf(CodeProtocol, "unknown value type %d", t)
	}
	return v, err
}

// PutTuple appends a statement parameter tuple: a leading word holding the
// parameter count byte and the first seven type tags, further tag words as
// needed, then the packed values.
func (m *Message) PutTuple(vals []Value) error {
	if len(vals) > 255 {
		return Errf(CodeProtocol, "too many parameters (%d)", len(vals))
	}
	var tags = make([]byte, 1, 1+len(vals))
	tags[0] = byte(len(vals))
	for _, v := range vals {
		tags = append(tags, byte(v.Type))
	}
	m.body = append(m.body, tags...)
	m.pad()

	for _, v := range vals {
		if err := m.putValue(v); err != nil {
			return err
		}
	}
	return nil
}

// GetTuple reads a statement parameter tuple.
func (m *Message) GetTuple() ([]Value, error) {
	if m.offset >= len(m.body) {
		return nil, Errf(CodeProtocol, "message body exhausted")
	}
	var n = int(m.body[m.offset])
	var tagged = (1 + n + WordSize - 1) / WordSize * WordSize
	if m.offset+tagged > len(m.body) {
		return nil, Errf(CodeProtocol, "message body exhausted")
	}
	var tags = m.body[m.offset+1 : m.offset+1+n]
	// Copy tags before the offset moves past them.
	tags = append([]byte(nil), tags...)
	m.offset += tagged

	var vals = make([]Value, 0, n)
	for _, t := range tags {
		var v, err = m.getValue(ValueType(t))
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// PutRows appends a result set: a column count word, the column names, one
// or more tag words plus packed values per row, and a closing sentinel.
func (m *Message) PutRows(columns []string, rows [][]Value) error {
	m.PutUint64(uint64(len(columns)))
	for _, c := range columns {
		m.PutString(c)
	}
	for _, row := range rows {
		if len(row) != len(columns) {
			return Errf(CodeInternal, "row has %d values, expected %d", len(row), len(columns))
		}
		var tags = make([]byte, len(columns))
		for i, v := range row {
			tags[i] = byte(v.Type)
		}
		m.body = append(m.body, tags...)
		m.pad()

		for _, v := range row {
			if err := m.putValue(v); err != nil {
				return err
			}
		}
	}
	m.PutUint64(rowSentinel)
	return nil
}

// GetRows reads a result set.
func (m *Message) GetRows() (columns []string, rows [][]Value, err error) {
	var n uint64
	if n, err = m.GetUint64(); err != nil {
		return
	}
	for i := uint64(0); i != n; i++ {
		var c string
		if c, err = m.GetString(); err != nil {
			return
		}
		columns = append(columns, c)
	}

	for {
		if m.offset+WordSize > len(m.body) {
			return nil, nil, Errf(CodeProtocol, "unterminated row set")
		}
		if binary.LittleEndian.Uint64(m.body[m.offset:]) == rowSentinel {
			m.offset += WordSize
			return
		}
		var tagged = (len(columns) + WordSize - 1) / WordSize * WordSize
		if tagged == 0 {
			tagged = WordSize
		}
		if m.offset+tagged > len(m.body) {
			return nil, nil, Errf(CodeProtocol, "message body exhausted")
		}
		var tags = append([]byte(nil), m.body[m.offset:m.offset+len(columns)]...)
		m.offset += tagged

		var row = make([]Value, 0, len(columns))
		for _, t := range tags {
			var v Value
			if v, err = m.getValue(ValueType(t)); err != nil {
				return nil, nil, err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
}
