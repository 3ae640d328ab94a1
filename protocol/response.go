package protocol

// ResponseType enumerates server response frames.
type ResponseType uint8

const (
	ResponseFailure ResponseType = iota
	ResponseServer
	ResponseWelcome
	ResponseServers
	ResponseDb
	ResponseStmt
	ResponseResult
	ResponseRows
	ResponseAck
)

// ServerInfo identifies one cluster member.
type ServerInfo struct {
	ID      uint64
	Address string
}

// Response is a decoded server response. Only the field group selected by
// Type is meaningful.
type Response struct {
	Type ResponseType

	Failure struct {
		Code    ErrorCode
		Message string
	}
	Server struct {
		Address string
	}
	Welcome struct {
		HeartbeatTimeout uint64 // Milliseconds.
	}
	Servers struct {
		Servers []ServerInfo
	}
	Db struct {
		ID uint32
	}
	Stmt struct {
		DbID   uint32
		ID     uint32
		Params uint64
	}
	Result struct {
		LastInsertID uint64
		RowsAffected uint64
	}
	Rows struct {
		Columns []string
		Rows    [][]Value
	}
}

// Encode appends the frame encoding of |r| (header and body) to |b|.
func (r *Response) Encode(b []byte) ([]byte, error) {
	var m Message
	var err error

	switch r.Type {
	case ResponseFailure:
		m.PutUint64(uint64(r.Failure.Code))
		m.PutString(r.Failure.Message)
	case ResponseServer:
		m.PutString(r.Server.Address)
	case ResponseWelcome:
		m.PutUint64(r.Welcome.HeartbeatTimeout)
	case ResponseServers:
		m.PutUint64(uint64(len(r.Servers.Servers)))
		for _, s := range r.Servers.Servers {
			m.PutUint64(s.ID)
			m.PutString(s.Address)
		}
	case ResponseDb:
		m.PutUint32Pair(r.Db.ID, 0)
	case ResponseStmt:
		m.PutUint32Pair(r.Stmt.DbID, r.Stmt.ID)
		m.PutUint64(r.Stmt.Params)
	case ResponseResult:
		m.PutUint64(r.Result.LastInsertID)
		m.PutUint64(r.Result.RowsAffected)
	case ResponseRows:
		err = m.PutRows(r.Rows.Columns, r.Rows.Rows)
	case ResponseAck:
		m.PutUint64(0)
	default:
		err = Errf(CodeInternal, "unknown response type %d", r.Type)
	}
	if err != nil {
		return nil, err
	}

	b = AppendHeader(b, Header{Words: m.Words(), Type: uint8(r.Type)})
	return append(b, m.Bytes()...), nil
}

// Decode parses the response of |h| from body |b| into |r|.
func (r *Response) Decode(h Header, b []byte) error {
	var m = NewMessage(b)
	var err error

	r.Type = ResponseType(h.Type)
	switch r.Type {
	case ResponseFailure:
		var code uint64
		if code, err = m.GetUint64(); err != nil {
			break
		}
		r.Failure.Code = ErrorCode(code)
		r.Failure.Message, err = m.GetString()
	case ResponseServer:
		r.Server.Address, err = m.GetString()
	case ResponseWelcome:
		r.Welcome.HeartbeatTimeout, err = m.GetUint64()
	case ResponseServers:
		var n uint64
		if n, err = m.GetUint64(); err != nil {
			break
		}
		for i := uint64(0); i != n; i++ {
			var s ServerInfo
			if s.ID, err = m.GetUint64(); err != nil {
				break
			}
			if s.Address, err = m.GetString(); err != nil {
				break
			}
			r.Servers.Servers = append(r.Servers.Servers, s)
		}
	case ResponseDb:
		r.Db.ID, _, err = m.GetUint32Pair()
	case ResponseStmt:
		if r.Stmt.DbID, r.Stmt.ID, err = m.GetUint32Pair(); err != nil {
			break
		}
		r.Stmt.Params, err = m.GetUint64()
	case ResponseResult:
		if r.Result.LastInsertID, err = m.GetUint64(); err != nil {
			break
		}
		r.Result.RowsAffected, err = m.GetUint64()
	case ResponseRows:
		r.Rows.Columns, r.Rows.Rows, err = m.GetRows()
	case ResponseAck:
		_, err = m.GetUint64()
	default:
		err = Errf(CodeProtocol, "unknown response type %d", h.Type)
	}

	if err != nil {
		return WrapErr(CodeOf(err), err, "failed to decode response")
	}
	return nil
}
