package protocol

// RequestType enumerates client request frames.
type RequestType uint8

const (
	RequestLeader RequestType = iota
	RequestClient
	RequestHeartbeat
	RequestOpen
	RequestPrepare
	RequestExec
	RequestQuery
	RequestFinalize
	RequestBegin
	RequestCommit
	RequestRollback
)

func (t RequestType) String() string {
	switch t {
	case RequestLeader:
		return "leader"
	case RequestClient:
		return "client"
	case RequestHeartbeat:
		return "heartbeat"
	case RequestOpen:
		return "open"
	case RequestPrepare:
		return "prepare"
	case RequestExec:
		return "exec"
	case RequestQuery:
		return "query"
	case RequestFinalize:
		return "finalize"
	case RequestBegin:
		return "begin"
	case RequestCommit:
		return "commit"
	case RequestRollback:
		return "rollback"
	}
	return "unknown"
}

// Request is a decoded client request. Only the field group selected by
// Type is meaningful.
type Request struct {
	Type RequestType

	Client struct {
		ID uint64
	}
	Heartbeat struct {
		Timestamp uint64
	}
	Open struct {
		Name  string
		Flags uint64
		Vfs   string
	}
	Prepare struct {
		DbID uint64
		SQL  string
	}
	Exec struct {
		DbID   uint32
		StmtID uint32
		Params []Value
	}
	Query struct {
		DbID   uint32
		StmtID uint32
		Params []Value
	}
	Finalize struct {
		DbID   uint32
		StmtID uint32
	}
	Begin struct {
		DbID uint64
	}
	Commit struct {
		DbID uint64
	}
	Rollback struct {
		DbID uint64
	}
}

// Decode parses the request of |h| from body |b| into |r|.
func (r *Request) Decode(h Header, b []byte) error {
	var m = NewMessage(b)
	var err error

	r.Type = RequestType(h.Type)
	switch r.Type {
	case RequestLeader:
		_, err = m.GetUint64() // Unused placeholder word.
	case RequestClient:
		r.Client.ID, err = m.GetUint64()
	case RequestHeartbeat:
		r.Heartbeat.Timestamp, err = m.GetUint64()
	case RequestOpen:
		if r.Open.Name, err = m.GetString(); err != nil {
			break
		}
		if r.Open.Flags, err = m.GetUint64(); err != nil {
			err = wrapField(err, "flags")
			break
		}
		if r.Open.Vfs, err = m.GetString(); err != nil {
			err = wrapField(err, "vfs")
		}
	case RequestPrepare:
		if r.Prepare.DbID, err = m.GetUint64(); err != nil {
			break
		}
		if r.Prepare.SQL, err = m.GetString(); err != nil {
			err = wrapField(err, "sql")
		}
	case RequestExec:
		if r.Exec.DbID, r.Exec.StmtID, err = m.GetUint32Pair(); err != nil {
			break
		}
		r.Exec.Params, err = m.GetTuple()
	case RequestQuery:
		if r.Query.DbID, r.Query.StmtID, err = m.GetUint32Pair(); err != nil {
			break
		}
		r.Query.Params, err = m.GetTuple()
	case RequestFinalize:
		r.Finalize.DbID, r.Finalize.StmtID, err = m.GetUint32Pair()
	case RequestBegin:
		r.Begin.DbID, err = m.GetUint64()
	case RequestCommit:
		r.Commit.DbID, err = m.GetUint64()
	case RequestRollback:
		r.Rollback.DbID, err = m.GetUint64()
	default:
		err = Errf(CodeProtocol, "unknown request type %d", h.Type)
	}

	if err != nil {
		return WrapErr(CodeOf(err), err, "failed to decode '"+r.Type.String()+"'")
	}
	return nil
}

// Encode appends the frame encoding of |r| (header and body) to |b|.
func (r *Request) Encode(b []byte) ([]byte, error) {
	var m Message
	var err error

	switch r.Type {
	case RequestLeader:
		m.PutUint64(0)
	case RequestClient:
		m.PutUint64(r.Client.ID)
	case RequestHeartbeat:
		m.PutUint64(r.Heartbeat.Timestamp)
	case RequestOpen:
		m.PutString(r.Open.Name)
		m.PutUint64(r.Open.Flags)
		m.PutString(r.Open.Vfs)
	case RequestPrepare:
		m.PutUint64(r.Prepare.DbID)
		m.PutString(r.Prepare.SQL)
	case RequestExec:
		m.PutUint32Pair(r.Exec.DbID, r.Exec.StmtID)
		err = m.PutTuple(r.Exec.Params)
	case RequestQuery:
		m.PutUint32Pair(r.Query.DbID, r.Query.StmtID)
		err = m.PutTuple(r.Query.Params)
	case RequestFinalize:
		m.PutUint32Pair(r.Finalize.DbID, r.Finalize.StmtID)
	case RequestBegin:
		m.PutUint64(r.Begin.DbID)
	case RequestCommit:
		m.PutUint64(r.Commit.DbID)
	case RequestRollback:
		m.PutUint64(r.Rollback.DbID)
	default:
		err = Errf(CodeProtocol, "unknown request type %d", r.Type)
	}
	if err != nil {
		return nil, err
	}

	b = AppendHeader(b, Header{Words: m.Words(), Type: uint8(r.Type)})
	return append(b, m.Bytes()...), nil
}

func wrapField(err error, field string) error {
	return WrapErr(CodeOf(err), err, "failed to get '"+field+"' field")
}
