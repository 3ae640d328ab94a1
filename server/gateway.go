package server

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"go.relite.dev/core/cluster"
	"go.relite.dev/core/db"
	"go.relite.dev/core/lifecycle"
	"go.relite.dev/core/metrics"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/registry"
	"go.relite.dev/core/vfs"
)

// Gateway turns decoded requests into operations against its connection's
// database sessions, and always produces a response: request-level errors
// become Failure responses and never affect the connection. One Gateway is
// embedded by each Conn and carries no state across requests beyond the
// open sessions and their statement registries.
type Gateway struct {
	cluster cluster.Cluster
	files   *vfs.Registry
	opts    *Options
	obs     lifecycle.Observer

	dbs *registry.Registry[db.DB]

	// clientID is the client's self-assigned ID, recorded by the Client
	// request and carried as log context.
	clientID uint64
}

// NewGateway returns a Gateway using |cluster| for membership queries and
// |files| for replicated file state.
func NewGateway(c cluster.Cluster, files *vfs.Registry, opts *Options, obs lifecycle.Observer) Gateway {
	return Gateway{
		cluster: c,
		files:   files,
		opts:    opts,
		obs:     obs,
		dbs:     registry.New[db.DB](),
	}
}

// Handle dispatches |req| and returns its response. It is total: every
// request produces a well-formed response, and a failed request leaves
// the session state no worse than before.
func (g *Gateway) Handle(req *protocol.Request) *protocol.Response {
	var res, err = g.dispatch(req)

	var outcome = metrics.Ok
	if err != nil {
		outcome = metrics.Fail
		res = failure(err)
	}
	metrics.RequestsTotal.WithLabelValues(req.Type.String(), outcome).Inc()

	return res
}

func (g *Gateway) dispatch(req *protocol.Request) (*protocol.Response, error) {
	switch req.Type {
	case protocol.RequestLeader:
		return g.leader()
	case protocol.RequestClient:
		return g.client(req.Client.ID)
	case protocol.RequestHeartbeat:
		return g.heartbeat()
	case protocol.RequestOpen:
		return g.open(req.Open.Name, req.Open.Flags, req.Open.Vfs)
	case protocol.RequestPrepare:
		return g.prepare(req.Prepare.DbID, req.Prepare.SQL)
	case protocol.RequestExec:
		return g.exec(req.Exec.DbID, req.Exec.StmtID, req.Exec.Params)
	case protocol.RequestQuery:
		return g.query(req.Query.DbID, req.Query.StmtID, req.Query.Params)
	case protocol.RequestFinalize:
		return g.finalize(req.Finalize.DbID, req.Finalize.StmtID)
	case protocol.RequestBegin:
		return g.txOp(req.Begin.DbID, (*db.DB).Begin)
	case protocol.RequestCommit:
		return g.txOp(req.Commit.DbID, (*db.DB).Commit)
	case protocol.RequestRollback:
		return g.txOp(req.Rollback.DbID, (*db.DB).Rollback)
	}
	return nil, protocol.Errf(protocol.CodeProtocol, "unknown request type %d", req.Type)
}

func (g *Gateway) leader() (*protocol.Response, error) {
	var res = &protocol.Response{Type: protocol.ResponseServer}
	res.Server.Address = g.cluster.Leader()
	return res, nil
}

func (g *Gateway) client(id uint64) (*protocol.Response, error) {
	g.clientID = id

	var res = &protocol.Response{Type: protocol.ResponseWelcome}
	res.Welcome.HeartbeatTimeout = uint64(g.opts.HeartbeatTimeout.Milliseconds())
	return res, nil
}

func (g *Gateway) heartbeat() (*protocol.Response, error) {
	var servers, err = g.cluster.Servers()
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeInternal, err, "failed to get servers")
	}
	var res = &protocol.Response{Type: protocol.ResponseServers}
	res.Servers.Servers = servers
	return res, nil
}

func (g *Gateway) open(name string, flags uint64, target string) (*protocol.Response, error) {
	if target == "" {
		target = g.cluster.Replication()
	}

	var d, err = db.Open(name, flags, target, g.files, g.obs)
	if err != nil {
		return nil, err
	}
	g.cluster.Register(name)

	var res = &protocol.Response{Type: protocol.ResponseDb}
	res.Db.ID = g.dbs.Add(d)
	return res, nil
}

func (g *Gateway) prepare(dbID uint64, sql string) (*protocol.Response, error) {
	var d, err = g.db(uint32(dbID))
	if err != nil {
		return nil, err
	}
	var stmt *db.Stmt
	if stmt, err = d.Prepare(sql); err != nil {
		return nil, err
	}

	var res = &protocol.Response{Type: protocol.ResponseStmt}
	res.Stmt.DbID = uint32(dbID)
	res.Stmt.ID = stmt.ID()
	res.Stmt.Params = stmt.NumInput()
	return res, nil
}

func (g *Gateway) exec(dbID, stmtID uint32, params []protocol.Value) (*protocol.Response, error) {
	var stmt, err = g.stmt(dbID, stmtID)
	if err != nil {
		return nil, err
	}
	var res = &protocol.Response{Type: protocol.ResponseResult}
	if res.Result.LastInsertID, res.Result.RowsAffected, err = stmt.Exec(params); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Gateway) query(dbID, stmtID uint32, params []protocol.Value) (*protocol.Response, error) {
	var stmt, err = g.stmt(dbID, stmtID)
	if err != nil {
		return nil, err
	}
	var res = &protocol.Response{Type: protocol.ResponseRows}
	if res.Rows.Columns, res.Rows.Rows, err = stmt.Query(params); err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Gateway) finalize(dbID, stmtID uint32) (*protocol.Response, error) {
	var d, err = g.db(dbID)
	if err != nil {
		return nil, err
	}
	var stmt *db.Stmt
	if stmt, err = d.Stmt(stmtID); err != nil {
		return nil, err
	}
	if err = d.Finalize(stmt); err != nil {
		return nil, err
	}
	return &protocol.Response{Type: protocol.ResponseAck}, nil
}

func (g *Gateway) txOp(dbID uint64, op func(*db.DB) error) (*protocol.Response, error) {
	var d, err = g.db(uint32(dbID))
	if err != nil {
		return nil, err
	}
	if err = op(d); err != nil {
		return nil, err
	}
	return &protocol.Response{Type: protocol.ResponseAck}, nil
}

func (g *Gateway) db(id uint32) (*db.DB, error) {
	var d, ok = g.dbs.Get(id)
	if !ok {
		return nil, protocol.Errf(protocol.CodeNotFound, "no db with id %d", id)
	}
	return d, nil
}

func (g *Gateway) stmt(dbID, stmtID uint32) (*db.Stmt, error) {
	var d, err = g.db(dbID)
	if err != nil {
		return nil, err
	}
	return d.Stmt(stmtID)
}

// Close tears down every open session. Sessions holding a transaction are
// rolled back first, releasing their hold on the shared file refcount.
func (g *Gateway) Close() {
	g.dbs.Each(func(id uint32, d *db.DB) {
		if d.InTx() {
			if err := d.Rollback(); err != nil {
				log.WithFields(log.Fields{"err": err, "db": d.Name(), "client": g.clientID}).
					Warn("failed to roll back transaction of closing session")
			}
		}
		if err := d.Close(); err != nil {
			log.WithFields(log.Fields{"err": err, "db": d.Name(), "client": g.clientID}).
				Warn("failed to close session")
		}
		g.cluster.Unregister(d.Name())
		g.dbs.Remove(d)
	})
}

func failure(err error) *protocol.Response {
	var code = protocol.CodeOf(err)
	metrics.FailuresTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()

	var res = &protocol.Response{Type: protocol.ResponseFailure}
	res.Failure.Code = code
	res.Failure.Message = err.Error()
	return res
}
