package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/soheilhy/cmux"

	"go.relite.dev/core/cluster"
	"go.relite.dev/core/keepalive"
	"go.relite.dev/core/lifecycle"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/task"
	"go.relite.dev/core/vfs"
)

// Server accepts client connections on a single bound TCP socket,
// multiplexed (using CMux) between the binary client protocol and HTTP,
// which serves Prometheus metrics and debug handlers.
type Server struct {
	// RawListener is the bound TCP listener of the Server.
	RawListener *net.TCPListener
	// CMux wraps RawListener to sniff the connection protocol. Client
	// protocol connections are recognized by their leading version word.
	CMux cmux.CMux
	// ProtoListener is a CMux Listener for client protocol connections.
	ProtoListener net.Listener
	// HTTPListener is a CMux Listener for HTTP connections.
	HTTPListener net.Listener
	// HTTPMux is the http.ServeMux served by QueueTasks.
	HTTPMux *http.ServeMux
	// Ctx is cancelled when GracefulStop is called.
	Ctx context.Context

	cluster cluster.Cluster
	files   *vfs.Registry
	opts    *Options
	obs     lifecycle.Observer
	cancel  context.CancelFunc
}

// New builds a Server bound to TCP interface |iface| and |port|. |port|
// may be zero, in which case a random free port is assigned.
func New(iface string, port uint16, c cluster.Cluster, opts *Options) (*Server, error) {
	var addr = fmt.Sprintf("%s:%d", iface, port)

	var raw, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind service address (%s)", addr)
	}

	var ctx, cancel = context.WithCancel(context.Background())

	var srv = &Server{
		RawListener: raw.(*net.TCPListener),
		HTTPMux:     http.NewServeMux(),
		Ctx:         ctx,
		cluster:     c,
		files:       vfs.NewRegistry(),
		opts:        opts,
		obs:         lifecycle.Prom{},
		cancel:      cancel,
	}
	srv.HTTPMux.Handle("/metrics", promhttp.Handler())

	srv.CMux = cmux.New(keepalive.TCPListener{TCPListener: srv.RawListener})

	srv.CMux.HandleError(func(err error) bool {
		if _, ok := err.(net.Error); !ok {
			log.WithField("err", err).Warn("failed to CMux client connection to a listener")
		}
		return true // Continue serving RawListener.
	})

	// Client protocol connections open with the protocol version word.
	srv.ProtoListener = srv.CMux.Match(matchProtocolVersion)

	// Connections sending HTTP/1 verbs (GET, PUT, POST etc) are HTTP.
	srv.HTTPListener = srv.CMux.Match(cmux.HTTP1Fast())

	return srv, nil
}

// matchProtocolVersion sniffs the 8-byte protocol version word.
func matchProtocolVersion(r io.Reader) bool {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false
	}
	return binary.LittleEndian.Uint64(b[:]) == protocol.Version
}

// Endpoint of the Server.
func (s *Server) Endpoint() string { return s.RawListener.Addr().String() }

// SetObserver replaces the lifecycle observer. For use by tests, before
// QueueTasks.
func (s *Server) SetObserver(obs lifecycle.Observer) { s.obs = obs }

// Files returns the registry of replicated file states shared by all
// sessions of this Server.
func (s *Server) Files() *vfs.Registry { return s.files }

// QueueTasks queues serving of the CMux, HTTP, and client protocol
// listeners onto the task.Group.
func (s *Server) QueueTasks(tg *task.Group) {
	tg.Queue("CMux.Serve", func() error {
		if err := s.CMux.Serve(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("http.Serve", func() error {
		if err := http.Serve(s.HTTPListener, s.HTTPMux); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil
	})
	tg.Queue("proto.Serve", func() error {
		if err := s.serveProto(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil
	})
	tg.Queue("Server.watchdog", func() error {
		<-tg.Context().Done()
		s.GracefulStop()
		return nil
	})
}

// serveProto accepts client protocol connections, serving each with its
// own Conn and goroutine. Cross-connection transaction exclusivity is
// enforced by the shared file registry, not by serializing connections.
func (s *Server) serveProto() error {
	for {
		var nc, err = s.ProtoListener.Accept()
		if err != nil {
			return err
		}
		log.WithField("addr", nc.RemoteAddr()).Debug("accepted client connection")

		var conn = NewConn(nc, NewGateway(s.cluster, s.files, s.opts, s.obs), s.opts, s.obs)
		go conn.Serve()
	}
}

// GracefulStop the Server.
func (s *Server) GracefulStop() {
	s.cancel()
	_ = s.RawListener.Close()
}
