package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.relite.dev/core/cluster"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/task"
)

func TestServerServesProtocolAndMetrics(t *testing.T) {
	var cl = &cluster.Static{
		ReplicationName: "wal-target",
		LeaderAddress:   "127.0.0.1:666",
		Members:         []protocol.ServerInfo{{ID: 1, Address: "127.0.0.1:666"}},
	}
	var srv, err = New("127.0.0.1", 0, cl, DefaultOptions())
	require.NoError(t, err)

	var tg = task.NewGroup(context.Background())
	srv.QueueTasks(tg)
	tg.GoRun()

	// A binary protocol client over the muxed listener: handshake, then a
	// Leader request.
	nc, err := net.Dial("tcp", srv.Endpoint())
	require.NoError(t, err)
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = nc.Write(versionBytes())
	require.NoError(t, err)
	_, err = nc.Write(encodeRequest(t, &protocol.Request{Type: protocol.RequestLeader}))
	require.NoError(t, err)

	var hb [protocol.HeaderSize]byte
	_, err = io.ReadFull(nc, hb[:])
	require.NoError(t, err)

	h, err := protocol.ParseHeader(hb[:])
	require.NoError(t, err)

	var body = make([]byte, h.BodyLen())
	_, err = io.ReadFull(nc, body)
	require.NoError(t, err)

	var res protocol.Response
	require.NoError(t, res.Decode(h, body))
	require.Equal(t, protocol.ResponseServer, res.Type)
	require.Equal(t, "127.0.0.1:666", res.Server.Address)
	require.NoError(t, nc.Close())

	// An HTTP client on the same port reaches the metrics endpoint.
	httpRes, err := http.Get("http://" + srv.Endpoint() + "/metrics")
	require.NoError(t, err)

	b, err := io.ReadAll(httpRes.Body)
	require.NoError(t, err)
	require.NoError(t, httpRes.Body.Close())
	require.Equal(t, http.StatusOK, httpRes.StatusCode)
	require.Contains(t, string(b), "relite_conns_accepted_total")

	// Cancellation stops the server, and every queued task unwinds
	// without error.
	tg.Cancel()
	require.NoError(t, tg.Wait())
}

func TestServerEndpointAssignsFreePort(t *testing.T) {
	var srv, err = New("127.0.0.1", 0, &cluster.Static{}, DefaultOptions())
	require.NoError(t, err)

	var _, port, perr = net.SplitHostPort(srv.Endpoint())
	require.NoError(t, perr)
	require.NotEqual(t, "0", port)

	srv.GracefulStop()
}
