// relited is the relite server daemon. It binds a single TCP port serving
// the binary client protocol alongside HTTP (Prometheus metrics), and
// drives client sessions against replicated SQLite database files.
package main

import (
	"context"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"go.relite.dev/core/cluster"
	mbp "go.relite.dev/core/mainboilerplate"
	"go.relite.dev/core/protocol"
	"go.relite.dev/core/server"
	"go.relite.dev/core/task"
)

const iniFilename = "relited.ini"

var Config = new(struct {
	Relite struct {
		Iface            string        `long:"iface" env:"IFACE" default:"" description:"TCP interface to bind"`
		Port             uint16        `long:"port" env:"PORT" default:"8095" description:"Service port"`
		Replication      string        `long:"replication" env:"REPLICATION" default:"relite-wal" description:"Replication target registration name"`
		HeartbeatTimeout time.Duration `long:"heartbeat.timeout" env:"HEARTBEAT_TIMEOUT" default:"15s" description:"Abort connections silent for this long"`
		MaxBodyWords     uint32        `long:"max.body.words" env:"MAX_BODY_WORDS" default:"1048576" description:"Maximum request body length in 8-byte words"`
	} `group:"Relite" namespace:"relite" env-namespace:"RELITE"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	parser.LongDescription = `relited serves the relite client protocol over replicated SQLite databases.`

	mbp.MustParseConfig(parser, iniFilename)
	mbp.InitLog(Config.Log)

	var opts = server.DefaultOptions()
	opts.HeartbeatTimeout = Config.Relite.HeartbeatTimeout
	if Config.Relite.MaxBodyWords != 0 && Config.Relite.MaxBodyWords < protocol.MaxWords {
		opts.MaxBodyWords = Config.Relite.MaxBodyWords
	}

	// TODO(membership): replace the static stub once the raft membership
	// layer lands; it must supply Leader, Servers and Barrier.
	var cl = &cluster.Static{
		ReplicationName: Config.Relite.Replication,
	}

	var srv, err = server.New(Config.Relite.Iface, Config.Relite.Port, cl, opts)
	mbp.Must(err, "building server instance")
	cl.LeaderAddress = srv.Endpoint()
	cl.Members = []protocol.ServerInfo{{ID: 1, Address: srv.Endpoint()}}

	log.WithFields(log.Fields{
		"endpoint": srv.Endpoint(),
		"version":  mbp.Version,
	}).Info("starting relited")

	var tg = task.NewGroup(context.Background())
	srv.QueueTasks(tg)
	tg.GoRun()

	mbp.Must(tg.Wait(), "relited task failed")
	log.Info("goodbye")
}
