// Package cluster defines the membership collaborator consumed by the
// session engine. Leadership election and the server-to-server replication
// protocol live elsewhere; the engine only needs to answer Leader and
// Heartbeat requests, learn the replication target to open databases
// under, and notify the membership layer of sessions coming and going.
package cluster

import "go.relite.dev/core/protocol"

// Cluster is the membership and replication-target surface of the
// surrounding cluster implementation.
type Cluster interface {
	// Replication returns the registration name of the replication VFS
	// that sessions open their databases under.
	Replication() string
	// Leader returns the address of the current cluster leader.
	Leader() string
	// Servers returns the current cluster members.
	Servers() ([]protocol.ServerInfo, error)
	// Register and Unregister notify the membership layer of a session's
	// database being opened or closed, keyed by the database name.
	Register(name string)
	Unregister(name string)
	// Barrier blocks until all log entries of the current leader term
	// have been applied.
	Barrier() error
}

// Static is a fixed-membership Cluster, used by relited until a real
// membership layer is attached, and by tests.
type Static struct {
	ReplicationName string
	LeaderAddress   string
	Members         []protocol.ServerInfo
	ServersErr      error
}

func (s *Static) Replication() string { return s.ReplicationName }
func (s *Static) Leader() string      { return s.LeaderAddress }

func (s *Static) Servers() ([]protocol.ServerInfo, error) {
	return s.Members, s.ServersErr
}

func (s *Static) Register(name string)   {}
func (s *Static) Unregister(name string) {}
func (s *Static) Barrier() error         { return nil }
