package server

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go.relite.dev/core/lifecycle"
	"go.relite.dev/core/metrics"
	"go.relite.dev/core/protocol"
)

// connBufSize is the inline frame buffer capacity. It fits typical request
// payloads within a single IP packet; larger bodies promote to a heap
// allocation of exactly the declared size.
const connBufSize = 1024

type connState int

const (
	// Waiting for the 8-byte protocol version word.
	stateHandshake connState = iota
	// Waiting for a complete frame header.
	stateHeader
	// Waiting for the body declared by the last header.
	stateBody
	// Terminal.
	stateClosed
)

// frame is one complete request frame produced by the frameMachine.
type frame struct {
	header protocol.Header
	body   []byte
}

// frameMachine is the connection's decoding state machine. It is fed raw
// stream bytes and emits complete frames, holding partial input across
// feeds; it has no notion of a network stream and is tested without one.
type frameMachine struct {
	maxWords  uint32
	state     connState
	header    protocol.Header
	versionOK bool

	inline [connBufSize]byte
	buf    []byte // Accumulation target: inline[:need] or a heap allocation.
	filled int
	need   int
}

func (m *frameMachine) init(maxWords uint32) {
	m.maxWords = maxWords
	m.state = stateHandshake
	m.await(protocol.WordSize)
}

// await resets accumulation for the next |need| bytes.
func (m *frameMachine) await(need int) {
	m.filled = 0
	m.need = need
	if need <= connBufSize {
		m.buf = m.inline[:need]
	} else {
		m.buf = make([]byte, need)
	}
}

// feed consumes |p|, returning the frames it completed. A non-nil error
// is a protocol fault and the machine accepts no further input. Frames
// already completed are returned alongside the error.
func (m *frameMachine) feed(p []byte) (frames []frame, err error) {
	for len(p) != 0 && m.state != stateClosed {
		var n = copy(m.buf[m.filled:], p)
		m.filled += n
		p = p[n:]

		if m.filled < m.need {
			return // Suspend until more bytes arrive.
		}

		switch m.state {
		case stateHandshake:
			var version = binary.LittleEndian.Uint64(m.buf)
			if version != protocol.Version {
				m.state = stateClosed
				return frames, protocol.Errf(protocol.CodeProtocol,
					"unknown protocol version: %x", version)
			}
			m.versionOK = true
			m.state = stateHeader
			m.await(protocol.HeaderSize)

		case stateHeader:
			var h, herr = protocol.ParseHeader(m.buf)
			if herr == nil && h.Words > m.maxWords {
				herr = protocol.Errf(protocol.CodeProtocol, "message body too large")
			}
			if herr != nil {
				m.state = stateClosed
				return frames, protocol.WrapErr(protocol.CodeOf(herr), herr,
					"failed to parse request header")
			}
			m.header = h
			m.state = stateBody
			m.await(h.BodyLen())

		case stateBody:
			// Copy the body out: the inline buffer is reused by the
			// next frame, which may complete within this same feed.
			frames = append(frames, frame{
				header: m.header,
				body:   append([]byte(nil), m.buf[:m.need]...),
			})
			m.state = stateHeader
			m.await(protocol.HeaderSize)
		}
	}
	return
}

// Conn serves requests from a single connected client. It owns its network
// stream exclusively, frames requests through an embedded frameMachine,
// and dispatches them synchronously through an embedded Gateway: requests
// of one connection are handled strictly in arrival order.
type Conn struct {
	opts    *Options
	obs     lifecycle.Observer
	gateway Gateway

	nc      net.Conn
	machine frameMachine
	wbuf    []byte

	abortOnce sync.Once
}

// NewConn returns a Conn serving |nc| through |gateway|.
func NewConn(nc net.Conn, gateway Gateway, opts *Options, obs lifecycle.Observer) *Conn {
	var c = &Conn{
		opts:    opts,
		obs:     obs,
		gateway: gateway,
		nc:      nc,
	}
	c.machine.init(opts.MaxBodyWords)

	obs.Born(lifecycle.Conn)
	metrics.ConnsAcceptedTotal.Inc()
	return c
}

// Serve reads and processes requests until the client disconnects, the
// heartbeat timeout expires, or a protocol fault occurs. It always leaves
// the connection aborted.
func (c *Conn) Serve() {
	defer c.Abort()

	var scratch [4096]byte
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.opts.HeartbeatTimeout))

		var n, err = c.nc.Read(scratch[:])
		if n > 0 {
			metrics.ReadBytesTotal.Add(float64(n))

			var frames, ferr = c.machine.feed(scratch[:n])
			for i := range frames {
				if derr := c.dispatch(&frames[i]); derr != nil {
					log.WithFields(log.Fields{"err": derr, "addr": c.nc.RemoteAddr()}).
						Warn("failed to write response")
					return
				}
			}
			if ferr != nil {
				// Send the protocol-error indication, then close. A
				// failed handshake gets no response: the peer doesn't
				// speak this protocol.
				if c.machine.versionOK {
					_ = c.writeResponse(failure(ferr))
				}
				log.WithFields(log.Fields{"err": ferr, "addr": c.nc.RemoteAddr()}).
					Warn("protocol error")
				return
			}
		}

		if err == nil {
			continue
		} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
			log.WithField("addr", c.nc.RemoteAddr()).
				Warn("no heartbeat since timeout, aborting")
			return
		} else if err != io.EOF {
			log.WithFields(log.Fields{"err": err, "addr": c.nc.RemoteAddr()}).
				Warn("read error")
			return
		} else {
			return // Client closed the stream.
		}
	}
}

// dispatch decodes and handles one frame. Decode failures are
// request-level: a Failure response is written and the connection
// continues. A returned error is a write failure and is connection-fatal.
func (c *Conn) dispatch(f *frame) error {
	var req protocol.Request
	if err := req.Decode(f.header, f.body); err != nil {
		return c.writeResponse(failure(
			protocol.WrapErr(protocol.CodeOf(err), err, "failed to decode request")))
	}
	return c.writeResponse(c.gateway.Handle(&req))
}

func (c *Conn) writeResponse(res *protocol.Response) error {
	var b, err = res.Encode(c.wbuf[:0])
	if err != nil {
		return err
	}
	c.wbuf = b

	var n int
	n, err = c.nc.Write(b)
	metrics.WriteBytesTotal.Add(float64(n))
	return err
}

// Abort forcibly tears down the connection: the stream is closed and all
// sessions of the gateway are rolled back and released. It is idempotent
// and safe to invoke from any state.
func (c *Conn) Abort() {
	c.abortOnce.Do(func() {
		_ = c.nc.Close()
		c.gateway.Close()
		c.obs.Died(lifecycle.Conn)
		metrics.ConnsAbortedTotal.Inc()
	})
}
