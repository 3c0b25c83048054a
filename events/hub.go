// Package events implements the messaging bus between the game core and the
// websocket transport. A single goroutine owns every connection and group, so
// group membership and outbound writes never race; all operations travel to
// that goroutine over channels, in the style of a classic hub.
package events

import (
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const writeDeadline = 5 * time.Second

// textMessage matches websocket.TextMessage across the gorilla and fasthttp
// implementations.
const textMessage = 1

// Conn is the slice of a websocket connection the hub needs. Both
// *websocket.Conn implementations used by this module satisfy it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Bus is the messaging surface consumed by coordinators, orchestrators, and
// session handlers. Group names are free-form; matches use "match:<id>" and
// tournaments "tournament:<id>".
type Bus interface {
	AddToGroup(group, connID string)
	RemoveFromGroup(group, connID string)
	ReleaseGroup(group string)
	SendToGroup(group string, msg []byte)
	SendToConnection(connID string, msg []byte)
}

type registration struct {
	connID string
	conn   Conn
	done   chan struct{}
}

type groupOp struct {
	group  string
	connID string
	done   chan struct{}
}

type sendOp struct {
	group  string // "" for a direct send
	connID string // "" for a group send
	msg    []byte
	// release disbands the group instead of delivering a frame.
	release bool
}

// Hub is the Bus implementation backed by live websocket connections.
type Hub struct {
	conns  map[string]Conn
	groups map[string]map[string]struct{}

	register    chan registration
	unregister  chan registration
	addGroup    chan groupOp
	removeGroup chan groupOp
	send        chan sendOp
	shutdown    chan struct{}
	closed      chan struct{}
	isRunning   atomic.Bool
}

var _ Bus = (*Hub)(nil)

func NewHub() *Hub {
	h := &Hub{
		conns:       make(map[string]Conn),
		groups:      make(map[string]map[string]struct{}),
		register:    make(chan registration),
		unregister:  make(chan registration),
		addGroup:    make(chan groupOp),
		removeGroup: make(chan groupOp),
		send:        make(chan sendOp, 64),
		shutdown:    make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go h.run()
	return h
}

// RegisterConnection makes a connection addressable by id. It blocks until
// the hub goroutine has taken ownership of the connection.
func (h *Hub) RegisterConnection(connID string, conn Conn) {
	reg := registration{connID: connID, conn: conn, done: make(chan struct{})}
	select {
	case h.register <- reg:
		<-reg.done
	case <-h.closed:
	}
}

// UnregisterConnection removes a connection and its group memberships and
// closes it. Safe to call for an id the hub no longer knows, and after the
// hub has shut down.
func (h *Hub) UnregisterConnection(connID string) {
	reg := registration{connID: connID, done: make(chan struct{})}
	select {
	case h.unregister <- reg:
		<-reg.done
	case <-h.closed:
	}
}

func (h *Hub) AddToGroup(group, connID string) {
	op := groupOp{group: group, connID: connID, done: make(chan struct{})}
	select {
	case h.addGroup <- op:
		<-op.done
	case <-h.closed:
	}
}

func (h *Hub) RemoveFromGroup(group, connID string) {
	op := groupOp{group: group, connID: connID, done: make(chan struct{})}
	select {
	case h.removeGroup <- op:
		<-op.done
	case <-h.closed:
	}
}

// SendToGroup queues msg for every member of the group. Within one group the
// hub preserves send order, which is what gives each match its in-order
// snapshot stream.
func (h *Hub) SendToGroup(group string, msg []byte) {
	select {
	case h.send <- sendOp{group: group, msg: msg}:
	case <-h.closed:
	}
}

// SendToConnection queues msg for a single connection. Unknown ids are
// silently dropped; the connection may have gone away between lookup and
// send, and that is not the sender's problem.
func (h *Hub) SendToConnection(connID string, msg []byte) {
	select {
	case h.send <- sendOp{connID: connID, msg: msg}:
	case <-h.closed:
	}
}

// ReleaseGroup disbands a whole group at once. The release travels the same
// ordered channel as SendToGroup, so every frame queued for the group before
// the release is still delivered to its members.
func (h *Hub) ReleaseGroup(group string) {
	select {
	case h.send <- sendOp{group: group, release: true}:
	case <-h.closed:
	}
}

// Shutdown closes every connection and stops the hub goroutine. It blocks
// until the loop has fully exited. Later calls return immediately.
func (h *Hub) Shutdown() {
	select {
	case h.shutdown <- struct{}{}:
	case <-h.closed:
		return
	}
	<-h.closed
}

func (h *Hub) run() {
	if !h.isRunning.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		h.isRunning.Store(false)
		close(h.closed)
	}()

	for {
		select {
		case reg := <-h.register:
			if old, ok := h.conns[reg.connID]; ok {
				h.dropConn(reg.connID, old)
			}
			h.conns[reg.connID] = reg.conn
			close(reg.done)
		case reg := <-h.unregister:
			if conn, ok := h.conns[reg.connID]; ok {
				h.dropConn(reg.connID, conn)
			}
			close(reg.done)
		case op := <-h.addGroup:
			members, ok := h.groups[op.group]
			if !ok {
				members = make(map[string]struct{})
				h.groups[op.group] = members
			}
			members[op.connID] = struct{}{}
			close(op.done)
		case op := <-h.removeGroup:
			if members, ok := h.groups[op.group]; ok {
				delete(members, op.connID)
				if len(members) == 0 {
					delete(h.groups, op.group)
				}
			}
			close(op.done)
		case op := <-h.send:
			h.deliver(op)
		case <-h.shutdown:
			for connID, conn := range h.conns {
				h.dropConn(connID, conn)
			}
			return
		}
	}
}

func (h *Hub) deliver(op sendOp) {
	if op.group == "" {
		if conn, ok := h.conns[op.connID]; ok {
			h.write(op.connID, conn, op.msg)
		}
		return
	}
	if op.release {
		delete(h.groups, op.group)
		return
	}
	for connID := range h.groups[op.group] {
		conn, ok := h.conns[connID]
		if !ok {
			continue
		}
		h.write(connID, conn, op.msg)
	}
}

// write pushes one frame to one connection. A failed write means the
// connection is beyond saving, so it is dropped on the spot.
func (h *Hub) write(connID string, conn Conn, msg []byte) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		log.Error().Err(eris.Wrap(err, "failed to set write deadline")).Str("conn_id", connID).
			Msg("dropping connection")
		h.dropConn(connID, conn)
		return
	}
	if err := conn.WriteMessage(textMessage, msg); err != nil {
		log.Error().Err(eris.Wrap(err, "websocket write failed")).Str("conn_id", connID).
			Msg("dropping connection")
		h.dropConn(connID, conn)
	}
}

// dropConn removes a connection from the hub's maps and closes it. Only ever
// called from the hub goroutine.
func (h *Hub) dropConn(connID string, conn Conn) {
	delete(h.conns, connID)
	for group, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Msg("error closing websocket")
	}
}
