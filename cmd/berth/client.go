package main

import (
	"sync"

	"github.com/gorilla/websocket"
)

// clientMessage is the schema for every frame a browser sends us.
type clientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// eventWriter is what the fan-out hubs need from a connection: a
// serialized JSON send. Tests substitute channel-backed fakes.
type eventWriter interface {
	writeEvent(v any) error
}

// wsConn wraps a websocket connection with a write mutex
// (gorilla/websocket isn't concurrent-write safe).
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) writeEvent(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) close() error {
	return c.conn.Close()
}

// connRegistry tracks every accepted websocket connection, solely so
// shutdown can close them all.
type connRegistry struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[*wsConn]struct{})}
}

func (r *connRegistry) add(c *wsConn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *connRegistry) remove(c *wsConn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func (r *connRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// closeAll closes every registered connection. Used only at shutdown.
func (r *connRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*wsConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[*wsConn]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
