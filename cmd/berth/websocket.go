package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWS routes /ws/* to the right endpoint. Unknown paths 404 before any
// upgrade happens so clients see a plain HTTP error, not a broken socket.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/ws/sessions":
		s.serveWS(w, r, func(conn *wsConn) { s.handleSessionList(conn) })
	case strings.HasPrefix(path, "/ws/terminal/"):
		id := strings.TrimPrefix(path, "/ws/terminal/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		s.serveWS(w, r, func(conn *wsConn) { s.handleTerminal(conn, id) })
	case strings.HasPrefix(path, "/ws/files/"):
		id := strings.TrimPrefix(path, "/ws/files/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		s.serveWS(w, r, func(conn *wsConn) { s.handleFileWatch(conn, id) })
	default:
		http.NotFound(w, r)
	}
}

// serveWS upgrades the request, registers the connection for shutdown, and
// runs the endpoint handler until it returns.
func (s *server) serveWS(w http.ResponseWriter, r *http.Request, handle func(*wsConn)) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	conn := newWSConn(raw)
	s.conns.add(conn)
	defer func() {
		s.conns.remove(conn)
		conn.close()
	}()
	handle(conn)
}

// handleSessionList holds the connection open and pushes sessions-changed
// whenever the registry mutates. The client re-fetches the list over HTTP;
// the event carries no payload.
func (s *server) handleSessionList(conn *wsConn) {
	s.lists.subscribe(conn)
	defer s.lists.unsubscribe(conn)

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleFileWatch serves change notifications for one session without
// attaching a terminal. The client still sends subscribe-files to opt in,
// mirroring the terminal endpoint.
func (s *server) handleFileWatch(conn *wsConn, sessionID string) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		conn.writeEvent(map[string]any{"type": "error", "message": "unknown session: " + sessionID})
		return
	}
	defer s.watchers.Unsubscribe(conn, sess.ID)

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Session %s: malformed message: %v", sess.ID, err)
			continue
		}
		if msg.Type != "subscribe-files" {
			log.Printf("[WS] Session %s: unexpected message type %q on files socket", sess.ID, msg.Type)
			continue
		}
		if err := s.watchers.Subscribe(conn, sess.ID, sess.Directory); err != nil {
			log.Printf("[WATCH] Session %s: subscribe: %v", sess.ID, err)
			conn.writeEvent(map[string]any{"type": "error", "message": "file watch unavailable"})
		}
	}
}
