package main

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

// ptyProc is one live bridge process: the tmux attach (or raw shell) that a
// single websocket connection is driving. Killing it detaches the browser;
// the tmux session underneath keeps running.
type ptyProc struct {
	sessionID string
	cmd       *exec.Cmd
	ptmx      *os.File

	// closedByClient is set when the websocket goes away first, so the
	// reader goroutine knows not to send an exit event into a dead conn.
	closedByClient atomic.Bool
}

// procRegistry tracks live bridge processes so shutdown can kill them all.
type procRegistry struct {
	mu    sync.Mutex
	procs map[*ptyProc]struct{}
}

func newProcRegistry() *procRegistry {
	return &procRegistry{procs: make(map[*ptyProc]struct{})}
}

func (r *procRegistry) add(p *ptyProc) {
	r.mu.Lock()
	r.procs[p] = struct{}{}
	r.mu.Unlock()
}

func (r *procRegistry) remove(p *ptyProc) {
	r.mu.Lock()
	delete(r.procs, p)
	r.mu.Unlock()
}

func (r *procRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// killAll terminates every bridge process. tmux sessions survive; only the
// attach processes die.
func (r *procRegistry) killAll() {
	r.mu.Lock()
	procs := make([]*ptyProc, 0, len(r.procs))
	for p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		p.closedByClient.Store(true)
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	}
}

// handleTerminal bridges one websocket connection to one freshly spawned
// attach process for the named session. Every connection gets its own pty;
// closing the socket kills the process but never the tmux session.
func (s *server) handleTerminal(conn *wsConn, sessionID string) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		conn.writeEvent(map[string]any{"type": "error", "message": "unknown session: " + sessionID})
		return
	}
	if info, err := os.Stat(sess.Directory); err != nil || !info.IsDir() {
		conn.writeEvent(map[string]any{"type": "error", "message": "session directory missing: " + sess.Directory})
		return
	}

	if s.tmux.HasSession(sessionName(sess.ID)) {
		log.Printf("[PTY] Session %s: host session %s is live, reattaching", sess.ID, sessionName(sess.ID))
	}

	args := s.launchCommand(sess)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = sess.Directory
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		log.Printf("[PTY] Session %s: start failed: %v", sessionID, err)
		conn.writeEvent(map[string]any{"type": "error", "message": "failed to start terminal: " + err.Error()})
		return
	}
	// Placeholder until the browser reports its real dimensions.
	pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	proc := &ptyProc{sessionID: sessionID, cmd: cmd, ptmx: ptmx}
	s.procs.add(proc)
	log.Printf("[PTY] Session %s: attached pid %d", sessionID, cmd.Process.Pid)

	done := make(chan struct{})
	go s.readPTY(proc, conn, done)

	s.readClient(proc, conn, sess)

	// Socket is gone: kill the attach process. The pty close unblocks the
	// reader, which reaps the process and cleans up.
	proc.closedByClient.Store(true)
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	s.watchers.Unsubscribe(conn, sessionID)
	<-done
}

// readPTY drains the pty into the websocket as output events, in read
// order, until the process dies. It owns cmd.Wait.
func (s *server) readPTY(proc *ptyProc, conn *wsConn, done chan struct{}) {
	defer close(done)
	defer s.procs.remove(proc)
	defer proc.ptmx.Close()

	buf := make([]byte, 4096)
	for {
		n, err := proc.ptmx.Read(buf)
		if n > 0 {
			if werr := conn.writeEvent(map[string]any{"type": "output", "data": string(buf[:n])}); werr != nil {
				proc.closedByClient.Store(true)
				proc.cmd.Process.Kill()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[PTY] Session %s: read error: %v", proc.sessionID, err)
			}
			break
		}
	}

	exitCode := 0
	if err := proc.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	if proc.closedByClient.Load() {
		return
	}
	log.Printf("[PTY] Session %s: process exited with code %d", proc.sessionID, exitCode)
	conn.writeEvent(map[string]any{"type": "exit", "code": exitCode})
	conn.close()
}

// readClient consumes client messages until the socket closes. Malformed
// frames are logged and skipped; the stream stays up.
func (s *server) readClient(proc *ptyProc, conn *wsConn, sess *Session) {
	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] Session %s: read: %v", sess.ID, err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Session %s: malformed message: %v", sess.ID, err)
			continue
		}
		switch msg.Type {
		case "input":
			if _, err := proc.ptmx.Write([]byte(msg.Data)); err != nil {
				log.Printf("[PTY] Session %s: write: %v", sess.ID, err)
			}
		case "resize":
			if msg.Cols > 0 && msg.Rows > 0 && msg.Cols <= 65535 && msg.Rows <= 65535 {
				pty.Setsize(proc.ptmx, &pty.Winsize{Rows: uint16(msg.Rows), Cols: uint16(msg.Cols)})
			} else {
				log.Printf("[PTY] Session %s: ignoring resize to %dx%d", sess.ID, msg.Cols, msg.Rows)
			}
		case "subscribe-files":
			if err := s.watchers.Subscribe(conn, sess.ID, sess.Directory); err != nil {
				log.Printf("[WATCH] Session %s: subscribe: %v", sess.ID, err)
				conn.writeEvent(map[string]any{"type": "error", "message": "file watch unavailable"})
			}
		default:
			log.Printf("[WS] Session %s: unknown message type %q", sess.ID, msg.Type)
		}
	}
}
