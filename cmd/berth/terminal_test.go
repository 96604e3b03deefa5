package main

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// collectOutput reads events until one matching stop arrives, accumulating
// output data along the way.
func collectOutput(t *testing.T, conn interface {
	ReadJSON(v any) error
	SetReadDeadline(t time.Time) error
}, within time.Duration, stop func(serverEvent) bool) (string, serverEvent) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(within))
	var out strings.Builder
	for {
		var ev serverEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event (output so far %q): %v", out.String(), err)
		}
		if ev.Type == "output" {
			out.WriteString(ev.Data)
		}
		if stop(ev) {
			return out.String(), ev
		}
	}
}

func TestTerminalUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/terminal/nope")
	if ev := readEvent(t, conn, 2*time.Second); ev.Type != "error" {
		t.Errorf("event = %+v, want error", ev)
	}
	// Nothing was spawned for the bad id.
	if n := ts.procs.count(); n != 0 {
		t.Errorf("proc count = %d, want 0", n)
	}
}

func TestTerminalMissingDirectory(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	sess := ts.mustCreateSession(t, dir)
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	ev := readEvent(t, conn, 2*time.Second)
	if ev.Type != "error" || !strings.Contains(ev.Message, "directory") {
		t.Errorf("event = %+v, want directory error", ev)
	}
}

func TestTerminalStreamsOutput(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())
	ts.launchCommand = func(*Session) []string {
		return []string{"/bin/sh", "-c", "printf 'one two three'"}
	}

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	out, ev := collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "exit"
	})
	if !strings.Contains(out, "one two three") {
		t.Errorf("output = %q, want it to contain %q", out, "one two three")
	}
	if ev.Code != 0 {
		t.Errorf("exit code = %d, want 0", ev.Code)
	}
}

func TestTerminalReportsExitCode(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())
	ts.launchCommand = func(*Session) []string {
		return []string{"/bin/sh", "-c", "exit 3"}
	}

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	_, ev := collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "exit"
	})
	if ev.Code != 3 {
		t.Errorf("exit code = %d, want 3", ev.Code)
	}
}

func TestTerminalInputRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	// Default test command prints "ready" then cats stdin back.
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "ready")
	})

	if err := conn.WriteJSON(clientMessage{Type: "input", Data: "marco\n"}); err != nil {
		t.Fatal(err)
	}
	out, _ := collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "marco")
	})
	if !strings.Contains(out, "marco") {
		t.Errorf("output = %q, want echo of input", out)
	}
}

func TestTerminalMalformedFramesIgnored(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "ready")
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte("this is not json")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(clientMessage{Type: "no-such-type"}); err != nil {
		t.Fatal(err)
	}

	// The bridge survives and still relays input.
	if err := conn.WriteJSON(clientMessage{Type: "input", Data: "still-alive\n"}); err != nil {
		t.Fatal(err)
	}
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "still-alive")
	})
}

func TestTerminalDisconnectKillsProcessNotSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())
	ts.launchCommand = func(*Session) []string {
		return []string{"/bin/sh", "-c", "sleep 60"}
	}

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 1 })

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 0 })

	// Detach is not delete: the session entry survives for reattach.
	if _, ok := ts.registry.Lookup(sess.ID); !ok {
		t.Error("session gone from registry after disconnect")
	}
}

func TestTerminalReattachSeesPriorOutput(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())

	// Stand-in for the persistent host: the first attach writes output
	// into a log, later attaches only replay it, the way tmux replays
	// its screen.
	hostLog := filepath.Join(t.TempDir(), "host.log")
	attaches := 0
	ts.launchCommand = func(*Session) []string {
		attaches++
		if attaches == 1 {
			return []string{"/bin/sh", "-c", fmt.Sprintf(
				"printf 'BEFORE-DETACH' | tee %s; exec sleep 60", hostLog)}
		}
		return []string{"/bin/sh", "-c", fmt.Sprintf("cat %s; exec sleep 60", hostLog)}
	}

	a := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, a, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "BEFORE-DETACH")
	})

	a.Close()
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 0 })

	b := ts.dial(t, "/ws/terminal/"+sess.ID)
	out, _ := collectOutput(t, b, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "BEFORE-DETACH")
	})
	if !strings.Contains(out, "BEFORE-DETACH") {
		t.Errorf("reattach output = %q, want output produced before detach", out)
	}
}

func TestTerminalReattachViaTmux(t *testing.T) {
	tm := NewTmux(filepath.Join(t.TempDir(), "tmux.sock"))
	if !tm.IsAvailable() {
		t.Skip("tmux not installed")
	}

	registry, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s := newServer(registry, tm, 50*time.Millisecond, 5)
	s.launchCommand = func(sess *Session) []string {
		return tm.AttachArgs(sessionName(sess.ID), sess.Directory,
			[]string{"/bin/sh", "-c", "printf 'BEFORE-DETACH'; sleep 60"})
	}
	hts := httptest.NewServer(s.routes())
	t.Cleanup(hts.Close)
	t.Cleanup(func() { tm.run("kill-server") })
	ts := &testServer{server: s, ts: hts}

	sess := ts.mustCreateSession(t, t.TempDir())
	name := sessionName(sess.ID)

	a := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, a, 5*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "BEFORE-DETACH")
	})
	if !tm.HasSession(name) {
		t.Fatalf("host session %s not live after attach", name)
	}

	a.Close()
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 0 })
	if !tm.HasSession(name) {
		t.Fatalf("host session %s died on detach", name)
	}

	// The new attach replays the screen, so output from before the
	// detach reaches the second connection.
	b := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, b, 5*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "BEFORE-DETACH")
	})
}

func TestTerminalTwoConnectionsIndependentProcesses(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())

	a := ts.dial(t, "/ws/terminal/"+sess.ID)
	b := ts.dial(t, "/ws/terminal/"+sess.ID)
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 2 })

	// Closing one bridge leaves the other alone.
	a.Close()
	waitFor(t, 2*time.Second, func() bool { return ts.procs.count() == 1 })

	if err := b.WriteJSON(clientMessage{Type: "input", Data: "ping\n"}); err != nil {
		t.Fatal(err)
	}
	collectOutput(t, b, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "ping")
	})
}

func TestTerminalSubscribeFiles(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	sess := ts.mustCreateSession(t, dir)

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "ready")
	})

	if err := conn.WriteJSON(clientMessage{Type: "subscribe-files"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return ts.watchers.watcherCount() == 1 })

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "files-changed"
	})

	// Disconnect tears the watch down with the bridge.
	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return ts.watchers.watcherCount() == 0 })
}

func TestTerminalResize(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.mustCreateSession(t, t.TempDir())
	ts.launchCommand = func(*Session) []string {
		// stty runs after the resize lands, via the input below.
		return []string{"/bin/sh", "-c", "printf ready; exec /bin/sh"}
	}

	conn := ts.dial(t, "/ws/terminal/"+sess.ID)
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "ready")
	})

	if err := conn.WriteJSON(clientMessage{Type: "resize", Cols: 132, Rows: 43}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(clientMessage{Type: "input", Data: "stty size\n"}); err != nil {
		t.Fatal(err)
	}
	out, _ := collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "43 132")
	})
	if !strings.Contains(out, "43 132") {
		t.Errorf("output = %q, want pty size 43 132", out)
	}

	// Dimensions beyond the pty's 16-bit range are ignored, not wrapped.
	if err := conn.WriteJSON(clientMessage{Type: "resize", Cols: 65537, Rows: 1}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(clientMessage{Type: "input", Data: "stty size\n"}); err != nil {
		t.Fatal(err)
	}
	collectOutput(t, conn, 3*time.Second, func(ev serverEvent) bool {
		return ev.Type == "output" && strings.Contains(ev.Data, "43 132")
	})
}
