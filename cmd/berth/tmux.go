package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Tmux errors
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrTmuxSessionGone = errors.New("tmux session not found")
)

// Tmux wraps the tmux binary on a dedicated socket, so berth sessions never
// collide with the user's own tmux server.
type Tmux struct {
	socket string
}

// NewTmux returns a wrapper on the given socket path, defaulting to a
// per-user socket under XDG_RUNTIME_DIR or the system temp dir.
func NewTmux(socket string) *Tmux {
	if socket == "" {
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
			socket = filepath.Join(dir, "berth-tmux.sock")
		} else {
			socket = filepath.Join(os.TempDir(), fmt.Sprintf("berth-tmux-%d.sock", os.Getuid()))
		}
	}
	return &Tmux{socket: socket}
}

// run executes a tmux command and returns trimmed stdout.
func (t *Tmux) run(args ...string) (string, error) {
	allArgs := append([]string{"-S", t.socket}, args...)
	cmd := exec.Command("tmux", allArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", t.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrTmuxSessionGone
	}
	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// IsAvailable checks if tmux is installed.
func (t *Tmux) IsAvailable() bool {
	return exec.Command("tmux", "-V").Run() == nil
}

// HasSession checks if a session exists (exact match; the "=" prefix
// prevents name-prefix matches).
func (t *Tmux) HasSession(name string) bool {
	_, err := t.run("has-session", "-t", "="+name)
	return err == nil
}

// SessionSet returns the names of all live sessions on our socket, for
// O(1) liveness checks without one subprocess per session.
func (t *Tmux) SessionSet() map[string]bool {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	set := make(map[string]bool)
	if err != nil || out == "" {
		return set
	}
	for _, name := range strings.Split(out, "\n") {
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// KillSession terminates a tmux session and whatever runs inside it.
// Missing session or dead server is not an error.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", "="+name)
	if errors.Is(err, ErrTmuxSessionGone) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// sessionName derives the deterministic tmux session name for a logical
// session id. tmux rejects dots and colons in names; uuids are safe as-is
// but we sanitize anyway for externally supplied ids.
func sessionName(id string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, id)
	if len(mapped) > 8 {
		mapped = mapped[:8]
	}
	return "berth-" + mapped
}

// AttachArgs builds the argv that attaches a pty to the session's tmux
// session, creating it with the given command if it does not exist yet
// (-A). When the session already exists the command argument is ignored
// by tmux: attaching never restarts the running process.
func (t *Tmux) AttachArgs(name, dir string, command []string) []string {
	args := []string{"tmux", "-S", t.socket, "new-session", "-A", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if len(command) > 0 {
		quoted := make([]string, len(command))
		for i, w := range command {
			quoted[i] = shellQuote(w)
		}
		args = append(args, strings.Join(quoted, " "))
	}
	return args
}

// shellQuote single-quotes a word for the shell tmux hands the pane
// command to, escaping embedded single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
