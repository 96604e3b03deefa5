package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestSessionName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"0b1c2d3e-4f56-7890-abcd-ef0123456789", "berth-0b1c2d3e"},
		{"short", "berth-short"},
		{"has.dots:and spaces", "berth-has-dots"},
		{"", "berth-"},
	}
	for _, tt := range tests {
		if got := sessionName(tt.id); got != tt.want {
			t.Errorf("sessionName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSessionNameIsDeterministic(t *testing.T) {
	a := sessionName("0b1c2d3e-4f56-7890-abcd-ef0123456789")
	b := sessionName("0b1c2d3e-4f56-7890-abcd-ef0123456789")
	if a != b {
		t.Errorf("same id produced %q and %q", a, b)
	}
}

func TestAttachArgs(t *testing.T) {
	tm := NewTmux("/tmp/test.sock")
	got := tm.AttachArgs("berth-abc", "/work/proj", []string{"claude", "--continue"})
	want := []string{"tmux", "-S", "/tmp/test.sock", "new-session", "-A", "-s", "berth-abc", "-c", "/work/proj", "claude --continue"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AttachArgs = %v, want %v", got, want)
	}
}

func TestAttachArgsQuotesCommand(t *testing.T) {
	tm := NewTmux("/tmp/test.sock")
	got := tm.AttachArgs("berth-abc", "/work", []string{"sh", "-c", "echo 'hi there'"})
	last := got[len(got)-1]
	if !strings.Contains(last, `'echo '\''hi there'\'''`) {
		t.Errorf("command string not quoted: %q", last)
	}
}

func TestAttachArgsNoCommand(t *testing.T) {
	tm := NewTmux("/tmp/test.sock")
	got := tm.AttachArgs("berth-abc", "/work", nil)
	if got[len(got)-1] != "/work" {
		t.Errorf("empty command should end at -c dir, got %v", got)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"two words", "'two words'"},
		{"don't", `'don'\''t'`},
		{"$HOME", "'$HOME'"},
		{"a;b", "'a;b'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasSessionWithoutServer(t *testing.T) {
	tm := NewTmux("/tmp/berth-test-no-server.sock")
	if tm.HasSession("berth-anything") {
		t.Error("HasSession reported a session with no server running")
	}
}

func TestNewTmuxDefaultSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	tm := NewTmux("")
	if tm.socket != "/run/user/1000/berth-tmux.sock" {
		t.Errorf("socket = %q", tm.socket)
	}

	tm = NewTmux("/custom.sock")
	if tm.socket != "/custom.sock" {
		t.Errorf("socket = %q, want explicit path kept", tm.socket)
	}
}
