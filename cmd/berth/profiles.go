package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Profile describes a command that runs inside a session's tmux pane.
// ResumeArgs are appended when CanResume reports an existing conversation
// for the session directory; OptionFlags map user-selectable option ids to
// the flags they add.
type Profile struct {
	Name        string
	Binary      string
	BaseArgs    []string
	ResumeArgs  []string
	OptionFlags map[string][]string

	// CanResume reports whether profile state on disk shows a previous
	// conversation for this directory. Best-effort and synchronous; when
	// nil or in doubt the command is built without ResumeArgs.
	CanResume func(dir string) bool
}

// Predefined command profiles (ordered for consistent display)
var profileOrder = []string{"claude", "codex", "gemini", "shell"}

var profiles = map[string]Profile{
	"claude": {
		Name:       "Claude",
		Binary:     "claude",
		ResumeArgs: []string{"--continue"},
		OptionFlags: map[string][]string{
			"skip-permissions": {"--dangerously-skip-permissions"},
			"verbose":          {"--verbose"},
		},
		CanResume: claudeHasConversation,
	},
	"codex": {
		Name:       "Codex",
		Binary:     "codex",
		ResumeArgs: []string{"resume", "--last"},
		OptionFlags: map[string][]string{
			"full-auto": {"--full-auto"},
		},
	},
	"gemini": {
		Name:       "Gemini",
		Binary:     "gemini",
		ResumeArgs: []string{"--resume"},
		OptionFlags: map[string][]string{
			"yolo": {"--yolo"},
		},
	},
	"shell": {
		Name:   "Shell",
		Binary: defaultShell(),
	},
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// buildCommand assembles the argv the session's pane runs: profile binary,
// base args, option flags in the session's option order, and resume args
// when an existing conversation is detected.
func buildCommand(sess *Session) []string {
	p, ok := profiles[sess.Profile]
	if !ok {
		// Lookup-validated at create time; fall back to a plain shell.
		log.Printf("[PROFILE] Unknown profile %q for session %s, using shell", sess.Profile, sess.ID)
		p = profiles["shell"]
	}

	argv := append([]string{p.Binary}, p.BaseArgs...)
	for _, opt := range sess.Options {
		if flags, ok := p.OptionFlags[opt]; ok {
			argv = append(argv, flags...)
		} else {
			log.Printf("[PROFILE] Session %s: ignoring unknown option %q", sess.ID, opt)
		}
	}
	if p.CanResume != nil && len(p.ResumeArgs) > 0 && p.CanResume(sess.Directory) {
		log.Printf("[PROFILE] Session %s: resuming previous %s conversation", sess.ID, p.Name)
		argv = append(argv, p.ResumeArgs...)
	}
	return argv
}

// claudeProjectDir returns the directory where claude stores conversation
// state for a given working directory: path separators and dots collapse
// to dashes under ~/.claude/projects.
func claudeProjectDir(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(filepath.Clean(dir))
	return filepath.Join(home, ".claude", "projects", encoded)
}

// claudeHasConversation reports whether any conversation transcript exists
// for the directory. Any error means "don't know" and we start fresh.
func claudeHasConversation(dir string) bool {
	project := claudeProjectDir(dir)
	if project == "" {
		return false
	}
	entries, err := os.ReadDir(project)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			return true
		}
	}
	return false
}
