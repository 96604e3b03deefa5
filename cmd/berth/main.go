package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// Version can be set at build time with: go build -ldflags "-X main.Version=<version>"
var Version = "dev"

// server bundles the shared state every handler needs.
type server struct {
	registry *Registry
	tmux     *Tmux
	lists    *listHub
	watchers *watchHub
	procs    *procRegistry
	conns    *connRegistry

	// launchCommand builds the argv a terminal connection spawns for a
	// session. Overridable so tests can run without tmux installed.
	launchCommand func(*Session) []string
}

func newServer(registry *Registry, tmux *Tmux, debounce time.Duration, watchDepth int) *server {
	s := &server{
		registry: registry,
		tmux:     tmux,
		lists:    newListHub(),
		watchers: newWatchHub(debounce, watchDepth),
		procs:    newProcRegistry(),
		conns:    newConnRegistry(),
	}
	s.launchCommand = func(sess *Session) []string {
		return tmux.AttachArgs(sessionName(sess.ID), sess.Directory, buildCommand(sess))
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/reorder", s.handleReorder)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/api/profiles", s.handleProfiles)
	mux.HandleFunc("/api/browse", s.handleBrowse)
	mux.HandleFunc("/ws/", s.handleWS)
	return mux
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".berth"
	}
	return filepath.Join(home, ".config", "berth")
}

func main() {
	addr := flag.String("addr", ":7333", "Listen address")
	dataDir := flag.String("data-dir", defaultDataDir(), "Directory for the session store")
	tmuxSocket := flag.String("tmux-socket", "", "Path to the tmux socket (defaults to a per-user berth socket)")
	debounce := flag.Duration("debounce", 300*time.Millisecond, "Quiet window before a files-changed notification")
	watchDepth := flag.Int("watch-depth", 5, "How many directory levels deep to watch for file changes")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("berth version %s\n", Version)
		os.Exit(0)
	}

	registry, err := NewRegistry(*dataDir)
	if err != nil {
		log.Fatal(err)
	}

	tmux := NewTmux(*tmuxSocket)
	if !tmux.IsAvailable() {
		log.Fatal("tmux not found in PATH; berth needs tmux for session persistence")
	}

	s := newServer(registry, tmux, *debounce, *watchDepth)

	srv := &http.Server{Addr: *addr, Handler: s.routes()}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigChan
		log.Println("Shutting down...")

		// Order matters: kill attach processes first so their pty
		// readers finish, then drop the sockets, then the watchers.
		// tmux sessions stay up for the next start.
		s.procs.killAll()
		s.conns.closeAll()
		s.watchers.closeAll()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
		close(done)
	}()

	log.Printf("berth v%s", Version)
	log.Printf("Starting server on %s", *addr)
	log.Printf("  data-dir: %s", *dataDir)
	log.Printf("  tmux-socket: %s", tmux.socket)
	log.Printf("  debounce: %v", *debounce)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-done
}
