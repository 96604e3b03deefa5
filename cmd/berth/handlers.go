package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// handleSessions serves /api/sessions: GET lists, POST creates.
func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSessions(w)
	case http.MethodPost:
		s.createSession(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) listSessions(w http.ResponseWriter) {
	sessions := s.registry.List()

	// Active means a tmux session exists for it right now. A dead tmux
	// server just means nothing is active.
	live := s.tmux.SessionSet()
	for _, sess := range sessions {
		sess.Active = live[sessionName(sess.ID)]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name"`
		Directory string   `json:"directory"`
		Profile   string   `json:"profile"`
		Options   []string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Create(req.Name, req.Directory, req.Profile, req.Options)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBadDirectory) || errors.Is(err, ErrUnknownProfile) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.lists.NotifyChanged()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// handleSession serves /api/sessions/{id}: PATCH updates, DELETE removes.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Name    string   `json:"name"`
			Options []string `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		sess, err := s.registry.Update(id, req.Name, req.Options)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.lists.NotifyChanged()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sess)

	case http.MethodDelete:
		if err := s.registry.Delete(id); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// Deleting the entry also ends the underlying tmux session.
		if err := s.tmux.KillSession(sessionName(id)); err != nil {
			log.Printf("[HTTP] kill tmux session for %s: %v", id, err)
		}
		s.lists.NotifyChanged()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReorder serves POST /api/sessions/reorder with the full id list in
// the desired order.
func (s *server) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.Reorder(req.IDs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.lists.NotifyChanged()
	w.WriteHeader(http.StatusNoContent)
}

// handleProfiles serves GET /api/profiles so the UI can render the
// launcher choices without hardcoding them.
func (s *server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type profileInfo struct {
		Name    string   `json:"name"`
		Options []string `json:"options"`
	}
	out := make([]profileInfo, 0, len(profileOrder))
	for _, name := range profileOrder {
		p := profiles[name]
		opts := make([]string, 0, len(p.OptionFlags))
		for opt := range p.OptionFlags {
			opts = append(opts, opt)
		}
		sort.Strings(opts)
		out = append(out, profileInfo{Name: name, Options: opts})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleBrowse lists the directories under a path for the new-session
// directory picker.
func (s *server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath, _ = os.UserHomeDir()
	}
	dirPath = filepath.Clean(dirPath)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		http.Error(w, "Failed to read directory: "+err.Error(), http.StatusBadRequest)
		return
	}

	type dirEntry struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	dirs := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, dirEntry{
			Name: entry.Name(),
			Path: filepath.Join(dirPath, entry.Name()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"path":   dirPath,
		"parent": filepath.Dir(dirPath),
		"dirs":   dirs,
	})
}
