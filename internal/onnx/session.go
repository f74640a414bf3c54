package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NodeInfo describes one graph input or output. Shape entries are numbers
// for fixed dimensions and strings for symbolic ones.
type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Session is a graph's manifest entry with its file path resolved.
type Session struct {
	Name string
	Path string
	// SHA256 is the digest the manifest pins for the file, if any.
	SHA256 string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// GraphEntry is one graph as written in manifest.json.
type GraphEntry struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	SHA256   string     `json:"sha256,omitempty"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// Manifest lists the exported graphs of a model bundle.
type Manifest struct {
	Graphs []GraphEntry `json:"graphs"`
}

// ReadManifest decodes and validates the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest %s: %w", path, err)
	}
	if len(m.Graphs) == 0 {
		return nil, errors.New("ONNX manifest has no graphs")
	}

	seen := make(map[string]bool, len(m.Graphs))
	for _, g := range m.Graphs {
		switch {
		case g.Name == "":
			return nil, errors.New("manifest graph has empty name")
		case g.Filename == "":
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		case seen[g.Name]:
			return nil, fmt.Errorf("duplicate graph %q in manifest", g.Name)
		}
		seen[g.Name] = true
	}

	return &m, nil
}

// SessionManager indexes the graphs of a manifest. It only records
// metadata; the Engine opens sessions on demand.
type SessionManager struct {
	sessions map[string]Session
	order    []string
}

// NewSessionManager reads the manifest and resolves each graph file
// relative to the manifest's directory. Every listed file must exist.
func NewSessionManager(manifestPath string) (*SessionManager, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(manifestPath)
	sm := &SessionManager{
		sessions: make(map[string]Session, len(m.Graphs)),
		order:    make([]string, 0, len(m.Graphs)),
	}

	for _, g := range m.Graphs {
		path := g.Filename
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		path = filepath.Clean(path)

		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("graph file for %q: %w", g.Name, err)
		}

		sm.sessions[g.Name] = Session{
			Name:    g.Name,
			Path:    path,
			SHA256:  strings.ToLower(g.SHA256),
			Inputs:  g.Inputs,
			Outputs: g.Outputs,
		}
		sm.order = append(sm.order, g.Name)

		slog.Debug("registered graph", "name", g.Name, "path", path,
			"inputs", nodeNames(g.Inputs), "outputs", nodeNames(g.Outputs))
	}

	return sm, nil
}

// Session returns a copy of the named graph's entry.
func (m *SessionManager) Session(name string) (Session, bool) {
	s, ok := m.sessions[name]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Sessions returns every graph in manifest order.
func (m *SessionManager) Sessions() []Session {
	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.sessions[name].clone())
	}
	return out
}

// Missing returns the names from want that the manifest does not list.
func (m *SessionManager) Missing(want ...string) []string {
	var missing []string
	for _, name := range want {
		if _, ok := m.sessions[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (s Session) clone() Session {
	s.Inputs = append([]NodeInfo(nil), s.Inputs...)
	s.Outputs = append([]NodeInfo(nil), s.Outputs...)
	return s
}

func nodeNames(nodes []NodeInfo) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return strings.Join(names, ",")
}
