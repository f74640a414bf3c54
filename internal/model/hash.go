package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/example/go-tortoise-tts/internal/onnx"
)

// GraphDigest pins one graph file by content.
type GraphDigest struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

type lockManifest struct {
	Graphs []GraphDigest `json:"graphs"`
}

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashGraphs hashes every graph file listed in the manifest, sorted by graph
// name.
func HashGraphs(manifestPath string) ([]GraphDigest, error) {
	sm, err := onnx.NewSessionManager(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var out []GraphDigest
	for _, s := range sm.Sessions() {
		sum, err := FileSHA256(s.Path)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", s.Name, err)
		}
		info, err := os.Stat(s.Path)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", s.Name, err)
		}
		out = append(out, GraphDigest{Name: s.Name, File: filepath.Base(s.Path), SHA256: sum, Bytes: info.Size()})
	}
	slices.SortFunc(out, func(a, b GraphDigest) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// CheckPinned hashes every graph whose manifest entry pins a digest. It
// returns how many were checked and the names that did not match.
func CheckPinned(sessions []onnx.Session) (int, []string, error) {
	checked := 0
	var mismatched []string
	for _, s := range sessions {
		if s.SHA256 == "" {
			continue
		}
		sum, err := FileSHA256(s.Path)
		if err != nil {
			return checked, nil, fmt.Errorf("graph %q: %w", s.Name, err)
		}
		checked++
		if sum != s.SHA256 {
			mismatched = append(mismatched, s.Name)
		}
	}
	return checked, mismatched, nil
}

// WriteLock records digests at path.
func WriteLock(path string, digests []GraphDigest) error {
	data, err := json.MarshalIndent(lockManifest{Graphs: digests}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadLock loads digests written by WriteLock.
func ReadLock(path string) ([]GraphDigest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	var lock lockManifest
	if err := json.Unmarshal(b, &lock); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", path, err)
	}
	return lock.Graphs, nil
}

// CompareDigests lists the graphs whose hash differs from the lock or that
// are missing on either side.
func CompareDigests(locked, current []GraphDigest) []string {
	want := make(map[string]string, len(locked))
	for _, d := range locked {
		want[d.Name] = d.SHA256
	}

	var diff []string
	seen := make(map[string]bool, len(current))
	for _, d := range current {
		seen[d.Name] = true
		if sum, ok := want[d.Name]; !ok || sum != d.SHA256 {
			diff = append(diff, d.Name)
		}
	}
	for name := range want {
		if !seen[name] {
			diff = append(diff, name)
		}
	}
	slices.Sort(diff)
	return diff
}
