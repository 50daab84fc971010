package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ServerDiscovery is written by `hlink serve` so other hlink invocations can
// reach the running server.
type ServerDiscovery struct {
	Addr string `toml:"addr"`
	PID  int    `toml:"pid"`
}

// DiscoveryPath returns the discovery file path inside stateDir.
func DiscoveryPath(stateDir string) string {
	return filepath.Join(stateDir, "server.toml")
}

// WriteServerDiscovery writes the discovery file, creating stateDir if needed.
func WriteServerDiscovery(stateDir string, d ServerDiscovery) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode server discovery: %w", err)
	}
	return os.WriteFile(DiscoveryPath(stateDir), buf.Bytes(), 0o600)
}

// ReadServerDiscovery reads the discovery file. Returns os.ErrNotExist if no
// server has announced itself.
func ReadServerDiscovery(stateDir string) (ServerDiscovery, error) {
	var d ServerDiscovery
	_, err := toml.DecodeFile(DiscoveryPath(stateDir), &d)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ServerDiscovery{}, os.ErrNotExist
		}
		return ServerDiscovery{}, err
	}
	return d, nil
}

// RemoveServerDiscovery removes the discovery file (best-effort).
func RemoveServerDiscovery(stateDir string) {
	os.Remove(DiscoveryPath(stateDir)) //nolint:errcheck // best-effort cleanup on shutdown
}

// EncodeTask renders t as a standalone TOML document.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(t); err != nil {
		return nil, fmt.Errorf("encode task %q: %w", t.Name, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask parses a document produced by EncodeTask.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if _, err := toml.Decode(string(data), &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}
