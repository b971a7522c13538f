// Package fixture saves and loads test fixture files in JSON, YAML, and raw
// text form, and ships the canned sample records used across suites.
package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dir is a fixture directory root. The zero value resolves names against the
// working directory.
type Dir struct {
	root string
}

// NewDir roots a fixture directory. Nothing is created until the first save.
func NewDir(root string) Dir {
	return Dir{root: root}
}

// Path resolves name inside the fixture root to an absolute path.
func (d Dir) Path(name string) (string, error) {
	return filepath.Abs(filepath.Join(d.root, name))
}

// SaveJSON writes data as 2-space indented JSON and returns the absolute
// path written. Parent directories are created as needed.
func (d Dir) SaveJSON(name string, data any) (string, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode fixture %q: %w", name, err)
	}
	return d.write(name, append(encoded, '\n'))
}

// LoadJSON reads a JSON fixture into out.
func (d Dir) LoadJSON(name string, out any) error {
	data, err := d.read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode fixture %q: %w", name, err)
	}
	return nil
}

// SaveYAML writes data as YAML and returns the absolute path written.
func (d Dir) SaveYAML(name string, data any) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return "", fmt.Errorf("encode fixture %q: %w", name, err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("encode fixture %q: %w", name, err)
	}
	return d.write(name, buf.Bytes())
}

// LoadYAML reads a YAML fixture into out.
func (d Dir) LoadYAML(name string, out any) error {
	data, err := d.read(name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode fixture %q: %w", name, err)
	}
	return nil
}

// SaveText writes raw text and returns the absolute path written.
func (d Dir) SaveText(name, text string) (string, error) {
	return d.write(name, []byte(text))
}

// LoadText reads a fixture as raw text.
func (d Dir) LoadText(name string) (string, error) {
	data, err := d.read(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d Dir) write(name string, data []byte) (string, error) {
	path, err := d.Path(name)
	if err != nil {
		return "", fmt.Errorf("resolve fixture %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create fixture directory %q: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write fixture %q: %w", name, err)
	}
	return path, nil
}

func (d Dir) read(name string) ([]byte, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, fmt.Errorf("resolve fixture %q: %w", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %q: %w", name, err)
	}
	return data, nil
}
