// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Package config merges the layered configuration files of opsflow
// processes: <name>.yaml, then <name>.<env>.yaml, then
// <name>.override.yaml, then <PREFIX>_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Options select the files a Manager merges.
type Options struct {
	// Dir holds the configuration files. Default ".".
	Dir string
	// Name is the file base name. Default "opsflow".
	Name string
	// Format is yaml or json. Default yaml.
	Format string
	// Env adds <Name>.<Env>.<Format> between the base and override files.
	Env string
	// EnvPrefix enables <EnvPrefix>_SECTION_KEY variables when set.
	EnvPrefix string
}

// DefaultOptions returns the options used by the worker binary.
func DefaultOptions() Options {
	return Options{
		Dir:       ".",
		Name:      "opsflow",
		Format:    "yaml",
		Env:       os.Getenv("OPSFLOW_ENV"),
		EnvPrefix: "OPSFLOW",
	}
}

func (o *Options) normalize() {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.Name == "" {
		o.Name = "opsflow"
	}
	switch f := strings.ToLower(o.Format); f {
	case "json":
		o.Format = f
	default:
		o.Format = "yaml"
	}
}

// Manager holds the merged settings.
type Manager struct {
	mu   sync.RWMutex
	v    *viper.Viper
	opts Options
}

// NewManager creates a Manager. Nothing is read until Load or Decode.
func NewManager(opts Options) *Manager {
	opts.normalize()
	v := viper.New()
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	return &Manager{v: v, opts: opts}
}

// Dir returns the directory holding the layer files.
func (m *Manager) Dir() string { return m.opts.Dir }

// Files lists the layer files from lowest to highest precedence.
func (m *Manager) Files() []string {
	names := []string{m.opts.Name + "." + m.opts.Format}
	if m.opts.Env != "" {
		names = append(names, m.opts.Name+"."+strings.ToLower(m.opts.Env)+"."+m.opts.Format)
	}
	names = append(names, m.opts.Name+".override."+m.opts.Format)

	files := make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(m.opts.Dir, name)
	}
	return files
}

// SetDefaults registers every leaf of defaults as a default key, so files
// and environment variables override single keys and the variables of
// nested keys resolve. defaults is a struct or map with yaml tags.
func (m *Manager) SetDefaults(defaults interface{}) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	leaves := make(map[string]interface{})
	flatten("", tree, leaves)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range leaves {
		m.v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree, out map[string]interface{}) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Load merges the layer files in order. Missing files are skipped. A file
// that fails to parse aborts the load and leaves the settings merged so far
// untouched.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range m.Files() {
		settings, err := m.readFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", filepath.Base(path), err)
		}
		if settings == nil {
			continue
		}
		if err := m.v.MergeConfigMap(settings); err != nil {
			return fmt.Errorf("merge %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (m *Manager) readFile(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tmp := viper.New()
	tmp.SetConfigType(m.opts.Format)
	if err := tmp.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, err
	}
	return tmp.AllSettings(), nil
}

// Decode loads the layers and unmarshals the merged settings into target.
func (m *Manager) Decode(target interface{}) error {
	if target == nil {
		return errors.New("target must not be nil")
	}
	if err := m.Load(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Unmarshal(target)
}

// GetString returns the merged value of key as a string.
func (m *Manager) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.GetString(key)
}

// AllSettings returns the merged settings as a nested map.
func (m *Manager) AllSettings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.AllSettings()
}
