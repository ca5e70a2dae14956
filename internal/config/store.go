// Package config resolves channel configuration. Channel definitions live
// in a JSONC or YAML file with {env:VAR} interpolation; the store hands out
// an isolated snapshot copy on every lookup so a config observed by one
// generate call is immutable for that call's lifetime.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/modelrelay/modelrelay/internal/mcp"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// ProxyEnvVar overrides the configured outbound proxy.
const ProxyEnvVar = "MODELRELAY_PROXY"

// candidateFiles are probed in order inside the config directory.
var candidateFiles = []string{
	"modelrelay.jsonc",
	"modelrelay.json",
	"modelrelay.yaml",
	"modelrelay.yml",
}

// File is the on-disk configuration shape.
type File struct {
	// Proxy is the outbound proxy URL for all upstream traffic.
	Proxy    string                 `json:"proxy,omitempty" yaml:"proxy"`
	Channels []*types.ChannelConfig `json:"channels" yaml:"channels"`
	// MCP lists external MCP tool servers to connect at startup.
	MCP []mcp.ServerConfig `json:"mcp,omitempty" yaml:"mcp"`
}

// Store loads and serves channel configuration. Lookups reload the file
// whenever it changed on disk, so every generate call observes fresh
// configuration without a restart.
type Store struct {
	mu      sync.Mutex
	path    string
	dirty   bool
	current *File
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewStore creates a store rooted at dir. A missing config file is not an
// error; the store then serves no channels until one appears.
func NewStore(dir string, logger zerolog.Logger) *Store {
	var path string
	for _, name := range candidateFiles {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		path = filepath.Join(dir, candidateFiles[0])
	}

	return &Store{path: path, dirty: true, logger: logger}
}

// Watch starts invalidating the parsed snapshot on file changes. Without a
// watcher the snapshot still reloads on every lookup.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == s.path {
					s.logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("config changed")
					s.invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// snapshot returns the current parsed file, reloading when dirty. Without a
// running watcher every call reloads.
func (s *Store) snapshot() *File {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.dirty && s.watcher != nil {
		return s.current
	}

	file, err := loadFile(s.path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("loading config")
		if s.current != nil {
			return s.current
		}
		return &File{}
	}
	s.current = file
	s.dirty = false
	return file
}

// Channel implements the dispatcher's ConfigSource: an isolated copy of the
// channel config, fresh per call.
func (s *Store) Channel(id string) (*types.ChannelConfig, bool) {
	for _, c := range s.snapshot().Channels {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return nil, false
}

// Channels lists isolated copies of every configured channel.
func (s *Store) Channels() []*types.ChannelConfig {
	src := s.snapshot().Channels
	out := make([]*types.ChannelConfig, 0, len(src))
	for _, c := range src {
		out = append(out, c.Clone())
	}
	return out
}

// MCPServers lists the configured MCP tool servers.
func (s *Store) MCPServers() []mcp.ServerConfig {
	return s.snapshot().MCP
}

// ProxyURL returns the effective outbound proxy: the environment override
// wins over the configured value.
func (s *Store) ProxyURL() string {
	if env := os.Getenv(ProxyEnvVar); env != "" {
		return env
	}
	return s.snapshot().Proxy
}

// loadFile reads and parses one config file.
func loadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = interpolate(data)

	var file File
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, err
		}
	}

	for _, c := range file.Channels {
		if key := os.Getenv(apiKeyEnvVar(c.ID)); key != "" {
			c.APIKey = key
		}
	}
	return &file, nil
}

// apiKeyEnvVar is the per-channel credential override, e.g. channel "main"
// reads MODELRELAY_MAIN_API_KEY.
func apiKeyEnvVar(channelID string) string {
	id := strings.ToUpper(strings.ReplaceAll(channelID, "-", "_"))
	return "MODELRELAY_" + id + "_API_KEY"
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders with environment values, so
// credentials never have to live in the file itself.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
