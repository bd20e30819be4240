package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/lspvisor/internal/logging"
)

// Section names used in change notifications.
const (
	SectionServer    = "server"
	SectionWorkspace = "workspace"
	SectionLogging   = "logging"
)

// DefaultLanguage is the document language that wakes the server when no
// language is configured.
const DefaultLanguage = "python"

// ServerSettings is the [server] section. Empty strings mean "not set".
type ServerSettings struct {
	Cwd              string   `toml:"cwd"`
	Command          string   `toml:"command"`
	LaunchScript     string   `toml:"launch_script"`
	LaunchArgs       []string `toml:"launch_args"`
	Language         string   `toml:"language"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	ShutdownTimeout  string   `toml:"shutdown_timeout"`
}

// TargetLanguage returns the configured language or DefaultLanguage.
func (s ServerSettings) TargetLanguage() string {
	if s.Language == "" {
		return DefaultLanguage
	}
	return s.Language
}

// Timeouts parses the handshake and shutdown timeouts. Unset or invalid
// values yield zero, leaving the client defaults in place.
func (s ServerSettings) Timeouts() (handshake, shutdown time.Duration) {
	handshake, _ = time.ParseDuration(s.HandshakeTimeout)
	shutdown, _ = time.ParseDuration(s.ShutdownTimeout)
	return handshake, shutdown
}

func (s ServerSettings) clone() ServerSettings {
	s.LaunchArgs = slices.Clone(s.LaunchArgs)
	return s
}

// WorkspaceSettings is the [workspace] section.
type WorkspaceSettings struct {
	Folders []string `toml:"folders"`
}

// File is the parsed configuration file.
type File struct {
	Server    ServerSettings    `toml:"server"`
	Workspace WorkspaceSettings `toml:"workspace"`
	Logging   map[string]string `toml:"logging"`
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// LoggingConfig converts the [logging] section into a logging.Config.
// "level" and "format" are global; every other key is a module level.
func (f File) LoggingConfig() logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	for key, value := range f.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}

// ChangedSections lists the sections that differ between prev and f.
func (f File) ChangedSections(prev File) []string {
	var changed []string
	if !reflect.DeepEqual(normalizeServer(prev.Server), normalizeServer(f.Server)) {
		changed = append(changed, SectionServer)
	}
	if !slices.Equal(prev.Workspace.Folders, f.Workspace.Folders) {
		changed = append(changed, SectionWorkspace)
	}
	if !reflect.DeepEqual(normalizeMap(prev.Logging), normalizeMap(f.Logging)) {
		changed = append(changed, SectionLogging)
	}
	return changed
}

// normalizeServer treats nil and empty launch_args as equal.
func normalizeServer(s ServerSettings) ServerSettings {
	if len(s.LaunchArgs) == 0 {
		s.LaunchArgs = nil
	}
	return s
}

func normalizeMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

// Store holds the current configuration snapshot. Lookups are synchronous
// and return copies, so callers never observe a later reload mid-operation.
type Store struct {
	mu   sync.RWMutex
	file File
}

// NewStore creates a store seeded with f.
func NewStore(f File) *Store {
	return &Store{file: f}
}

// Server returns the [server] section.
func (s *Store) Server() ServerSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Server.clone()
}

// Workspace returns the [workspace] section.
func (s *Store) Workspace() WorkspaceSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return WorkspaceSettings{Folders: slices.Clone(s.file.Workspace.Folders)}
}

// File returns the whole snapshot.
func (s *Store) File() File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.file
	f.Server = f.Server.clone()
	f.Workspace.Folders = slices.Clone(f.Workspace.Folders)
	return f
}

// Replace swaps in a new snapshot and returns the sections that changed.
func (s *Store) Replace(f File) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := f.ChangedSections(s.file)
	s.file = f
	return changed
}
