package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// WorkspaceFolderPlaceholder is replaced with the first workspace root in the
// working-directory template.
const WorkspaceFolderPlaceholder = "${workspaceFolder}"

// Sentinel errors matched by ConfigError.Is.
var (
	ErrMissingField    = errors.New("missing required setting")
	ErrNoWorkspaceRoot = errors.New("no workspace folder found")
)

// ErrorKind classifies a ConfigError.
type ErrorKind int

// ConfigError kinds.
const (
	MissingField ErrorKind = iota + 1
	NoWorkspaceRoot
)

// ConfigError reports why a LaunchSpec could not be built.
// It is never retryable: the same settings fail the same way.
type ConfigError struct {
	Kind  ErrorKind
	Field string // toml key, set for MissingField
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("server.%s: %v", e.Field, ErrMissingField)
	case NoWorkspaceRoot:
		return fmt.Sprintf("server.cwd uses %s: %v", WorkspaceFolderPlaceholder, ErrNoWorkspaceRoot)
	default:
		return "invalid server configuration"
	}
}

// Is lets errors.Is match the sentinel for the error's kind.
func (e *ConfigError) Is(target error) bool {
	switch e.Kind {
	case MissingField:
		return target == ErrMissingField
	case NoWorkspaceRoot:
		return target == ErrNoWorkspaceRoot
	}
	return false
}

// LaunchSpec describes how to spawn the language server. It is built fresh for
// every start attempt and must not be modified afterwards.
type LaunchSpec struct {
	Command string   `toml:"command" json:"command"`
	Args    []string `toml:"args" json:"args"`
	Dir     string   `toml:"cwd" json:"cwd"`
}

// RootProvider exposes the open workspace roots. Only the first is used.
type RootProvider interface {
	Roots() []string
}

// RootsFunc adapts a function to RootProvider.
type RootsFunc func() []string

// Roots implements RootProvider.
func (f RootsFunc) Roots() []string { return f() }

// Resolve builds a LaunchSpec from the [server] settings.
func Resolve(s ServerSettings, roots RootProvider) (LaunchSpec, error) {
	cwd := s.Cwd
	if cwd == "" {
		return LaunchSpec{}, &ConfigError{Kind: MissingField, Field: "cwd"}
	}

	if strings.Contains(cwd, WorkspaceFolderPlaceholder) {
		var available []string
		if roots != nil {
			available = roots.Roots()
		}
		if len(available) == 0 {
			return LaunchSpec{}, &ConfigError{Kind: NoWorkspaceRoot}
		}
		cwd = strings.Replace(cwd, WorkspaceFolderPlaceholder, available[0], 1)
	}

	if s.Command == "" {
		return LaunchSpec{}, &ConfigError{Kind: MissingField, Field: "command"}
	}
	if s.LaunchScript == "" {
		return LaunchSpec{}, &ConfigError{Kind: MissingField, Field: "launch_script"}
	}

	args := make([]string, 0, 1+len(s.LaunchArgs))
	args = append(args, s.LaunchScript)
	args = append(args, s.LaunchArgs...)

	return LaunchSpec{
		Command: s.Command,
		Args:    slices.Clip(args),
		Dir:     cwd,
	}, nil
}
