package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lspvisor.toml")
	content := `
[server]
cwd = "${workspaceFolder}"
command = "python3"
launch_script = "lsp_server.py"
launch_args = ["--stdio", "-v"]
language = "python"
handshake_timeout = "10s"

[workspace]
folders = ["/proj"]

[logging]
level = "debug"
format = "json"
supervisor = "warn"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if f.Server.Command != "python3" || f.Server.LaunchScript != "lsp_server.py" {
		t.Errorf("unexpected server section: %+v", f.Server)
	}
	if want := []string{"--stdio", "-v"}; !reflect.DeepEqual(f.Server.LaunchArgs, want) {
		t.Errorf("LaunchArgs = %v, want %v", f.Server.LaunchArgs, want)
	}
	if want := []string{"/proj"}; !reflect.DeepEqual(f.Workspace.Folders, want) {
		t.Errorf("Folders = %v, want %v", f.Workspace.Folders, want)
	}

	handshake, shutdown := f.Server.Timeouts()
	if handshake != 10*time.Second {
		t.Errorf("handshake = %v, want 10s", handshake)
	}
	if shutdown != 0 {
		t.Errorf("shutdown = %v, want 0 when unset", shutdown)
	}

	logCfg := f.LoggingConfig()
	if logCfg.Level != "debug" || logCfg.Format != "json" {
		t.Errorf("logging = %+v", logCfg)
	}
	if logCfg.Modules["supervisor"] != "warn" {
		t.Errorf("supervisor level = %q, want warn", logCfg.Modules["supervisor"])
	}
	if _, ok := logCfg.Modules["level"]; ok {
		t.Error("global keys must not appear as modules")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestTargetLanguage(t *testing.T) {
	if got := (ServerSettings{}).TargetLanguage(); got != DefaultLanguage {
		t.Errorf("TargetLanguage() = %q, want %q", got, DefaultLanguage)
	}
	if got := (ServerSettings{Language: "go"}).TargetLanguage(); got != "go" {
		t.Errorf("TargetLanguage() = %q, want go", got)
	}
}

func TestChangedSections(t *testing.T) {
	base := File{
		Server:    ServerSettings{Cwd: "/a", Command: "python3", LaunchScript: "main.py"},
		Workspace: WorkspaceSettings{Folders: []string{"/proj"}},
		Logging:   map[string]string{"level": "info"},
	}

	tests := []struct {
		name   string
		mutate func(*File)
		want   []string
	}{
		{"identical", func(*File) {}, nil},
		{"empty args equal nil", func(f *File) { f.Server.LaunchArgs = []string{} }, nil},
		{"empty logging equal nil", func(f *File) { f.Logging = nil }, nil},
		{"server", func(f *File) { f.Server.Command = "pypy3" }, []string{SectionServer}},
		{"workspace", func(f *File) { f.Workspace.Folders = []string{"/other"} }, []string{SectionWorkspace}},
		{"logging", func(f *File) { f.Logging = map[string]string{"level": "debug"} }, []string{SectionLogging}},
		{
			"all",
			func(f *File) {
				f.Server.Language = "go"
				f.Workspace.Folders = nil
				f.Logging = map[string]string{"format": "json"}
			},
			[]string{SectionServer, SectionWorkspace, SectionLogging},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := base
			if tt.name == "empty logging equal nil" {
				prev.Logging = map[string]string{}
			}
			next := base
			next.Server = base.Server.clone()
			tt.mutate(&next)

			got := next.ChangedSections(prev)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChangedSections = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreReplace(t *testing.T) {
	store := NewStore(File{Server: ServerSettings{Command: "python3"}})

	if changed := store.Replace(File{Server: ServerSettings{Command: "python3"}}); len(changed) != 0 {
		t.Errorf("Replace with same content reported %v", changed)
	}

	changed := store.Replace(File{
		Server:    ServerSettings{Command: "pypy3"},
		Workspace: WorkspaceSettings{Folders: []string{"/proj"}},
	})
	if want := []string{SectionServer, SectionWorkspace}; !reflect.DeepEqual(changed, want) {
		t.Errorf("Replace = %v, want %v", changed, want)
	}
	if got := store.Server().Command; got != "pypy3" {
		t.Errorf("Server().Command = %q, want pypy3", got)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore(File{
		Server:    ServerSettings{LaunchArgs: []string{"--stdio"}},
		Workspace: WorkspaceSettings{Folders: []string{"/proj"}},
	})

	s := store.Server()
	s.LaunchArgs[0] = "--tcp"
	w := store.Workspace()
	w.Folders[0] = "/elsewhere"

	if got := store.Server().LaunchArgs[0]; got != "--stdio" {
		t.Errorf("LaunchArgs mutated through copy: %q", got)
	}
	if got := store.File().Workspace.Folders[0]; got != "/proj" {
		t.Errorf("Folders mutated through copy: %q", got)
	}
}
