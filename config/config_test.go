package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	vmerrors "github.com/wippyai/ancvm/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Runtime != def.Runtime || cfg.Log != def.Log || cfg.Path != "" {
		t.Errorf("got %+v, want defaults", cfg)
	}
	home, err := os.UserHomeDir()
	if err == nil && cfg.Repository.Paths[1] != filepath.Join(home, ".ancvm/modules") {
		t.Errorf("repository path = %q, want expanded home", cfg.Repository.Paths[1])
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[runtime]
max_call_depth = 64
max_heap = 4096

[repository]
paths = ["/opt/modules"]

[log]
level = "debug"
development = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Runtime{MaxCallDepth: 64, MaxStack: Default().Runtime.MaxStack, MaxHeap: 4096}
	if cfg.Runtime != want {
		t.Errorf("runtime = %+v, want %+v", cfg.Runtime, want)
	}
	if len(cfg.Repository.Paths) != 1 || cfg.Repository.Paths[0] != "/opt/modules" {
		t.Errorf("paths = %v", cfg.Repository.Paths)
	}
	if !cfg.Log.Development || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind vmerrors.Kind
		want string
	}{
		{"syntax", "[runtime\n", vmerrors.KindInvalidData, "parse config"},
		{"unknown key", "[runtime]\nmax_threads = 4\n", vmerrors.KindInvalidData, "runtime.max_threads"},
		{"zero depth", "[runtime]\nmax_call_depth = 0\n", vmerrors.KindInvalidInput, "max_call_depth"},
		{"negative stack", "[runtime]\nmax_stack = -1\n", vmerrors.KindInvalidInput, "max_stack"},
		{"zero heap", "[runtime]\nmax_heap = 0\n", vmerrors.KindInvalidInput, "max_heap"},
		{"log level", "[log]\nlevel = \"loud\"\n", vmerrors.KindInvalidInput, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var e *vmerrors.Error
			if !errors.As(err, &e) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if e.Phase != vmerrors.PhaseConfig || e.Kind != tt.kind {
				t.Errorf("got %s/%s, want config/%s", e.Phase, e.Kind, tt.kind)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/mods", filepath.Join(home, "mods")},
		{"~user/mods", "~user/mods"},
		{"/abs", "/abs"},
		{"rel/~", "rel/~"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	path := writeConfig(t, Default().String())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(String()): %v", err)
	}
	if cfg.Runtime != Default().Runtime {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
}
