package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvPrefix+"_CONFIG", "")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if len(cfg.STUNServers) != 4 {
		t.Errorf("STUNServers = %v", cfg.STUNServers)
	}
	if cfg.RoomTTL.Duration != DefaultRoomTTL {
		t.Errorf("RoomTTL = %v", cfg.RoomTTL)
	}
	if cfg.MaxFiles != 10 || cfg.MaxFileSize != 1<<30 {
		t.Errorf("limits = %d/%d", cfg.MaxFiles, cfg.MaxFileSize)
	}
	if cfg.TURNServers() != nil {
		t.Errorf("TURNServers = %v, want nil", cfg.TURNServers())
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
relay_url = "ws://file.example/ws"
room_ttl = "2m"
output_dir = "/from/file"
turn_server = "turn.file.example"
max_files = 3
`)

	t.Setenv(EnvPrefix+"_ROOM_TTL", "90s")
	t.Setenv(EnvPrefix+"_OUTPUT_DIR", "/from/env")

	cfg, err := Load(Options{ConfigFile: path, OutputDir: "/from/flag"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RelayURL != "ws://file.example/ws" {
		t.Errorf("RelayURL = %q, want file value", cfg.RelayURL)
	}
	if cfg.RoomTTL.Duration != 90*time.Second {
		t.Errorf("RoomTTL = %v, want env value", cfg.RoomTTL)
	}
	if cfg.OutputDir != "/from/flag" {
		t.Errorf("OutputDir = %q, want flag value", cfg.OutputDir)
	}
	if cfg.MaxFiles != 3 {
		t.Errorf("MaxFiles = %d, want file value", cfg.MaxFiles)
	}
	if got := cfg.TURNServers(); len(got) != 3 || got[0] != "turn:turn.file.example:3478?transport=udp" {
		t.Errorf("TURNServers = %v", got)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.toml")})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", `room_ttl = "soon"`},
		{"zero files", `max_files = 0`},
		{"negative size", `max_file_size = -1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(Options{ConfigFile: writeConfig(t, tt.body)}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
