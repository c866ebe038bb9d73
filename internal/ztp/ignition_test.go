package ztp

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildIgnition(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "n1", "ignition.ign")

	spec := NodeSpec{
		LabID:    "1a2b3c4d",
		NodeName: "n1",
		Hostname: "n1",
		Username: "admin",
		Password: "$6$fakehash",
		SSHKeys:  []string{"ssh-ed25519 AAAA... alice@host"},
	}
	if err := BuildIgnition(spec, out); err != nil {
		t.Fatalf("BuildIgnition() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read ignition.ign: %v", err)
	}

	var cfg struct {
		Ignition struct {
			Version string `json:"version"`
		} `json:"ignition"`
		Passwd struct {
			Users []struct {
				Name              string   `json:"name"`
				PasswordHash      string   `json:"passwordHash"`
				SSHAuthorizedKeys []string `json:"sshAuthorizedKeys"`
			} `json:"users"`
		} `json:"passwd"`
		Storage struct {
			Files []struct {
				Path     string `json:"path"`
				Contents struct {
					Source string `json:"source"`
				} `json:"contents"`
			} `json:"files"`
		} `json:"storage"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("ignition.ign is not valid JSON: %v", err)
	}

	if cfg.Ignition.Version == "" {
		t.Error("ignition version missing")
	}
	if len(cfg.Passwd.Users) != 1 || cfg.Passwd.Users[0].Name != "admin" {
		t.Fatalf("users = %+v, want one user named admin", cfg.Passwd.Users)
	}
	if len(cfg.Passwd.Users[0].SSHAuthorizedKeys) != 1 {
		t.Errorf("sshAuthorizedKeys = %v, want 1 key", cfg.Passwd.Users[0].SSHAuthorizedKeys)
	}

	if len(cfg.Storage.Files) != 1 || cfg.Storage.Files[0].Path != "/etc/hostname" {
		t.Fatalf("files = %+v, want a single /etc/hostname entry", cfg.Storage.Files)
	}
	src := cfg.Storage.Files[0].Contents.Source
	const prefix = "data:;base64,"
	if !strings.HasPrefix(src, prefix) {
		t.Fatalf("hostname source = %q, want a data URL", src)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(src, prefix))
	if err != nil {
		t.Fatalf("decode hostname contents: %v", err)
	}
	if string(decoded) != "n1\n" {
		t.Errorf("hostname contents = %q, want %q", decoded, "n1\n")
	}
}
