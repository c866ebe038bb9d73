package ztp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestWriteLabInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := LabInfo{
		ID:              "1a2b3c4d",
		Name:            "hello",
		User:            "alice",
		IPv4Network:     "172.16.1.0/24",
		IPv4Gateway:     "172.16.1.1",
		IPv4Router:      "172.16.1.1",
		LoopbackNetwork: "127.0.0.0/30",
	}

	if err := WriteLabInfo(want, dir); err != nil {
		t.Fatalf("WriteLabInfo() error = %v", err)
	}

	var got LabInfo
	if _, err := toml.DecodeFile(filepath.Join(dir, "lab-info.toml"), &got); err != nil {
		t.Fatalf("decode lab-info.toml: %v", err)
	}
	if got != want {
		t.Errorf("lab-info.toml round trip = %+v, want %+v", got, want)
	}
}

func TestWriteSSHConfig(t *testing.T) {
	dir := t.TempDir()
	hosts := []SSHHost{
		{Alias: "r1", HostName: "172.16.1.2", User: "admin"},
		{Alias: "r2", HostName: "172.16.1.3", User: "admin", Port: 2222},
		{Alias: "unsettled", HostName: ""}, // no address captured; skipped
	}

	if err := WriteSSHConfig(hosts, dir); err != nil {
		t.Fatalf("WriteSSHConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ssh_config"))
	if err != nil {
		t.Fatalf("read ssh_config: %v", err)
	}
	cfg := string(data)

	for _, want := range []string{
		"Host r1\n", "HostName 172.16.1.2", "Port 22\n",
		"Host r2\n", "HostName 172.16.1.3", "Port 2222",
		"User admin", "StrictHostKeyChecking no",
	} {
		if !strings.Contains(cfg, want) {
			t.Errorf("ssh_config missing %q:\n%s", want, cfg)
		}
	}
	if strings.Contains(cfg, "unsettled") {
		t.Errorf("ssh_config contains entry for host with no address:\n%s", cfg)
	}
}
