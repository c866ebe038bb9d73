package ztp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LabInfo is the lab-info.toml snapshot written into a lab's working
// directory once management settlement completes. Field
// names match the manifest's own toml style rather than the store's
// json tags, since this file is meant to be read by a human or a
// client script, not round-tripped back into the store.
type LabInfo struct {
	ID              string `toml:"id"`
	Name            string `toml:"name"`
	User            string `toml:"user"`
	IPv4Network     string `toml:"ipv4_network"`
	IPv4Gateway     string `toml:"ipv4_gateway"`
	IPv4Router      string `toml:"ipv4_router"`
	LoopbackNetwork string `toml:"loopback_network"`
}

// WriteLabInfo renders info as TOML to <labDir>/lab-info.toml.
func WriteLabInfo(info LabInfo, labDir string) error {
	if err := os.MkdirAll(labDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(labDir, "lab-info.toml"))
	if err != nil {
		return fmt.Errorf("create lab-info.toml: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(info); err != nil {
		return fmt.Errorf("encode lab-info.toml: %w", err)
	}
	return nil
}

// SSHHost is one node's connection entry in the generated ssh_config.
type SSHHost struct {
	Alias    string
	HostName string
	User     string
	Port     int
}

// WriteSSHConfig renders an OpenSSH client config listing one Host block
// per settled node, so `ssh -F labs/<lab_id>/ssh_config <node>` works
// without the user tracking per-node management addresses by hand.
func WriteSSHConfig(hosts []SSHHost, labDir string) error {
	if err := os.MkdirAll(labDir, 0o755); err != nil {
		return err
	}

	var b strings.Builder
	for _, h := range hosts {
		if h.HostName == "" {
			continue
		}
		port := h.Port
		if port == 0 {
			port = 22
		}
		fmt.Fprintf(&b, "Host %s\n", h.Alias)
		fmt.Fprintf(&b, "    HostName %s\n", h.HostName)
		fmt.Fprintf(&b, "    Port %d\n", port)
		if h.User != "" {
			fmt.Fprintf(&b, "    User %s\n", h.User)
		}
		b.WriteString("    StrictHostKeyChecking no\n")
		b.WriteString("    UserKnownHostsFile /dev/null\n\n")
	}

	return os.WriteFile(filepath.Join(labDir, "ssh_config"), []byte(b.String()), 0o644)
}
