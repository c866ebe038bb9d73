package ztp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ignitionConfig mirrors the subset of the Ignition v3 format Sherpa's
// unikernel and Linux-host nodes need: a user with a password hash and
// SSH keys plus a short inline file list.
type ignitionConfig struct {
	Ignition ignitionMeta    `json:"ignition"`
	Passwd   ignitionPasswd  `json:"passwd"`
	Storage  ignitionStorage `json:"storage"`
}

type ignitionMeta struct {
	Version string `json:"version"`
}

type ignitionPasswd struct {
	Users []ignitionUser `json:"users"`
}

type ignitionUser struct {
	Name              string   `json:"name"`
	PasswordHash      string   `json:"passwordHash,omitempty"`
	SSHAuthorizedKeys []string `json:"sshAuthorizedKeys,omitempty"`
}

type ignitionStorage struct {
	Files []ignitionFile `json:"files"`
}

type ignitionFile struct {
	Path     string           `json:"path"`
	Mode     int              `json:"mode"`
	Contents ignitionContents `json:"contents"`
}

type ignitionContents struct {
	Source string `json:"source"`
}

// BuildIgnition renders an Ignition JSON document for n and writes it to
// outPath; the lifecycle engine uploads it as a seed volume and attaches it
// to the domain as a plain disk. The hostname is delivered as an inline /etc/hostname file since
// Ignition has no dedicated hostname field.
func BuildIgnition(n NodeSpec, outPath string) error {
	cfg := ignitionConfig{
		Ignition: ignitionMeta{Version: "3.4.0"},
		Passwd: ignitionPasswd{
			Users: []ignitionUser{{
				Name:              n.Username,
				PasswordHash:      n.Password,
				SSHAuthorizedKeys: n.SSHKeys,
			}},
		},
		Storage: ignitionStorage{
			Files: []ignitionFile{{
				Path: "/etc/hostname",
				Mode: 0o644,
				Contents: ignitionContents{
					Source: dataURL(n.Hostname + "\n"),
				},
			}},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ignition config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

// dataURL encodes s as a base64 data: URL, the wire format Ignition's
// "source" field expects for inline file contents.
func dataURL(s string) string {
	return "data:;base64," + base64.StdEncoding.EncodeToString([]byte(s))
}
