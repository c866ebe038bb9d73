package ztp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs"
	diskpkg "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"
	"gopkg.in/yaml.v3"
)

// metaData is cloud-init's instance identity document.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// networkConfig is a cloud-init network-config v2 document with a single
// MAC-matched ethernet entry for the management interface, so the guest
// binds its management address to the right NIC no matter how the kernel
// enumerates them.
type networkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]ethernetConfig `yaml:"ethernets"`
}

type ethernetConfig struct {
	Match       matchConfig `yaml:"match"`
	Addresses   []string    `yaml:"addresses"`
	Routes      []routeEntry `yaml:"routes"`
	Nameservers nameservers `yaml:"nameservers"`
}

type matchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

type routeEntry struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type nameservers struct {
	Addresses []string `yaml:"addresses"`
}

// userData is the #cloud-config document.
type userData struct {
	Hostname        string           `yaml:"hostname"`
	FQDN            string           `yaml:"fqdn"`
	ManageEtcHosts  bool             `yaml:"manage_etc_hosts"`
	SSHPasswordAuth bool             `yaml:"ssh_pwauth"`
	Users           []cloudInitUser  `yaml:"users"`
	Runcmd          []string         `yaml:"runcmd,omitempty"`
}

type cloudInitUser struct {
	Name               string   `yaml:"name"`
	PlainTextPasswd    string   `yaml:"plain_text_passwd"`
	LockPasswd         bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys  []string `yaml:"ssh_authorized_keys"`
	Sudo               string   `yaml:"sudo"`
	Groups             []string `yaml:"groups"`
	Shell              string   `yaml:"shell"`
}

// BuildCloudInit renders user-data, meta-data, and network-config and
// packs them into a "cidata"-labeled ISO-9660 image at outPath, the seed
// volume cloud-init looks for on a block device labeled cidata attached to
// the VM.
func BuildCloudInit(n NodeSpec, outPath string) error {
	md := metaData{InstanceID: n.LabID + "/" + n.NodeName, LocalHostname: n.Hostname}
	mdBytes, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal meta-data: %w", err)
	}

	nc := networkConfig{
		Version: 2,
		Ethernets: map[string]ethernetConfig{
			"id0": {
				Match:     matchConfig{MACAddress: n.MgmtMAC.String()},
				Addresses: []string{fmt.Sprintf("%s/%d", n.MgmtIPv4, n.cidrPrefixLen())},
				Routes:    []routeEntry{{To: "0.0.0.0/0", Via: n.GatewayIPv4.String()}},
				Nameservers: nameservers{
					Addresses: []string{n.ZTPServerIP.String()},
				},
			},
		},
	}
	ncBytes, err := yaml.Marshal(nc)
	if err != nil {
		return fmt.Errorf("marshal network-config: %w", err)
	}

	ud := userData{
		Hostname:        n.Hostname,
		FQDN:            n.Hostname,
		ManageEtcHosts:  true,
		SSHPasswordAuth: n.Password != "",
		Users: []cloudInitUser{{
			Name:              n.Username,
			PlainTextPasswd:   n.Password,
			LockPasswd:        false,
			SSHAuthorizedKeys: n.SSHKeys,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Groups:            []string{"sudo"},
			Shell:             "/bin/bash",
		}},
	}
	udYAML, err := yaml.Marshal(ud)
	if err != nil {
		return fmt.Errorf("marshal user-data: %w", err)
	}
	udBytes := append([]byte("#cloud-config\n"), udYAML...)

	return writeISO9660(outPath, "cidata", map[string][]byte{
		"user-data":      udBytes,
		"meta-data":      mdBytes,
		"network-config": ncBytes,
	})
}

// writeISO9660 assembles a fixed-size ISO-9660 image at path containing
// files, using go-diskfs the way an attached block device for cloud-init
// NoCloud/cidata discovery is conventionally built.
func writeISO9660(path, volumeLabel string, files map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var total int64 = 1 << 20 // 1 MiB is comfortably larger than a ZTP seed's text files
	disk, err := diskfs.Create(path, total, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("create iso image: %w", err)
	}

	fs, err := disk.CreateFilesystem(diskpkg.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeISO9660,
		VolumeLabel: volumeLabel,
	})
	if err != nil {
		return fmt.Errorf("create iso9660 filesystem: %w", err)
	}

	for name, contents := range files {
		f, err := fs.OpenFile("/"+name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return fmt.Errorf("open %s in iso image: %w", name, err)
		}
		if _, err := f.Write(contents); err != nil {
			return fmt.Errorf("write %s in iso image: %w", name, err)
		}
	}

	iso, ok := fs.(*iso9660.FileSystem)
	if !ok {
		return fmt.Errorf("unexpected filesystem type %T", fs)
	}
	return iso.Finalize(iso9660.FinalizeOptions{})
}
