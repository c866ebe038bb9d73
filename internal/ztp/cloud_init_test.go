package ztp

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func testNodeSpec(t *testing.T) NodeSpec {
	t.Helper()
	mac, err := net.ParseMAC("52:54:00:ab:cd:ef")
	if err != nil {
		t.Fatalf("parse mac: %v", err)
	}
	_, mgmtNet, err := net.ParseCIDR("172.16.1.0/24")
	if err != nil {
		t.Fatalf("parse cidr: %v", err)
	}
	return NodeSpec{
		LabID:       "1a2b3c4d",
		NodeName:    "r1",
		Hostname:    "r1",
		Username:    "admin",
		Password:    "admin",
		SSHKeys:     []string{"ssh-ed25519 AAAA... alice@host"},
		MgmtMAC:     mac,
		MgmtIPv4:    net.IPv4(172, 16, 1, 2),
		MgmtNetwork: mgmtNet,
		GatewayIPv4: net.IPv4(172, 16, 1, 1),
		ZTPServerIP: net.IPv4(172, 16, 1, 1),
	}
}

func TestBuildCloudInitProducesSeedImage(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "r1", "cidata.iso")

	if err := BuildCloudInit(testNodeSpec(t), out); err != nil {
		t.Fatalf("BuildCloudInit() error = %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat cidata.iso: %v", err)
	}
	if info.Size() == 0 {
		t.Error("cidata.iso is empty")
	}
}

func TestCIDRPrefixLenDefaultsTo24(t *testing.T) {
	spec := NodeSpec{}
	if got := spec.cidrPrefixLen(); got != 24 {
		t.Errorf("cidrPrefixLen() with no network = %d, want 24", got)
	}

	_, n, _ := net.ParseCIDR("10.0.0.0/16")
	spec.MgmtNetwork = n
	if got := spec.cidrPrefixLen(); got != 16 {
		t.Errorf("cidrPrefixLen() = %d, want 16", got)
	}
}
