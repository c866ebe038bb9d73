package lifecycle

import (
	"net"
	"testing"

	"github.com/bwks/sherpa/internal/store"
)

func TestResourceNaming(t *testing.T) {
	const labID = "1a2b3c4d"
	if got := domainName(labID, "r1"); got != "1a2b3c4d-r1" {
		t.Errorf("domainName() = %q", got)
	}
	if got := containerName(labID, "h1"); got != "1a2b3c4d-h1" {
		t.Errorf("containerName() = %q", got)
	}
	if got := networkName(labID, "bs", 2); got != "bs2-1a2b3c4d" {
		t.Errorf("networkName() = %q", got)
	}
	if got := seedVolumeName(labID, "r1"); got != "1a2b3c4d-r1-seed" {
		t.Errorf("seedVolumeName() = %q", got)
	}
}

func TestManagementAddressing(t *testing.T) {
	_, mgmtNet, err := net.ParseCIDR("172.16.1.0/24")
	if err != nil {
		t.Fatalf("parse cidr: %v", err)
	}

	if got := firstUsableIP(mgmtNet); !got.Equal(net.IPv4(172, 16, 1, 1)) {
		t.Errorf("firstUsableIP() = %v, want 172.16.1.1", got)
	}

	// Index 0 is the DHCP/ZTP server slot and coincides with the
	// gateway; real nodes start at index 1.
	if got := hostIP(mgmtNet, 0); !got.Equal(net.IPv4(172, 16, 1, 1)) {
		t.Errorf("hostIP(0) = %v, want 172.16.1.1", got)
	}
	if got := hostIP(mgmtNet, 1); !got.Equal(net.IPv4(172, 16, 1, 2)) {
		t.Errorf("hostIP(1) = %v, want 172.16.1.2", got)
	}
	if got := hostIP(mgmtNet, 2); !got.Equal(net.IPv4(172, 16, 1, 3)) {
		t.Errorf("hostIP(2) = %v, want 172.16.1.3", got)
	}
}

func TestZTPArtifactPath(t *testing.T) {
	tests := []struct {
		method store.ZTPMethod
		want   string
	}{
		{store.ZTPCloudInit, "labs/1a2b3c4d/r1/cidata.iso"},
		{store.ZTPIgnition, "labs/1a2b3c4d/r1/ignition.ign"},
		{store.ZTPVendorFlash, "labs/1a2b3c4d/r1/flash.img"},
		{store.ZTPNone, ""},
	}
	for _, tt := range tests {
		if got := ztpArtifactPath("labs/1a2b3c4d", "r1", tt.method); got != tt.want {
			t.Errorf("ztpArtifactPath(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestSeedDeviceKind(t *testing.T) {
	if got := seedDeviceKind(store.ZTPCloudInit); got != "cdrom" {
		t.Errorf("seedDeviceKind(cloud_init) = %q, want cdrom", got)
	}
	if got := seedDeviceKind(store.ZTPIgnition); got != "disk" {
		t.Errorf("seedDeviceKind(ignition) = %q, want disk", got)
	}
	if got := seedDeviceKind(store.ZTPNone); got != "" {
		t.Errorf("seedDeviceKind(none) = %q, want empty", got)
	}
}

func TestUpSummaryFail(t *testing.T) {
	s := &UpSummary{LabID: "1a2b3c4d", Success: true}
	s.fail(1300, "r2", "image file missing")
	if s.Success {
		t.Error("Success still true after a recorded failure")
	}
	if len(s.Errors) != 1 || s.Errors[0].Resource != "r2" {
		t.Errorf("Errors = %+v", s.Errors)
	}
}
