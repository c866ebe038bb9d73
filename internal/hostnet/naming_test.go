package hostnet

import "testing"

func TestInterfaceNaming(t *testing.T) {
	const labID = "1a2b3c4d"
	tests := []struct {
		got  string
		want string
	}{
		{LinkBridgeA(0, labID), "bra0-1a2b3c4d"},
		{LinkBridgeB(0, labID), "brb0-1a2b3c4d"},
		{LinkVethA(0, labID), "vea0-1a2b3c4d"},
		{LinkVethB(0, labID), "veb0-1a2b3c4d"},
		{SharedBridge(2, labID), "bs2-1a2b3c4d"},
		{LinkBridgeA(12, labID), "bra12-1a2b3c4d"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("interface name = %q, want %q", tt.got, tt.want)
		}
	}
}

// Generated names stay within IFNAMSIZ (15 usable bytes) up to three-digit
// link indices, since the kernel rejects anything longer. Single-host labs
// never get near a thousand links.
func TestInterfaceNamesFitIFNAMSIZ(t *testing.T) {
	const labID = "ffffffff"
	for _, name := range []string{
		LinkBridgeA(999, labID),
		LinkBridgeB(999, labID),
		LinkVethA(999, labID),
		LinkVethB(999, labID),
		SharedBridge(999, labID),
	} {
		if len(name) > 15 {
			t.Errorf("interface name %q is %d bytes, exceeds IFNAMSIZ", name, len(name))
		}
	}
}
