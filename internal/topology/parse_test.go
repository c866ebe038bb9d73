package topology

import "testing"

func TestParseManifest(t *testing.T) {
	src := `
[[nodes]]
name = "r1"
model = "cisco_iosv"

[[nodes]]
name = "r2"
model = "cisco_iosv"

[[links]]
kind = "p2p_veth"
src = "r1::Gi0/1"
dst = "r2::Gi0/1"
`
	m, err := ParseManifest([]byte(src))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if len(m.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(m.Nodes))
	}
	if len(m.Links) != 1 || m.Links[0].A != "r1::Gi0/1" {
		t.Fatalf("Links = %+v", m.Links)
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest([]byte("not valid toml {{{"))
	if err == nil {
		t.Error("ParseManifest() expected error for malformed input")
	}
}
