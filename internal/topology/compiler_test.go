package topology

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/bwks/sherpa/internal/sherr"
)

// fakeLookup stands in for internal/images' model registry: a single
// cisco_iosv model with three data interfaces and no dedicated management
// interface.
type fakeLookup struct{}

func (fakeLookup) ModelInfo(model string) (ModelInfo, error) {
	if model != "cisco_iosv" {
		return ModelInfo{}, fmt.Errorf("unknown model %q", model)
	}
	return ModelInfo{DataInterfaceCount: 3, ReservedInterfaceCount: 0, DedicatedManagementInterface: false}, nil
}

// fakeResolve implements the "GigabitEthernet0/<n>" grammar cisco_iosv
// devices use, short-formed "Gi0/<n>" in manifests.
func fakeResolve(model, name string) (uint8, error) {
	const prefix = "Gi0/"
	if !strings.HasPrefix(name, prefix) {
		return 0, fmt.Errorf("unrecognized interface %q", name)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

func twoRouterManifest() Manifest {
	return Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r2", Model: "cisco_iosv"},
		},
		Links: []Link{
			{Kind: "p2p_veth", A: "r1::Gi0/1", B: "r2::Gi0/1"},
		},
	}
}

func TestCompile_TwoRouterHello(t *testing.T) {
	got, err := Compile(twoRouterManifest(), fakeLookup{}, fakeResolve)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if len(got.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(got.Nodes))
	}
	if got.Nodes[0].Index != 1 || got.Nodes[1].Index != 2 {
		t.Errorf("node indices = %d,%d want 1,2", got.Nodes[0].Index, got.Nodes[1].Index)
	}

	if len(got.Links) != 1 {
		t.Fatalf("len(Links) = %d, want 1", len(got.Links))
	}
	link := got.Links[0]
	if link.LinkIdx != 0 {
		t.Errorf("link.LinkIdx = %d, want 0", link.LinkIdx)
	}
	if link.IntAIdx != 1 || link.IntBIdx != 1 {
		t.Errorf("link interface indices = %d,%d want 1,1", link.IntAIdx, link.IntBIdx)
	}
	if link.NodeAIdx != 1 || link.NodeBIdx != 2 {
		t.Errorf("link node indices = %d,%d want 1,2", link.NodeAIdx, link.NodeBIdx)
	}
}

func TestCompile_DuplicateNodeNames(t *testing.T) {
	m := Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r1", Model: "cisco_iosv"},
		},
	}

	_, err := Compile(m, fakeLookup{}, fakeResolve)
	serr, ok := err.(*sherr.Error)
	if !ok {
		t.Fatalf("Compile() error = %v, want *sherr.Error", err)
	}
	if serr.Code != sherr.DuplicateNode {
		t.Errorf("error code = %v, want DuplicateNode", serr.Code)
	}
	if serr.Context != "r1" {
		t.Errorf("error context = %q, want r1", serr.Context)
	}
}

func TestCompile_InterfaceOutOfBounds(t *testing.T) {
	m := Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r2", Model: "cisco_iosv"},
		},
		Links: []Link{
			{Kind: "p2p_veth", A: "r1::Gi0/99", B: "r2::Gi0/1"},
		},
	}

	_, err := Compile(m, fakeLookup{}, fakeResolve)
	serr, ok := err.(*sherr.Error)
	if !ok {
		t.Fatalf("Compile() error = %v, want *sherr.Error", err)
	}
	if serr.Code != sherr.InterfaceOutOfBound {
		t.Errorf("error code = %v, want InterfaceOutOfBound", serr.Code)
	}
}

func TestCompile_UnknownNodeInLink(t *testing.T) {
	m := Manifest{
		Nodes: []Node{{Name: "r1", Model: "cisco_iosv"}},
		Links: []Link{{Kind: "p2p_veth", A: "r1::Gi0/1", B: "ghost::Gi0/1"}},
	}

	_, err := Compile(m, fakeLookup{}, fakeResolve)
	serr, ok := err.(*sherr.Error)
	if !ok {
		t.Fatalf("Compile() error = %v, want *sherr.Error", err)
	}
	if serr.Code != sherr.ManifestInvalid {
		t.Errorf("error code = %v, want ManifestInvalid", serr.Code)
	}
}

func TestCompile_DuplicateInterfaceUsage(t *testing.T) {
	m := Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r2", Model: "cisco_iosv"},
			{Name: "r3", Model: "cisco_iosv"},
		},
		Links: []Link{
			{Kind: "p2p_veth", A: "r1::Gi0/1", B: "r2::Gi0/1"},
			{Kind: "p2p_veth", A: "r1::Gi0/1", B: "r3::Gi0/1"},
		},
	}

	_, err := Compile(m, fakeLookup{}, fakeResolve)
	serr, ok := err.(*sherr.Error)
	if !ok {
		t.Fatalf("Compile() error = %v, want *sherr.Error", err)
	}
	if serr.Code != sherr.ManifestInvalid {
		t.Errorf("error code = %v, want ManifestInvalid", serr.Code)
	}
}

func TestCompile_MgmtInterfaceAsDataLinkRejected(t *testing.T) {
	m := Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r2", Model: "cisco_iosv"},
		},
		Links: []Link{
			{Kind: "p2p_veth", A: "r1::Gi0/0", B: "r2::Gi0/1"},
		},
	}

	_, err := Compile(m, fakeLookup{}, fakeResolve)
	serr, ok := err.(*sherr.Error)
	if !ok {
		t.Fatalf("Compile() error = %v, want *sherr.Error", err)
	}
	if serr.Code != sherr.MgmtMisuse {
		t.Errorf("error code = %v, want MgmtMisuse", serr.Code)
	}
}

func TestCompile_BridgeMembers(t *testing.T) {
	m := Manifest{
		Nodes: []Node{
			{Name: "r1", Model: "cisco_iosv"},
			{Name: "r2", Model: "cisco_iosv"},
			{Name: "r3", Model: "cisco_iosv"},
		},
		Bridges: []Bridge{
			{Name: "br-core", Members: []string{"r1::Gi0/1", "r2::Gi0/1", "r3::Gi0/1"}},
		},
	}

	got, err := Compile(m, fakeLookup{}, fakeResolve)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(got.Bridges) != 1 {
		t.Fatalf("len(Bridges) = %d, want 1", len(got.Bridges))
	}
	if len(got.Bridges[0].Members) != 3 {
		t.Fatalf("len(Members) = %d, want 3", len(got.Bridges[0].Members))
	}
}
