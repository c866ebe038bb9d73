package lifecycle

import (
	"context"
	"fmt"

	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/virt"
)

// wireLink creates the host-level network objects a link needs before any
// domain or container attaches to it. p2p_bridge and p2p_veth both get two
// private bridges joined by a veth pair — one bridge per side, so either
// end can be a VM or a container without the other needing to know which.
// p2p_udp needs nothing here: the tunnel is a property of each domain's
// own interface definition. shared_bridge creates one host bridge shared
// by both ends and wraps it in a libvirt network so VM interfaces can
// attach the same way they do to every other link kind.
func (e *Engine) wireLink(ctx context.Context, l *store.Link) error {
	switch l.Kind {
	case store.LinkP2PBridge, store.LinkP2PVeth:
		if err := e.hostnet.BridgeCreate(l.BridgeA); err != nil {
			return err
		}
		if err := e.hostnet.BridgeCreate(l.BridgeB); err != nil {
			return err
		}
		if err := e.hostnet.VethCreate(l.VethA, l.VethB); err != nil {
			return err
		}
		if err := e.hostnet.AttachToBridge(l.VethA, l.BridgeA); err != nil {
			return err
		}
		return e.hostnet.AttachToBridge(l.VethB, l.BridgeB)

	case store.LinkSharedBridge:
		if err := e.hostnet.BridgeCreate(l.BridgeA); err != nil {
			return err
		}
		return e.virt.NetworkCreate(ctx, virt.NetworkSpec{
			Name: linkNetworkName(l), Kind: virt.NetworkSharedBridge, Bridge: l.BridgeA,
		})

	case store.LinkP2PUDP:
		return nil

	default:
		return fmt.Errorf("unknown link kind %q", l.Kind)
	}
}

// linkNetworkName is the libvirt network name wrapping a shared_bridge
// link's host bridge, distinct from the multi-point Bridge entity's own
// NetworkName field so the two namespaces never collide within a lab.
func linkNetworkName(l *store.Link) string {
	return fmt.Sprintf("lnet%d-%s", l.Index, l.LabID)
}

// macvlanNetworkName is the Docker network a container's data interface on
// a given link or bridge attaches to, parented on the same host bridge a
// VM endpoint on that link/bridge would use.
func macvlanNetworkName(labID string, scope string, idx uint16) string {
	return fmt.Sprintf("dmac-%s%d-%s", scope, idx, labID)
}
