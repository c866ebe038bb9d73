package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwks/sherpa/internal/allocator"
	"github.com/bwks/sherpa/internal/containers"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/virt"
)

// startDomain defines and starts one VM/unikernel node's libvirt domain:
// its base disk plus an optional ZTP seed volume, one management NIC on
// the lab's NAT network, and one data NIC per link or bridge membership
// the node participates in, keyed by resolved interface index.
func (e *Engine) startDomain(ctx context.Context, labID string, n *store.Node, img *store.NodeImage, links []*store.Link, bridges []*store.Bridge, members []*store.BridgeMember, mgmtNetwork string) error {
	name := domainName(labID, n.Name)

	disks := []virt.DiskSpec{{Pool: e.storagePoolName, Volume: name, Device: "disk"}}
	if dev := seedDeviceKind(img.ZTPMethod); dev != "" {
		disks = append(disks, virt.DiskSpec{Pool: e.storagePoolName, Volume: seedVolumeName(labID, n.Name), Device: dev})
	}

	byIdx := map[uint8]virt.InterfaceSpec{
		0: {MAC: n.MAC, Network: mgmtNetwork},
	}
	for _, l := range links {
		switch n.Name {
		case l.NodeA:
			byIdx[l.IntAIdx] = e.linkInterfaceSpec(labID, n, l, "a")
		case l.NodeB:
			byIdx[l.IntBIdx] = e.linkInterfaceSpec(labID, n, l, "b")
		}
	}
	for _, b := range bridges {
		for _, mem := range members {
			if mem.BridgeIndex != b.Index || mem.NodeName != n.Name {
				continue
			}
			byIdx[mem.InterfaceIndex] = virt.InterfaceSpec{
				MAC:     allocator.InterfaceMAC(labID, n.Index, mem.InterfaceIndex).String(),
				Network: b.NetworkName,
			}
		}
	}

	xmlDoc, err := virt.BuildDomainXML(virt.DomainSpec{
		Name: name, VCPU: img.CPUCount, MemoryMiB: img.MemoryMiB,
		MachineType: img.MachineType, UEFI: img.BIOSType == "uefi",
		Disks: disks, Interfaces: orderedInterfaces(byIdx),
	})
	if err != nil {
		return fmt.Errorf("render domain xml for %s: %w", name, err)
	}

	if err := e.virt.DomainDefineXML(ctx, xmlDoc); err != nil {
		return err
	}
	return e.virt.DomainCreate(ctx, name)
}

// linkInterfaceSpec builds the libvirt interface definition for node n's
// endpoint of link l, where side is "a" if n is l.NodeA and "b" otherwise.
func (e *Engine) linkInterfaceSpec(labID string, n *store.Node, l *store.Link, side string) virt.InterfaceSpec {
	ifaceIdx := l.IntAIdx
	if side == "b" {
		ifaceIdx = l.IntBIdx
	}
	mac := allocator.InterfaceMAC(labID, n.Index, ifaceIdx).String()

	switch l.Kind {
	case store.LinkP2PBridge, store.LinkP2PVeth:
		bridge := l.BridgeA
		if side == "b" {
			bridge = l.BridgeB
		}
		return virt.InterfaceSpec{MAC: mac, HostBridge: bridge}
	case store.LinkSharedBridge:
		return virt.InterfaceSpec{MAC: mac, Network: linkNetworkName(l)}
	case store.LinkP2PUDP:
		ep := allocator.TunnelPorts(labID, l.Index, side)
		return virt.InterfaceSpec{MAC: mac, UDP: &virt.UDPTunnel{
			LocalAddr: ep.LocalAddr.String(), LocalPort: ep.LocalPort,
			RemoteAddr: ep.RemoteAddr.String(), RemotePort: ep.RemotePort,
		}}
	default:
		return virt.InterfaceSpec{MAC: mac}
	}
}

// orderedInterfaces flattens an index-keyed interface map in ascending
// index order, so a domain's guest-visible NIC order matches the
// topology's own interface numbering.
func orderedInterfaces(byIdx map[uint8]virt.InterfaceSpec) []virt.InterfaceSpec {
	indices := make([]int, 0, len(byIdx))
	for idx := range byIdx {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)

	out := make([]virt.InterfaceSpec, 0, len(indices))
	for _, idx := range indices {
		out = append(out, byIdx[uint8(idx)])
	}
	return out
}

// startContainer runs one Container-kind node. Its management reachability
// is left to `docker exec`/`docker network inspect` rather than a dedicated
// management network — container node models in this system's built-in
// catalogue all use ztp_method none, so there is no first-boot config
// channel expecting a settled management address the way VM models do.
// Each data link or bridge membership gets its own macvlan network bound
// to the same host bridge a VM peer on that link would use, so a
// container can sit directly on a link next to a router domain.
func (e *Engine) startContainer(ctx context.Context, labID string, n *store.Node, img *store.NodeImage, links []*store.Link, bridges []*store.Bridge, members []*store.BridgeMember) error {
	name := containerName(labID, n.Name)

	var networks []string
	for _, l := range links {
		var bridge string
		switch {
		case n.Name == l.NodeA && (l.Kind == store.LinkP2PBridge || l.Kind == store.LinkP2PVeth):
			bridge = l.BridgeA
		case n.Name == l.NodeB && (l.Kind == store.LinkP2PBridge || l.Kind == store.LinkP2PVeth):
			bridge = l.BridgeB
		case (n.Name == l.NodeA || n.Name == l.NodeB) && l.Kind == store.LinkSharedBridge:
			bridge = l.BridgeA
		default:
			continue // p2p_udp has no host bridge a container could attach to
		}
		netName := macvlanNetworkName(labID, "link", l.Index)
		if err := e.containers.NetworkCreateMacvlan(ctx, netName, bridge); err != nil {
			return err
		}
		networks = append(networks, netName)
	}
	for _, b := range bridges {
		for _, mem := range members {
			if mem.BridgeIndex != b.Index || mem.NodeName != n.Name {
				continue
			}
			netName := macvlanNetworkName(labID, "bridge", b.Index)
			if err := e.containers.NetworkCreateMacvlan(ctx, netName, b.BridgeName); err != nil {
				return err
			}
			networks = append(networks, netName)
		}
	}

	_, err := e.containers.ContainerRun(ctx, containers.ContainerSpec{
		Name: name, Image: containerImageRef(n.Model, img.Version), Hostname: n.Name,
		Labels:   map[string]string{"sherpa.lab_id": labID, "sherpa.node": n.Name},
		Networks: networks,
	})
	return err
}

// containerImageRef derives a Docker image reference from a node's model
// and resolved image version — the built-in container templates (alpine,
// frr) name their model identically to the upstream image repository.
func containerImageRef(model, version string) string {
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s:%s", model, version)
}
