package virt

import (
	"context"
	"fmt"
	"strings"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// NetworkKind selects one of the four libvirt network shapes the lab
// lifecycle engine composes a topology's links and bridges out of.
type NetworkKind string

const (
	// NetworkIsolated has no forwarding and no bridge uplink: a private L2
	// segment visible only to the domains attached to it.
	NetworkIsolated NetworkKind = "isolated"
	// NetworkReserved is the same shape as NetworkIsolated, named and
	// scoped per-lab rather than shared.
	NetworkReserved NetworkKind = "reserved"
	// NetworkManagement is a NAT network with libvirt's built-in dnsmasq
	// serving DHCP/DNS to lab management interfaces.
	NetworkManagement NetworkKind = "management"
	// NetworkSharedBridge attaches to a pre-existing Linux bridge created
	// by internal/hostnet rather than one libvirt manages itself.
	NetworkSharedBridge NetworkKind = "shared_bridge"
)

// NetworkSpec parametrizes NetworkCreate. Bridge is the libvirt-managed
// bridge device name for isolated/reserved/management kinds, or the
// pre-existing host bridge name to bind to for shared_bridge.
type NetworkSpec struct {
	Name        string
	Kind        NetworkKind
	Bridge      string
	CIDR        string // dotted IPv4/prefix, management kind only
	DHCPRangeLo string
	DHCPRangeHi string
}

// NetworkCreate defines and starts a libvirt network per spec. Management
// networks get an IPv4 block with a DHCP range handed out by libvirt's
// embedded dnsmasq; isolated/reserved networks carry no <forward> element
// at all, so traffic never leaves the segment; shared_bridge networks
// forward in bridge mode onto an already-created host bridge.
func (a *Adapter) NetworkCreate(ctx context.Context, spec NetworkSpec) error {
	return a.do(ctx, func() error {
		if _, err := a.conn.LookupNetworkByName(spec.Name); err == nil {
			return nil
		}

		xmlDoc := libvirtxml.Network{
			Name:   spec.Name,
			Bridge: &libvirtxml.NetworkBridge{Name: spec.Bridge, STP: "on"},
		}

		switch spec.Kind {
		case NetworkIsolated, NetworkReserved:
			// No Forward element: libvirt treats this as an isolated
			// network with no path off the bridge.
		case NetworkManagement:
			xmlDoc.Forward = &libvirtxml.NetworkForward{Mode: "nat"}
			if spec.CIDR != "" {
				xmlDoc.IPs = []libvirtxml.NetworkIP{{
					Address: spec.CIDR,
					DHCP: &libvirtxml.NetworkDHCP{
						Ranges: []libvirtxml.NetworkDHCPRange{{
							Start: spec.DHCPRangeLo,
							End:   spec.DHCPRangeHi,
						}},
					},
				}}
			}
		case NetworkSharedBridge:
			xmlDoc.Forward = &libvirtxml.NetworkForward{Mode: "bridge"}
		default:
			return fmt.Errorf("unknown network kind %q", spec.Kind)
		}

		xmlStr, err := xmlDoc.Marshal()
		if err != nil {
			return fmt.Errorf("marshal network xml: %w", err)
		}

		net, err := a.conn.NetworkDefineXML(xmlStr)
		if err != nil {
			return fmt.Errorf("define network %s: %w", spec.Name, err)
		}
		defer net.Free()

		if err := net.SetAutostart(true); err != nil {
			return fmt.Errorf("autostart network %s: %w", spec.Name, err)
		}
		return net.Create()
	})
}

// ListNetworksFuzzy lists the names of every libvirt network (active or
// inactive) containing substr, used on teardown to find every network a
// lab owns by lab_id substring match without the caller needing to
// reconstruct exact names.
func (a *Adapter) ListNetworksFuzzy(ctx context.Context, substr string) ([]string, error) {
	var names []string
	err := a.do(ctx, func() error {
		nets, err := a.conn.ListAllNetworks(libvirt.CONNECT_LIST_NETWORKS_ACTIVE | libvirt.CONNECT_LIST_NETWORKS_INACTIVE)
		if err != nil {
			return fmt.Errorf("list networks: %w", err)
		}
		for _, n := range nets {
			name, err := n.GetName()
			n.Free()
			if err != nil {
				continue
			}
			if strings.Contains(name, substr) {
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

// NetworkDestroy destroys and undefines a network by name. A missing
// network is not an error.
func (a *Adapter) NetworkDestroy(ctx context.Context, name string) error {
	return a.do(ctx, func() error {
		net, err := a.conn.LookupNetworkByName(name)
		if err != nil {
			return nil
		}
		defer net.Free()

		_ = net.Destroy()
		return net.Undefine()
	})
}
