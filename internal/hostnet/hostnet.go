// Package hostnet creates the kernel-level network objects that carry lab
// traffic: Linux bridges and veth pairs, via github.com/vishvananda/netlink
// rather than shelling out to the ip(8) tool.
package hostnet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
)

// Adapter serializes access to host network object creation. netlink
// itself is safe for concurrent use, but creating several interfaces that
// might collide on name generation or bridge attachment order is easier
// to reason about single-threaded, so every call takes a process-wide
// mutex, much like the advisory per-lab lock the RPC server takes around
// each lab operation.
type Adapter struct {
	mu sync.Mutex
}

// New returns a ready-to-use host-network adapter.
func New() *Adapter {
	return &Adapter{}
}

// BridgeCreate creates a Linux bridge and brings it up. Fails if name is
// already in use.
func (a *Adapter) BridgeCreate(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := netlink.LinkByName(name); err == nil {
		return fmt.Errorf("interface %s already exists", name)
	}

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("create bridge %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return fmt.Errorf("bring up bridge %s: %w", name, err)
	}
	return nil
}

// VethCreate creates a veth pair named a/b and brings both ends up. One
// end is later attached to a bridge; the other is wired into a domain or
// container via its own definition.
func (a *Adapter) VethCreate(nameA, nameB string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: nameA},
		PeerName:  nameB,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", nameA, nameB, err)
	}

	linkA, err := netlink.LinkByName(nameA)
	if err != nil {
		return fmt.Errorf("lookup veth %s after create: %w", nameA, err)
	}
	if err := netlink.LinkSetUp(linkA); err != nil {
		return fmt.Errorf("bring up veth %s: %w", nameA, err)
	}

	linkB, err := netlink.LinkByName(nameB)
	if err != nil {
		return fmt.Errorf("lookup veth %s after create: %w", nameB, err)
	}
	return netlink.LinkSetUp(linkB)
}

// AttachToBridge sets iface's master to bridge.
func (a *Adapter) AttachToBridge(iface, bridge string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", iface, err)
	}
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", bridge, err)
	}
	brLink, ok := br.(*netlink.Bridge)
	if !ok {
		return fmt.Errorf("%s is not a bridge", bridge)
	}
	return netlink.LinkSetMaster(link, brLink)
}

// InterfaceDelete removes an interface by name. Deleting one side of a
// veth pair reaps its peer; deleting a bridge's last attached interface
// does not remove the bridge itself. A missing interface is not an error.
func (a *Adapter) InterfaceDelete(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil
	}
	return netlink.LinkDel(link)
}

// FindInterfacesFuzzy lists host interface names containing substr, used
// on teardown to find lab-owned leftovers by lab_id substring match.
func (a *Adapter) FindInterfacesFuzzy(substr string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var names []string
	for _, l := range links {
		name := l.Attrs().Name
		if strings.Contains(name, substr) {
			names = append(names, name)
		}
	}
	return names, nil
}
