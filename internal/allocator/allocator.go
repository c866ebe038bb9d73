// Package allocator derives the deterministic identifiers and addresses a
// lab needs: its 8-hex-digit ID, node MACs, loopback and management
// subnets, and UDP-tunnel port pairs. Every function here is pure.
package allocator

import (
	"fmt"
	"net"

	"github.com/OneOfOne/xxhash"
)

// xxh32Seed is the fixed seed for every XXH32 derivation in this package,
// starting with the hash of username+lab_name. Kept stable so restarts
// and cross-implementation fixtures produce the same lab_id.
const xxh32Seed uint32 = 0xFFFFFFFF

// kvmOUI is the organizationally unique identifier QEMU/KVM assigns to
// virtio NICs; node MACs keep it in the high three octets so they read as
// libvirt-native addresses.
const kvmOUI = "52:54:00"

// LabID returns the deterministic 8-hex-digit identifier for a
// (user, lab_name) pair. It is a pure function of its two arguments: the
// same pair always yields the same ID, by construction (xxhash is
// deterministic), so no test is needed to "prove" determinism beyond
// exercising the formula once.
func LabID(username, labName string) string {
	combined := username + labName
	return fmt.Sprintf("%08x", xxhash.Checksum32S([]byte(combined), xxh32Seed))
}

// NodeMAC derives a deterministic MAC for a node within a lab: restarting
// sherpad, or re-running `up` against the same lab_id/node_index, always
// yields the same address so existing DHCP leases stay valid.
func NodeMAC(labID string, nodeIndex uint16) net.HardwareAddr {
	h := xxhash.Checksum32S([]byte(fmt.Sprintf("%s/%d", labID, nodeIndex)), xxh32Seed)
	mac := fmt.Sprintf("%s:%02x:%02x:%02x", kvmOUI, byte(h>>16), byte(h>>8), byte(h))
	addr, _ := net.ParseMAC(mac)
	return addr
}

// InterfaceMAC derives a deterministic MAC for one data interface of a
// node, distinct from NodeMAC (which is reserved for the management
// interface): same OUI, same restart-stable guarantee, keyed additionally
// by interface index so every NIC on a node gets its own address.
func InterfaceMAC(labID string, nodeIndex uint16, ifaceIndex uint8) net.HardwareAddr {
	h := xxhash.Checksum32S([]byte(fmt.Sprintf("%s/%d/%d", labID, nodeIndex, ifaceIndex)), xxh32Seed)
	mac := fmt.Sprintf("%s:%02x:%02x:%02x", kvmOUI, byte(h>>16), byte(h>>8), byte(h))
	addr, _ := net.ParseMAC(mac)
	return addr
}

// TunnelEndpoint is the pair of (local, remote) UDP ports and loopback
// addresses a p2p_udp link's two ends bind to. Derivation mirrors NodeMAC:
// a stable offset keyed by (lab_id, link_index) rather than a sequential
// counter, so re-running `up` reproduces identical bindings.
type TunnelEndpoint struct {
	LocalAddr  net.IP
	LocalPort  int
	RemoteAddr net.IP
	RemotePort int
}

const (
	udpPortBase = 20000
	udpPortSpan = 10000
)

// TunnelPorts derives the source/destination port pair for one side of a
// p2p_udp link. side must be "a" or "b"; the two calls for the two sides of
// the same link produce swapped local/remote assignments.
func TunnelPorts(labID string, linkIndex uint16, side string) TunnelEndpoint {
	h := xxhash.Checksum32S([]byte(fmt.Sprintf("%s/udp/%d", labID, linkIndex)), xxh32Seed)
	base := udpPortBase + int(h%udpPortSpan)
	portA := base
	portB := base + 1

	loop := net.IPv4(127, 0, 0, 1)
	if side == "a" {
		return TunnelEndpoint{LocalAddr: loop, LocalPort: portA, RemoteAddr: loop, RemotePort: portB}
	}
	return TunnelEndpoint{LocalAddr: loop, LocalPort: portB, RemoteAddr: loop, RemotePort: portA}
}

// AllocateLoopback scans 127.0.0.0/8 for the first free /30, smallest
// network address first, skipping any network already present in used.
func AllocateLoopback(used map[string]bool) (*net.IPNet, error) {
	base := uint32(127) << 24
	for net4 := base; net4 < base+(1<<24); net4 += 4 {
		ip := net.IPv4(byte(net4>>24), byte(net4>>16), byte(net4>>8), byte(net4))
		ipnet := &net.IPNet{IP: ip, Mask: net.CIDRMask(30, 32)}
		key := ipnet.String()
		if !used[key] {
			return ipnet, nil
		}
	}
	return nil, fmt.Errorf("loopback address pool exhausted")
}

// AllocateManagement carves the first free /24 sub-prefix of prefix not
// already present in used.
func AllocateManagement(prefix *net.IPNet, used map[string]bool) (*net.IPNet, error) {
	ones, bits := prefix.Mask.Size()
	if ones > 24 {
		return nil, fmt.Errorf("management prefix %s is narrower than /24", prefix)
	}
	base := ipToUint32(prefix.IP)
	span := uint32(1) << uint(bits-24)
	count := uint32(1) << uint(24-ones)

	for i := uint32(0); i < count; i++ {
		net4 := base + i*span
		ip := uint32ToIP(net4)
		ipnet := &net.IPNet{IP: ip, Mask: net.CIDRMask(24, 32)}
		key := ipnet.String()
		if !used[key] {
			return ipnet, nil
		}
	}
	return nil, fmt.Errorf("management address pool exhausted")
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// InterfaceResolver maps an interface name, under one device model's naming
// grammar, to its interface index. Index 0 is always reserved for the
// management interface.
type InterfaceResolver func(name string) (uint8, error)

// Registry is the set of per-model interface resolvers the topology
// compiler consults; it is populated from the image registry's model
// templates (see internal/images).
type Registry map[string]InterfaceResolver

// Resolve looks up model's resolver and applies it to name.
func (r Registry) Resolve(model, name string) (uint8, error) {
	fn, ok := r[model]
	if !ok {
		return 0, fmt.Errorf("no interface grammar registered for model %q", model)
	}
	return fn(name)
}
