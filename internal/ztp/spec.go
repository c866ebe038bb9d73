// Package ztp builds the per-node zero-touch-provisioning artifacts the
// lifecycle engine writes under a lab's working directory before a domain
// or container is started: cloud-init seed ISOs, Ignition JSON documents,
// vendor-flash disk images, and the lab-info.toml manifest snapshot.
package ztp

import "net"

// NodeSpec is everything one node's artifact generation needs, gathered
// by the lifecycle engine from the compiled topology, the allocator, and
// the image registry.
type NodeSpec struct {
	LabID       string
	NodeName    string
	Hostname    string
	Username    string
	Password    string
	SSHKeys     []string
	MgmtMAC     net.HardwareAddr
	MgmtIPv4    net.IP
	MgmtNetwork *net.IPNet
	GatewayIPv4 net.IP
	ZTPServerIP net.IP
}

// cidrPrefixLen returns the prefix length of the node's management
// network, defaulting to /24 when MgmtNetwork is unset.
func (n NodeSpec) cidrPrefixLen() int {
	if n.MgmtNetwork == nil {
		return 24
	}
	ones, _ := n.MgmtNetwork.Mask.Size()
	return ones
}
