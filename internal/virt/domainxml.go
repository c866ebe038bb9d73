package virt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DiskSpec is one volume attached to a domain: either the node's cloned
// base image or a ZTP seed artifact (cloud-init ISO, Ignition config,
// vendor-flash image).
type DiskSpec struct {
	Pool   string
	Volume string
	Device string // "disk" or "cdrom"
}

// InterfaceSpec is one NIC attached to a domain, bound to a libvirt
// network, directly to a host bridge, or to a UDP tunnel endpoint for
// p2p_udp links (exactly one of Network/HostBridge/UDP should be set).
type InterfaceSpec struct {
	MAC        string
	Network    string // libvirt network name, set for networks internal/virt created
	HostBridge string // host bridge name, set for interfaces internal/hostnet created directly
	UDP        *UDPTunnel
}

// UDPTunnel parametrizes a libvirt "udp" transport interface, the
// mechanism p2p_udp links use to connect two domains without any host
// bridge or veth in between.
type UDPTunnel struct {
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
}

// DomainSpec is everything BuildDomainXML needs to render one node's
// domain definition.
type DomainSpec struct {
	Name        string
	VCPU        int
	MemoryMiB   int
	MachineType string
	UEFI        bool
	Disks       []DiskSpec
	Interfaces  []InterfaceSpec
}

// BuildDomainXML renders a QEMU/KVM domain definition for spec using
// typed libvirtxml structs rather than string templating.
func BuildDomainXML(spec DomainSpec) (string, error) {
	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Value: spec.VCPU,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: spec.MachineType,
				Type:    "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{{Dev: "hd"}},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Consoles: []libvirtxml.DomainConsole{{
				Target: &libvirtxml.DomainConsoleTarget{Type: "serial"},
			}},
		},
	}

	if spec.UEFI {
		dom.OS.Loader = &libvirtxml.DomainLoader{
			Path:     "/usr/share/OVMF/OVMF_CODE.fd",
			Type:     "pflash",
			Readonly: "yes",
		}
		dom.OS.NVRam = &libvirtxml.DomainNVRam{}
	}

	for _, d := range spec.Disks {
		device := d.Device
		if device == "" {
			device = "disk"
		}
		driverType := "raw"
		if device == "disk" {
			driverType = "qcow2"
		}
		dom.Devices.Disks = append(dom.Devices.Disks, libvirtxml.DomainDisk{
			Device: device,
			Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: driverType},
			Source: &libvirtxml.DomainDiskSource{
				Volume: &libvirtxml.DomainDiskSourceVolume{Pool: d.Pool, Volume: d.Volume},
			},
		})
	}

	for _, iface := range spec.Interfaces {
		nic := libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{Address: iface.MAC},
		}
		switch {
		case iface.Network != "":
			nic.Source = &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: iface.Network},
			}
		case iface.HostBridge != "":
			nic.Source = &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: iface.HostBridge},
			}
		case iface.UDP != nil:
			nic.Type = "udp"
			nic.Source = &libvirtxml.DomainInterfaceSource{
				UDP: &libvirtxml.DomainInterfaceSourceUDP{
					Address: iface.UDP.RemoteAddr,
					Port:    uint(iface.UDP.RemotePort),
					Local: &libvirtxml.DomainInterfaceSourceLocal{
						Address: iface.UDP.LocalAddr,
						Port:    uint(iface.UDP.LocalPort),
					},
				},
			}
		default:
			return "", fmt.Errorf("interface %s has neither Network, HostBridge, nor UDP set", iface.MAC)
		}
		dom.Devices.Interfaces = append(dom.Devices.Interfaces, nic)
	}

	return dom.Marshal()
}
