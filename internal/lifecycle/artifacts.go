package lifecycle

import (
	"fmt"
	"net"

	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/ztp"
)

// writeLabArtifacts emits lab-info.toml and ssh_config under the lab's
// working directory once management settlement has run.
func (e *Engine) writeLabArtifacts(labDir string, lab *store.Lab, nodes []*store.Node, gatewayIP net.IP) error {
	info := ztp.LabInfo{
		ID: lab.LabID, Name: lab.Name, User: lab.User,
		IPv4Network: lab.ManagementCIDR, IPv4Gateway: gatewayIP.String(),
		IPv4Router: gatewayIP.String(), LoopbackNetwork: lab.LoopbackNetwork,
	}
	if err := ztp.WriteLabInfo(info, labDir); err != nil {
		return err
	}

	hosts := make([]ztp.SSHHost, 0, len(nodes))
	for _, n := range nodes {
		hosts = append(hosts, ztp.SSHHost{Alias: n.Name, HostName: n.MgmtIPv4, User: "admin", Port: 22})
	}
	return ztp.WriteSSHConfig(hosts, labDir)
}

// renderVendorConfig produces the minimal first-boot configuration text a
// vendor_flash model's startup-config file is seeded with: a hostname and
// a statically addressed management interface, rendered in the dialect
// each model's config parser expects. Anything beyond bringing the
// management plane up is left to the operator once the node boots.
func renderVendorConfig(model string, spec ztp.NodeSpec) string {
	ones, _ := spec.MgmtNetwork.Mask.Size()
	mask := net.CIDRMask(ones, 32)
	maskIP := net.IPv4(mask[0], mask[1], mask[2], mask[3]).String()

	switch model {
	case "cisco_iosv", "cisco_nxosv9000":
		return fmt.Sprintf(
			"hostname %s\n!\ninterface mgmt0\n ip address %s %s\n no shutdown\n!\nip route 0.0.0.0 0.0.0.0 %s\n!\nusername %s privilege 15 secret %s\n!\nline vty 0 4\n login local\n transport input ssh\n!\nend\n",
			spec.Hostname, spec.MgmtIPv4, maskIP, spec.GatewayIPv4, spec.Username, spec.Password,
		)
	case "juniper_vqfx":
		return fmt.Sprintf(
			"system {\n    host-name %s;\n    login {\n        user %s {\n            class super-user;\n            authentication { plain-text-password \"%s\"; }\n        }\n    }\n    services { ssh; }\n}\ninterfaces {\n    fxp0 {\n        unit 0 { family inet { address %s/%d; } }\n    }\n}\nrouting-options {\n    static { route 0.0.0.0/0 next-hop %s; }\n}\n",
			spec.Hostname, spec.Username, spec.Password, spec.MgmtIPv4, ones, spec.GatewayIPv4,
		)
	default:
		return fmt.Sprintf("hostname=%s\nmgmt_ip=%s/%d\ngateway=%s\n", spec.Hostname, spec.MgmtIPv4, ones, spec.GatewayIPv4)
	}
}
