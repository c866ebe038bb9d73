package topology

import (
	"fmt"

	"github.com/bwks/sherpa/internal/sherr"
)

// checkDuplicateDevice enforces unique node names within a manifest.
func checkDuplicateDevice(nodes []Node) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Name] {
			return sherr.New(sherr.DuplicateNode, fmt.Sprintf("%s defined more than once", n.Name), n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

// checkLinkDevice ensures every link endpoint references a declared node.
func checkLinkDevice(links []Link, nodeModel map[string]string) error {
	for _, l := range links {
		nodeA, _, err := splitNodeInt(l.A)
		if err != nil {
			return sherr.New(sherr.ManifestInvalid, "malformed link endpoint", l.A)
		}
		if _, ok := nodeModel[nodeA]; !ok {
			return sherr.New(sherr.ManifestInvalid, "link references unknown node", nodeA)
		}
		nodeB, _, err := splitNodeInt(l.B)
		if err != nil {
			return sherr.New(sherr.ManifestInvalid, "malformed link endpoint", l.B)
		}
		if _, ok := nodeModel[nodeB]; !ok {
			return sherr.New(sherr.ManifestInvalid, "link references unknown node", nodeB)
		}
	}
	return nil
}

// checkBridgeDevice ensures every bridge member references a declared node.
func checkBridgeDevice(bridges []Bridge, nodeModel map[string]string) error {
	for _, b := range bridges {
		for _, member := range b.Members {
			nodeName, _, err := splitNodeInt(member)
			if err != nil {
				return sherr.New(sherr.ManifestInvalid, "malformed bridge member", member)
			}
			if _, ok := nodeModel[nodeName]; !ok {
				return sherr.New(sherr.ManifestInvalid, "bridge references unknown node", nodeName)
			}
		}
	}
	return nil
}

// checkDuplicateInterfaceLink rejects any (node, interface) pair used
// twice across the union of links and bridge members in a lab.
func checkDuplicateInterfaceLink(links []LinkDetailed, bridges []BridgeDetailed) error {
	used := make(map[string]bool)
	claim := func(node, iface string) error {
		key := node + "::" + iface
		if used[key] {
			return sherr.New(sherr.ManifestInvalid, "interface used by more than one link", key)
		}
		used[key] = true
		return nil
	}

	for _, l := range links {
		if err := claim(l.NodeA, l.IntA); err != nil {
			return err
		}
		if err := claim(l.NodeB, l.IntB); err != nil {
			return err
		}
	}
	for _, b := range bridges {
		for _, m := range b.Members {
			if err := claim(m.Node, m.Interface); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkInterfaceBounds requires every resolved interface index to fall
// within the peer model's usable data-interface range.
func checkInterfaceBounds(links []LinkDetailed, bridges []BridgeDetailed, lookup ModelLookup) error {
	check := func(model, iface string, idx uint8) error {
		info, err := lookup.ModelInfo(model)
		if err != nil {
			return sherr.New(sherr.ManifestInvalid, "unknown model", model)
		}
		maxIdx := info.DataInterfaceCount
		if !info.DedicatedManagementInterface {
			maxIdx += info.ReservedInterfaceCount
		}
		if idx < 1 || int(idx) > maxIdx {
			return sherr.New(sherr.InterfaceOutOfBound, "interface index out of bounds",
				fmt.Sprintf("%s::%s (idx=%d, max=%d)", model, iface, idx, maxIdx))
		}
		return nil
	}

	for _, l := range links {
		if err := check(l.NodeAModel, l.IntA, l.IntAIdx); err != nil {
			return err
		}
		if err := check(l.NodeBModel, l.IntB, l.IntBIdx); err != nil {
			return err
		}
	}
	for _, b := range bridges {
		for _, m := range b.Members {
			if err := check(m.NodeModel, m.Interface, m.IntIdx); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkMgmtUsage enforces the management carve-out: models without a
// dedicated management interface reserve index 0 for management and may
// never use it as a data link.
func checkMgmtUsage(links []LinkDetailed, bridges []BridgeDetailed, lookup ModelLookup) error {
	check := func(model, iface string, idx uint8) error {
		info, err := lookup.ModelInfo(model)
		if err != nil {
			return sherr.New(sherr.ManifestInvalid, "unknown model", model)
		}
		if !info.DedicatedManagementInterface && idx == 0 {
			return sherr.New(sherr.MgmtMisuse, "management interface used as data link", fmt.Sprintf("%s::%s", model, iface))
		}
		return nil
	}

	for _, l := range links {
		if err := check(l.NodeAModel, l.IntA, l.IntAIdx); err != nil {
			return err
		}
		if err := check(l.NodeBModel, l.IntB, l.IntBIdx); err != nil {
			return err
		}
	}
	for _, b := range bridges {
		for _, m := range b.Members {
			if err := check(m.NodeModel, m.Interface, m.IntIdx); err != nil {
				return err
			}
		}
	}
	return nil
}
