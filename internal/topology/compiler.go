package topology

import (
	"fmt"
	"strings"

	"github.com/bwks/sherpa/internal/sherr"
)

// ModelInfo is the subset of a NodeImage's hardware shape the compiler
// needs to resolve and bound-check interfaces. internal/images supplies
// the concrete lookup; topology stays ignorant of the store/registry.
type ModelInfo struct {
	DataInterfaceCount           int
	ReservedInterfaceCount       int
	DedicatedManagementInterface bool
}

// ModelLookup resolves a node's declared model to its hardware shape.
// It returns an error when the model is unknown (no imported image).
type ModelLookup interface {
	ModelInfo(model string) (ModelInfo, error)
}

// InterfaceResolver maps an interface name, under one device model's naming
// grammar, to its interface index. This mirrors allocator.InterfaceResolver
// so internal/images can hand the same function to both packages.
type InterfaceResolver func(model, name string) (uint8, error)

// Compile expands m into a Compiled topology: nodes are assigned
// declaration-order indices, links and bridges are resolved against
// models via lookup and interface names via resolve, and every validator
// runs before any result is returned. The first validator to fail aborts
// with a manifest-class *sherr.Error (ManifestInvalid, DuplicateNode,
// InterfaceOutOfBound or MgmtMisuse) citing the offending item; the compiler
// touches neither the store nor any external system.
func Compile(m Manifest, lookup ModelLookup, resolve InterfaceResolver) (*Compiled, error) {
	nodes := make([]NodeExpanded, len(m.Nodes))
	nodeIndex := make(map[string]uint16, len(m.Nodes))
	nodeModel := make(map[string]string, len(m.Nodes))
	for i, n := range m.Nodes {
		idx := uint16(i + 1)
		nodes[i] = NodeExpanded{Index: idx, Name: n.Name, Model: n.Model, Version: n.Version}
		nodeIndex[n.Name] = idx
		nodeModel[n.Name] = n.Model
	}

	if err := checkDuplicateDevice(m.Nodes); err != nil {
		return nil, err
	}

	links := make([]LinkDetailed, 0, len(m.Links))
	for i, l := range m.Links {
		nodeA, intA, err := splitNodeInt(l.A)
		if err != nil {
			return nil, sherr.New(sherr.ManifestInvalid, "malformed link endpoint", l.A)
		}
		nodeB, intB, err := splitNodeInt(l.B)
		if err != nil {
			return nil, sherr.New(sherr.ManifestInvalid, "malformed link endpoint", l.B)
		}

		modelA, ok := nodeModel[nodeA]
		if !ok {
			return nil, sherr.New(sherr.ManifestInvalid, "link references unknown node", nodeA)
		}
		modelB, ok := nodeModel[nodeB]
		if !ok {
			return nil, sherr.New(sherr.ManifestInvalid, "link references unknown node", nodeB)
		}

		intAIdx, err := resolveInterface(lookup, resolve, modelA, intA)
		if err != nil {
			return nil, err
		}
		intBIdx, err := resolveInterface(lookup, resolve, modelB, intB)
		if err != nil {
			return nil, err
		}

		links = append(links, LinkDetailed{
			LinkIdx:    uint16(i),
			Kind:       l.Kind,
			NodeA:      nodeA,
			NodeAIdx:   nodeIndex[nodeA],
			NodeAModel: modelA,
			IntA:       intA,
			IntAIdx:    intAIdx,
			NodeB:      nodeB,
			NodeBIdx:   nodeIndex[nodeB],
			NodeBModel: modelB,
			IntB:       intB,
			IntBIdx:    intBIdx,
		})
	}

	bridges := make([]BridgeDetailed, 0, len(m.Bridges))
	for i, b := range m.Bridges {
		members := make([]BridgeMemberDetailed, 0, len(b.Members))
		for _, raw := range b.Members {
			nodeName, ifName, err := splitNodeInt(raw)
			if err != nil {
				return nil, sherr.New(sherr.ManifestInvalid, "malformed bridge member", raw)
			}
			model, ok := nodeModel[nodeName]
			if !ok {
				return nil, sherr.New(sherr.ManifestInvalid, "bridge references unknown node", nodeName)
			}
			ifIdx, err := resolveInterface(lookup, resolve, model, ifName)
			if err != nil {
				return nil, err
			}
			members = append(members, BridgeMemberDetailed{
				Node:      nodeName,
				NodeIdx:   nodeIndex[nodeName],
				NodeModel: model,
				Interface: ifName,
				IntIdx:    ifIdx,
			})
		}
		bridges = append(bridges, BridgeDetailed{BridgeIdx: uint16(i), Name: b.Name, Members: members})
	}

	if err := checkLinkDevice(m.Links, nodeModel); err != nil {
		return nil, err
	}
	if err := checkBridgeDevice(m.Bridges, nodeModel); err != nil {
		return nil, err
	}
	if err := checkDuplicateInterfaceLink(links, bridges); err != nil {
		return nil, err
	}
	if err := checkMgmtUsage(links, bridges, lookup); err != nil {
		return nil, err
	}
	if err := checkInterfaceBounds(links, bridges, lookup); err != nil {
		return nil, err
	}

	return &Compiled{Nodes: nodes, Links: links, Bridges: bridges}, nil
}

func resolveInterface(lookup ModelLookup, resolve InterfaceResolver, model, name string) (uint8, error) {
	if _, err := lookup.ModelInfo(model); err != nil {
		return 0, sherr.New(sherr.ManifestInvalid, "unknown model", model)
	}
	idx, err := resolve(model, name)
	if err != nil {
		return 0, sherr.New(sherr.InterfaceOutOfBound, "unresolvable interface", fmt.Sprintf("%s::%s", model, name))
	}
	return idx, nil
}

// splitNodeInt splits a "node::interface" string, the manifest's link and
// bridge member encoding.
func splitNodeInt(s string) (node, iface string, err error) {
	parts := strings.SplitN(s, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected \"node::interface\", got %q", s)
	}
	return parts[0], parts[1], nil
}
