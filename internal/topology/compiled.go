package topology

// NodeExpanded is a manifest Node with its declaration-order index assigned.
// Index 0 is reserved for the management/ZTP server and is never handed to
// a real node; the first declared node gets index 1.
type NodeExpanded struct {
	Index   uint16
	Name    string
	Model   string
	Version string
}

// LinkDetailed is a fully resolved point-to-point edge: both endpoints'
// node index, model, interface name, and interface index, plus the link's
// own monotonic position within the lab.
type LinkDetailed struct {
	LinkIdx   uint16
	Kind      string
	NodeA     string
	NodeAIdx  uint16
	NodeAModel string
	IntA      string
	IntAIdx   uint8
	NodeB     string
	NodeBIdx  uint16
	NodeBModel string
	IntB      string
	IntBIdx   uint8
}

// BridgeMemberDetailed is one resolved (node, interface) endpoint of a
// shared-segment bridge.
type BridgeMemberDetailed struct {
	Node      string
	NodeIdx   uint16
	NodeModel string
	Interface string
	IntIdx    uint8
}

// BridgeDetailed is a fully resolved shared L2 segment.
type BridgeDetailed struct {
	BridgeIdx uint16
	Name      string
	Members   []BridgeMemberDetailed
}

// Compiled is the output of Compile: the manifest's nodes, links, and
// bridges expanded and validated, ready for the allocator and lifecycle
// engine to act on.
type Compiled struct {
	Nodes   []NodeExpanded
	Links   []LinkDetailed
	Bridges []BridgeDetailed
}
