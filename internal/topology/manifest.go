// Package topology compiles a declarative lab manifest into the expanded,
// index-assigned, interface-resolved internal model the lifecycle engine
// acts on. It is pure: no store access, no external I/O, no network calls.
package topology

// Manifest is the parsed form of a lab's TOML description: a flat list of
// nodes plus optional point-to-point links and shared-segment bridges.
type Manifest struct {
	Nodes   []Node   `toml:"nodes"`
	Links   []Link   `toml:"links"`
	Bridges []Bridge `toml:"bridges"`
}

// Node is one declared device. Model selects both the hardware-shape
// template and the interface-naming grammar; Version pins a NodeImage
// version (empty means "use the model's default").
type Node struct {
	Name    string `toml:"name"`
	Model   string `toml:"model"`
	Version string `toml:"version"`
}

// Link is a point-to-point edge declared as two "node::interface" strings.
// The wire keys are src/dst; the Go field names stay the endpoint-neutral
// A/B used throughout the compiler.
type Link struct {
	Kind string `toml:"kind"`
	A    string `toml:"src"`
	B    string `toml:"dst"`
}

// Bridge is a shared L2 segment declared as a name plus a list of
// "node::interface" member strings.
type Bridge struct {
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
}
