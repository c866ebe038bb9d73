// Package store is Sherpa's persistence layer: a schema-enforced SQLite
// database wrapping User, Lab, Node, Link, Bridge, and NodeImage, with
// uniqueness and cascade/reject rules implemented as explicit
// transactions rather than relied upon from SQLite alone.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// User is an account that owns labs.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	SSHKeys      []string  `json:"ssh_keys"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NodeKind is the closed set of node implementations a NodeImage can back.
type NodeKind string

const (
	KindVirtualMachine NodeKind = "virtual_machine"
	KindContainer      NodeKind = "container"
	KindUnikernel      NodeKind = "unikernel"
)

// ZTPMethod is the closed set of first-boot configuration channels.
type ZTPMethod string

const (
	ZTPCloudInit    ZTPMethod = "cloud_init"
	ZTPIgnition     ZTPMethod = "ignition"
	ZTPVendorFlash  ZTPMethod = "vendor_flash"
	ZTPNone         ZTPMethod = "none"
)

// NodeImage describes one (model, kind, version) disk or container image
// template plus the hardware shape every node built from it inherits.
type NodeImage struct {
	Model    string   `json:"model"`
	Kind     NodeKind `json:"kind"`
	Version  string   `json:"version"`
	Default  bool     `json:"default"`

	CPUCount                     int       `json:"cpu_count"`
	MemoryMiB                    int       `json:"memory_mib"`
	InterfaceMTU                 int       `json:"interface_mtu"`
	DataInterfaceCount           int       `json:"data_interface_count"`
	ReservedInterfaceCount       int       `json:"reserved_interface_count"`
	DedicatedManagementInterface bool      `json:"dedicated_management_interface"`
	InterfacePrefix              string    `json:"interface_prefix"`
	OSVariant                    string    `json:"os_variant"`
	BIOSType                     string    `json:"bios_type"`
	MachineType                  string    `json:"machine_type"`
	ZTPMethod                    ZTPMethod `json:"ztp_method"`
}

// NodeState is the closed set of a Node's lifecycle states.
type NodeState string

const (
	StateUnknown   NodeState = "unknown"
	StateCreating  NodeState = "creating"
	StateRunning   NodeState = "running"
	StatePaused    NodeState = "paused"
	StateStopped   NodeState = "stopped"
	StateDestroyed NodeState = "destroyed"
	StateFailed    NodeState = "failed"
)

// Lab is a deployed instance of a manifest.
type Lab struct {
	LabID           string    `json:"lab_id"`
	Name            string    `json:"name"`
	User            string    `json:"user"`
	LoopbackNetwork string    `json:"loopback_network"`
	ManagementCIDR  string    `json:"management_cidr"`
	CreatedAt       time.Time `json:"created_at"`
}

// Node is one device in a lab.
type Node struct {
	LabID      string    `json:"lab_id"`
	Name       string    `json:"name"`
	Index      uint16    `json:"index"`
	Model      string    `json:"model"`
	ImageKind  NodeKind  `json:"image_kind"`
	ImageVer   string    `json:"image_version"`
	MgmtIPv4   string    `json:"mgmt_ipv4,omitempty"`
	MAC        string    `json:"mac"`
	State      NodeState `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// LinkKind is the closed set of point-to-point link implementations.
type LinkKind string

const (
	LinkP2PBridge    LinkKind = "p2p_bridge"
	LinkP2PUDP       LinkKind = "p2p_udp"
	LinkP2PVeth      LinkKind = "p2p_veth"
	LinkSharedBridge LinkKind = "shared_bridge"
)

// Link is a point-to-point edge between two node interfaces.
type Link struct {
	LabID   string   `json:"lab_id"`
	Index   uint16   `json:"index"`
	Kind    LinkKind `json:"kind"`
	NodeA   string   `json:"node_a"`
	NodeB   string   `json:"node_b"`
	IntA    string   `json:"int_a"`
	IntB    string   `json:"int_b"`
	IntAIdx uint8    `json:"int_a_idx"`
	IntBIdx uint8    `json:"int_b_idx"`
	BridgeA string   `json:"bridge_a,omitempty"`
	BridgeB string   `json:"bridge_b,omitempty"`
	VethA   string   `json:"veth_a,omitempty"`
	VethB   string   `json:"veth_b,omitempty"`
}

// Bridge is a multi-point L2 segment attaching two or more node interfaces.
type Bridge struct {
	LabID       string `json:"lab_id"`
	Index       uint16 `json:"index"`
	BridgeName  string `json:"bridge_name"`
	NetworkName string `json:"network_name"`
}

// BridgeMember is one (node, interface) endpoint attached to a Bridge.
type BridgeMember struct {
	LabID          string `json:"lab_id"`
	BridgeIndex    uint16 `json:"bridge_index"`
	NodeName       string `json:"node_name"`
	InterfaceName  string `json:"interface_name"`
	InterfaceIndex uint8  `json:"interface_index"`
}

// ImmutableFieldError is returned by update_X when the caller attempts to
// change a field the schema designates immutable (Lab.user, Link.lab,
// Link.node_a, Link.node_b).
type ImmutableFieldError struct {
	Entity string
	Field  string
}

func (e *ImmutableFieldError) Error() string {
	return "immutable field " + e.Entity + "." + e.Field + " cannot be changed"
}

// UniqueConflictError reports a unique-index violation on create/upsert.
type UniqueConflictError struct {
	Entity string
	Key    string
}

func (e *UniqueConflictError) Error() string {
	return "unique conflict on " + e.Entity + " (" + e.Key + ")"
}

// ReferenceViolationError reports an attempt to delete a row still
// referenced by dependents, when the safe (non-cascading) delete variant
// is used.
type ReferenceViolationError struct {
	Entity   string
	Referrer string
}

func (e *ReferenceViolationError) Error() string {
	return e.Entity + " still referenced by " + e.Referrer
}

// Store is the schema-enforced document store. Every method is a typed CRUD
// primitive; enforcement of uniqueness, immutability, and cascade/reject
// semantics lives entirely inside the implementation, not the caller.
type Store interface {
	// Users
	CreateUser(u *User) error
	GetUser(username string) (*User, error)
	ListUsers() ([]*User, error)
	UpdateUserPassword(username, passwordHash string) error
	DeleteUser(username string) error

	// NodeImages
	UpsertNodeImage(img *NodeImage) error
	GetNodeImage(model string, kind NodeKind, version string) (*NodeImage, error)
	GetDefaultNodeImage(model string, kind NodeKind) (*NodeImage, error)
	ListNodeImages() ([]*NodeImage, error)
	DeleteNodeImageSafe(model string, kind NodeKind, version string) error

	// Labs
	CreateLab(lab *Lab, nodes []*Node, links []*Link, bridges []*Bridge, members []*BridgeMember) error
	GetLab(labID string) (*Lab, error)
	GetLabByOwnerAndName(owner, name string) (*Lab, error)
	ListLabsByOwner(owner string) ([]*Lab, error)
	ListLabs() ([]*Lab, error)
	UpdateLab(lab *Lab) error
	DeleteLabCascade(labID string) error

	// Nodes
	ListNodes(labID string) ([]*Node, error)
	UpdateNodeState(labID, name string, state NodeState) error
	UpdateNodeMgmtIP(labID, name, mgmtIPv4 string) error

	// Links / Bridges
	UpdateLink(l *Link) error
	ListLinks(labID string) ([]*Link, error)
	ListBridges(labID string) ([]*Bridge, error)
	ListBridgeMembers(labID string, bridgeIndex uint16) ([]*BridgeMember, error)

	// Address pool bookkeeping, used by the allocator to avoid re-issuing
	// a loopback/management network already claimed by another lab.
	UsedLoopbackNetworks() (map[string]bool, error)
	UsedManagementNetworks() (map[string]bool, error)

	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY CHECK (length(username) >= 3),
	password_hash TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	ssh_keys TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS node_images (
	model TEXT NOT NULL,
	kind TEXT NOT NULL,
	version TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	cpu_count INTEGER NOT NULL DEFAULT 1,
	memory_mib INTEGER NOT NULL DEFAULT 512,
	interface_mtu INTEGER NOT NULL DEFAULT 1500,
	data_interface_count INTEGER NOT NULL DEFAULT 1,
	reserved_interface_count INTEGER NOT NULL DEFAULT 0,
	dedicated_management_interface INTEGER NOT NULL DEFAULT 0,
	interface_prefix TEXT NOT NULL DEFAULT 'eth',
	os_variant TEXT NOT NULL DEFAULT '',
	bios_type TEXT NOT NULL DEFAULT '',
	machine_type TEXT NOT NULL DEFAULT '',
	ztp_method TEXT NOT NULL DEFAULT 'none',
	PRIMARY KEY (model, kind, version)
);

CREATE TABLE IF NOT EXISTS labs (
	lab_id TEXT PRIMARY KEY CHECK (length(lab_id) = 8),
	name TEXT NOT NULL,
	user TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
	loopback_network TEXT NOT NULL,
	management_cidr TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(name, user)
);

CREATE TABLE IF NOT EXISTS nodes (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	idx INTEGER NOT NULL,
	model TEXT NOT NULL,
	image_kind TEXT NOT NULL,
	image_version TEXT NOT NULL,
	mgmt_ipv4 TEXT,
	mac TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'unknown',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (lab_id, name),
	UNIQUE(lab_id, idx)
);

CREATE TABLE IF NOT EXISTS links (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	kind TEXT NOT NULL,
	node_a TEXT NOT NULL,
	node_b TEXT NOT NULL,
	int_a TEXT NOT NULL,
	int_b TEXT NOT NULL,
	int_a_idx INTEGER NOT NULL,
	int_b_idx INTEGER NOT NULL,
	bridge_a TEXT,
	bridge_b TEXT,
	veth_a TEXT,
	veth_b TEXT,
	PRIMARY KEY (lab_id, idx),
	UNIQUE(lab_id, node_a, node_b, int_a, int_b)
);

CREATE TABLE IF NOT EXISTS bridges (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	bridge_name TEXT NOT NULL,
	network_name TEXT NOT NULL,
	PRIMARY KEY (lab_id, idx)
);

CREATE TABLE IF NOT EXISTS bridge_members (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	bridge_index INTEGER NOT NULL,
	node_name TEXT NOT NULL,
	interface_name TEXT NOT NULL,
	interface_index INTEGER NOT NULL,
	PRIMARY KEY (lab_id, bridge_index, node_name, interface_name)
);

CREATE INDEX IF NOT EXISTS idx_nodes_lab ON nodes(lab_id);
CREATE INDEX IF NOT EXISTS idx_links_lab ON links(lab_id);
CREATE INDEX IF NOT EXISTS idx_bridges_lab ON bridges(lab_id);
CREATE INDEX IF NOT EXISTS idx_labs_user ON labs(user);
`

// InitDB opens (creating if absent) the SQLite database at dbPath and
// applies the schema. Foreign-key enforcement is turned on explicitly —
// go-sqlite3 leaves it off by default.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return db, nil
}
