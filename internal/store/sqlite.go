package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore is the concrete Store backed by database/sql + go-sqlite3.
// Cascade and reject semantics are implemented here as
// explicit transactions rather than relied upon from SQLite's own
// ON DELETE CASCADE, so that the _safe variant can detect dependents
// before anything commits.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- Users --

func (s *SQLiteStore) CreateUser(u *User) error {
	keys, err := json.Marshal(u.SSHKeys)
	if err != nil {
		return err
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err = s.db.Exec(
		`INSERT INTO users (username, password_hash, is_admin, ssh_keys, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.IsAdmin, string(keys), now, now,
	)
	if isUniqueViolation(err) {
		return &UniqueConflictError{Entity: "User", Key: "username"}
	}
	return err
}

func (s *SQLiteStore) GetUser(username string) (*User, error) {
	u := &User{}
	var keys string
	err := s.db.QueryRow(
		`SELECT username, password_hash, is_admin, ssh_keys, created_at, updated_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.PasswordHash, &u.IsAdmin, &keys, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keys), &u.SSHKeys); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT username, password_hash, is_admin, ssh_keys, created_at, updated_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var keys string
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.IsAdmin, &keys, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keys), &u.SSHKeys); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUserPassword(username, passwordHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`, passwordHash, time.Now(), username)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "User", username)
}

func (s *SQLiteStore) DeleteUser(username string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var labCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM labs WHERE user = ?`, username).Scan(&labCount); err != nil {
		return err
	}
	if labCount > 0 {
		return &ReferenceViolationError{Entity: "User", Referrer: "Lab"}
	}
	res, err := tx.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	if err := requireRowsAffected(res, "User", username); err != nil {
		return err
	}
	return tx.Commit()
}

// -- NodeImages --

// UpsertNodeImage creates or replaces the (model, kind, version) row. When
// img.Default is true, every sibling version of the same (model, kind) has
// its default flag cleared in the same transaction, so at most one
// default exists per (model, kind) at any quiescent moment.
func (s *SQLiteStore) UpsertNodeImage(img *NodeImage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if img.Default {
		if _, err := tx.Exec(
			`UPDATE node_images SET is_default = 0 WHERE model = ? AND kind = ?`,
			img.Model, img.Kind,
		); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO node_images (model, kind, version, is_default, cpu_count, memory_mib, interface_mtu,
			data_interface_count, reserved_interface_count, dedicated_management_interface, interface_prefix,
			os_variant, bios_type, machine_type, ztp_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model, kind, version) DO UPDATE SET
			is_default = excluded.is_default, cpu_count = excluded.cpu_count, memory_mib = excluded.memory_mib,
			interface_mtu = excluded.interface_mtu, data_interface_count = excluded.data_interface_count,
			reserved_interface_count = excluded.reserved_interface_count,
			dedicated_management_interface = excluded.dedicated_management_interface,
			interface_prefix = excluded.interface_prefix, os_variant = excluded.os_variant,
			bios_type = excluded.bios_type, machine_type = excluded.machine_type, ztp_method = excluded.ztp_method`,
		img.Model, img.Kind, img.Version, img.Default, img.CPUCount, img.MemoryMiB, img.InterfaceMTU,
		img.DataInterfaceCount, img.ReservedInterfaceCount, img.DedicatedManagementInterface, img.InterfacePrefix,
		img.OSVariant, img.BIOSType, img.MachineType, img.ZTPMethod,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func scanNodeImage(row interface{ Scan(...any) error }) (*NodeImage, error) {
	img := &NodeImage{}
	err := row.Scan(
		&img.Model, &img.Kind, &img.Version, &img.Default, &img.CPUCount, &img.MemoryMiB, &img.InterfaceMTU,
		&img.DataInterfaceCount, &img.ReservedInterfaceCount, &img.DedicatedManagementInterface, &img.InterfacePrefix,
		&img.OSVariant, &img.BIOSType, &img.MachineType, &img.ZTPMethod,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return img, err
}

const nodeImageColumns = `model, kind, version, is_default, cpu_count, memory_mib, interface_mtu,
	data_interface_count, reserved_interface_count, dedicated_management_interface, interface_prefix,
	os_variant, bios_type, machine_type, ztp_method`

func (s *SQLiteStore) GetNodeImage(model string, kind NodeKind, version string) (*NodeImage, error) {
	row := s.db.QueryRow(`SELECT `+nodeImageColumns+` FROM node_images WHERE model = ? AND kind = ? AND version = ?`, model, kind, version)
	return scanNodeImage(row)
}

func (s *SQLiteStore) GetDefaultNodeImage(model string, kind NodeKind) (*NodeImage, error) {
	row := s.db.QueryRow(`SELECT `+nodeImageColumns+` FROM node_images WHERE model = ? AND kind = ? AND is_default = 1`, model, kind)
	return scanNodeImage(row)
}

func (s *SQLiteStore) ListNodeImages() ([]*NodeImage, error) {
	rows, err := s.db.Query(`SELECT ` + nodeImageColumns + ` FROM node_images ORDER BY model, kind, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*NodeImage
	for rows.Next() {
		img, err := scanNodeImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLiteStore) DeleteNodeImageSafe(model string, kind NodeKind, version string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var refCount int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM nodes WHERE model = ? AND image_kind = ? AND image_version = ?`,
		model, kind, version,
	).Scan(&refCount); err != nil {
		return err
	}
	if refCount > 0 {
		return &ReferenceViolationError{Entity: "NodeImage", Referrer: "Node"}
	}
	res, err := tx.Exec(`DELETE FROM node_images WHERE model = ? AND kind = ? AND version = ?`, model, kind, version)
	if err != nil {
		return err
	}
	if err := requireRowsAffected(res, "NodeImage", model+"/"+string(kind)+"/"+version); err != nil {
		return err
	}
	return tx.Commit()
}

// -- Labs --

// CreateLab persists a lab together with its compiled nodes, links, bridges
// and bridge members in a single transaction: either the whole topology
// lands or none of it does.
func (s *SQLiteStore) CreateLab(lab *Lab, nodes []*Node, links []*Link, bridges []*Bridge, members []*BridgeMember) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	lab.CreatedAt = now
	if _, err := tx.Exec(
		`INSERT INTO labs (lab_id, name, user, loopback_network, management_cidr, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		lab.LabID, lab.Name, lab.User, lab.LoopbackNetwork, lab.ManagementCIDR, now,
	); err != nil {
		if isUniqueViolation(err) {
			return &UniqueConflictError{Entity: "Lab", Key: "lab_id_or_name"}
		}
		return err
	}

	for _, n := range nodes {
		n.CreatedAt = now
		if n.State == "" {
			n.State = StateUnknown
		}
		if _, err := tx.Exec(
			`INSERT INTO nodes (lab_id, name, idx, model, image_kind, image_version, mgmt_ipv4, mac, state, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lab.LabID, n.Name, n.Index, n.Model, n.ImageKind, n.ImageVer, nullableString(n.MgmtIPv4), n.MAC, n.State, now,
		); err != nil {
			if isUniqueViolation(err) {
				return &UniqueConflictError{Entity: "Node", Key: "name_or_index"}
			}
			return err
		}
	}

	for _, l := range links {
		if _, err := tx.Exec(
			`INSERT INTO links (lab_id, idx, kind, node_a, node_b, int_a, int_b, int_a_idx, int_b_idx, bridge_a, bridge_b, veth_a, veth_b)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lab.LabID, l.Index, l.Kind, l.NodeA, l.NodeB, l.IntA, l.IntB, l.IntAIdx, l.IntBIdx,
			nullableString(l.BridgeA), nullableString(l.BridgeB), nullableString(l.VethA), nullableString(l.VethB),
		); err != nil {
			if isUniqueViolation(err) {
				return &UniqueConflictError{Entity: "Link", Key: "node_a_node_b_int_a_int_b"}
			}
			return err
		}
	}

	for _, b := range bridges {
		if _, err := tx.Exec(
			`INSERT INTO bridges (lab_id, idx, bridge_name, network_name) VALUES (?, ?, ?, ?)`,
			lab.LabID, b.Index, b.BridgeName, b.NetworkName,
		); err != nil {
			if isUniqueViolation(err) {
				return &UniqueConflictError{Entity: "Bridge", Key: "index"}
			}
			return err
		}
	}

	for _, m := range members {
		if _, err := tx.Exec(
			`INSERT INTO bridge_members (lab_id, bridge_index, node_name, interface_name, interface_index) VALUES (?, ?, ?, ?, ?)`,
			lab.LabID, m.BridgeIndex, m.NodeName, m.InterfaceName, m.InterfaceIndex,
		); err != nil {
			if isUniqueViolation(err) {
				return &UniqueConflictError{Entity: "BridgeMember", Key: "node_interface"}
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetLab(labID string) (*Lab, error) {
	lab := &Lab{}
	err := s.db.QueryRow(
		`SELECT lab_id, name, user, loopback_network, management_cidr, created_at FROM labs WHERE lab_id = ?`, labID,
	).Scan(&lab.LabID, &lab.Name, &lab.User, &lab.LoopbackNetwork, &lab.ManagementCIDR, &lab.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lab, err
}

func (s *SQLiteStore) GetLabByOwnerAndName(owner, name string) (*Lab, error) {
	lab := &Lab{}
	err := s.db.QueryRow(
		`SELECT lab_id, name, user, loopback_network, management_cidr, created_at FROM labs WHERE user = ? AND name = ?`, owner, name,
	).Scan(&lab.LabID, &lab.Name, &lab.User, &lab.LoopbackNetwork, &lab.ManagementCIDR, &lab.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lab, err
}

func (s *SQLiteStore) ListLabsByOwner(owner string) ([]*Lab, error) {
	return s.queryLabs(`SELECT lab_id, name, user, loopback_network, management_cidr, created_at FROM labs WHERE user = ? ORDER BY created_at DESC`, owner)
}

func (s *SQLiteStore) ListLabs() ([]*Lab, error) {
	return s.queryLabs(`SELECT lab_id, name, user, loopback_network, management_cidr, created_at FROM labs ORDER BY created_at DESC`)
}

func (s *SQLiteStore) queryLabs(query string, args ...any) ([]*Lab, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labs []*Lab
	for rows.Next() {
		lab := &Lab{}
		if err := rows.Scan(&lab.LabID, &lab.Name, &lab.User, &lab.LoopbackNetwork, &lab.ManagementCIDR, &lab.CreatedAt); err != nil {
			return nil, err
		}
		labs = append(labs, lab)
	}
	return labs, rows.Err()
}

// UpdateLab replaces a lab's mutable fields (name, loopback_network,
// management_cidr), keyed by lab_id. The owner is immutable: an attempt
// to move a lab between users fails before anything is written.
func (s *SQLiteStore) UpdateLab(lab *Lab) error {
	existing, err := s.GetLab(lab.LabID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("Lab %q: not found", lab.LabID)
	}
	if lab.User != existing.User {
		return &ImmutableFieldError{Entity: "Lab", Field: "user"}
	}

	res, err := s.db.Exec(
		`UPDATE labs SET name = ?, loopback_network = ?, management_cidr = ? WHERE lab_id = ?`,
		lab.Name, lab.LoopbackNetwork, lab.ManagementCIDR, lab.LabID,
	)
	if isUniqueViolation(err) {
		return &UniqueConflictError{Entity: "Lab", Key: "name"}
	}
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "Lab", lab.LabID)
}

// DeleteLabCascade removes a lab and every node, link, bridge and
// bridge-member row that references it, in one transaction. Cascade
// order: Link, then Bridge, then Node, then Lab.
func (s *SQLiteStore) DeleteLabCascade(labID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM links WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bridge_members WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bridges WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM labs WHERE lab_id = ?`, labID); err != nil {
		return err
	}

	return tx.Commit()
}

// -- Nodes --

func (s *SQLiteStore) ListNodes(labID string) ([]*Node, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, name, idx, model, image_kind, image_version, COALESCE(mgmt_ipv4, ''), mac, state, created_at
		 FROM nodes WHERE lab_id = ? ORDER BY idx`, labID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n := &Node{}
		if err := rows.Scan(&n.LabID, &n.Name, &n.Index, &n.Model, &n.ImageKind, &n.ImageVer, &n.MgmtIPv4, &n.MAC, &n.State, &n.CreatedAt); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) UpdateNodeState(labID, name string, state NodeState) error {
	res, err := s.db.Exec(`UPDATE nodes SET state = ? WHERE lab_id = ? AND name = ?`, state, labID, name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "Node", name)
}

func (s *SQLiteStore) UpdateNodeMgmtIP(labID, name, mgmtIPv4 string) error {
	res, err := s.db.Exec(`UPDATE nodes SET mgmt_ipv4 = ? WHERE lab_id = ? AND name = ?`, nullableString(mgmtIPv4), labID, name)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "Node", name)
}

// -- Links / Bridges --

// UpdateLink replaces a link's mutable fields (kind, interface names and
// indices, bridge/veth names), keyed by (lab_id, idx). The lab and both
// endpoints are immutable: rewiring a link between nodes means deleting
// and recreating it.
func (s *SQLiteStore) UpdateLink(l *Link) error {
	existing := &Link{}
	err := s.db.QueryRow(
		`SELECT node_a, node_b FROM links WHERE lab_id = ? AND idx = ?`, l.LabID, l.Index,
	).Scan(&existing.NodeA, &existing.NodeB)
	if err == sql.ErrNoRows {
		return fmt.Errorf("Link %q/%d: not found", l.LabID, l.Index)
	}
	if err != nil {
		return err
	}
	if l.NodeA != existing.NodeA {
		return &ImmutableFieldError{Entity: "Link", Field: "node_a"}
	}
	if l.NodeB != existing.NodeB {
		return &ImmutableFieldError{Entity: "Link", Field: "node_b"}
	}

	res, err := s.db.Exec(
		`UPDATE links SET kind = ?, int_a = ?, int_b = ?, int_a_idx = ?, int_b_idx = ?,
			bridge_a = ?, bridge_b = ?, veth_a = ?, veth_b = ?
		 WHERE lab_id = ? AND idx = ?`,
		l.Kind, l.IntA, l.IntB, l.IntAIdx, l.IntBIdx,
		nullableString(l.BridgeA), nullableString(l.BridgeB), nullableString(l.VethA), nullableString(l.VethB),
		l.LabID, l.Index,
	)
	if isUniqueViolation(err) {
		return &UniqueConflictError{Entity: "Link", Key: "endpoints"}
	}
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "Link", l.LabID)
}

func (s *SQLiteStore) ListLinks(labID string) ([]*Link, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, idx, kind, node_a, node_b, int_a, int_b, int_a_idx, int_b_idx,
			COALESCE(bridge_a, ''), COALESCE(bridge_b, ''), COALESCE(veth_a, ''), COALESCE(veth_b, '')
		 FROM links WHERE lab_id = ? ORDER BY idx`, labID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l := &Link{}
		if err := rows.Scan(&l.LabID, &l.Index, &l.Kind, &l.NodeA, &l.NodeB, &l.IntA, &l.IntB, &l.IntAIdx, &l.IntBIdx,
			&l.BridgeA, &l.BridgeB, &l.VethA, &l.VethB); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) ListBridges(labID string) ([]*Bridge, error) {
	rows, err := s.db.Query(`SELECT lab_id, idx, bridge_name, network_name FROM bridges WHERE lab_id = ? ORDER BY idx`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bridges []*Bridge
	for rows.Next() {
		b := &Bridge{}
		if err := rows.Scan(&b.LabID, &b.Index, &b.BridgeName, &b.NetworkName); err != nil {
			return nil, err
		}
		bridges = append(bridges, b)
	}
	return bridges, rows.Err()
}

func (s *SQLiteStore) ListBridgeMembers(labID string, bridgeIndex uint16) ([]*BridgeMember, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, bridge_index, node_name, interface_name, interface_index FROM bridge_members
		 WHERE lab_id = ? AND bridge_index = ? ORDER BY node_name`, labID, bridgeIndex,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*BridgeMember
	for rows.Next() {
		m := &BridgeMember{}
		if err := rows.Scan(&m.LabID, &m.BridgeIndex, &m.NodeName, &m.InterfaceName, &m.InterfaceIndex); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// -- Address pool bookkeeping --

func (s *SQLiteStore) UsedLoopbackNetworks() (map[string]bool, error) {
	return s.usedNetworks(`SELECT loopback_network FROM labs`)
}

func (s *SQLiteStore) UsedManagementNetworks() (map[string]bool, error) {
	return s.usedNetworks(`SELECT management_cidr FROM labs`)
}

func (s *SQLiteStore) usedNetworks(query string) (map[string]bool, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var cidr string
		if err := rows.Scan(&cidr); err != nil {
			return nil, err
		}
		used[cidr] = true
	}
	return used, rows.Err()
}

// -- helpers --

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowsAffected(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: not found", entity, key)
	}
	return nil
}

// isUniqueViolation detects go-sqlite3's "UNIQUE constraint failed" error
// text. The driver doesn't expose a typed sentinel for this, and callers
// need a distinct UniqueConflict code rather than a bare driver error
// bubbling up.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "PRIMARY KEY constraint")
}
