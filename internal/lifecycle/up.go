package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bwks/sherpa/internal/allocator"
	"github.com/bwks/sherpa/internal/hostnet"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/topology"
	"github.com/bwks/sherpa/internal/virt"
	"github.com/bwks/sherpa/internal/ztp"
)

// Up runs the full bring-up pipeline against m on behalf of user,
// identified within their namespace by labName. Phases 1-3 are atomic: a
// failure there returns a non-nil error and touches neither the store nor
// any host state. From phase 4 on, failures are accumulated into the
// returned UpSummary and the engine keeps working on everything still
// possible.
func (e *Engine) Up(ctx context.Context, m topology.Manifest, user, labName string, progress ProgressFunc) (*UpSummary, error) {
	emit := func(n int, name, msg string) {
		if progress != nil {
			progress(Progress{PhaseName: name, PhaseNumber: n, TotalPhases: TotalUpPhases, Message: msg})
		}
	}

	// Phase 1: Compile.
	emit(1, "compile", "compiling manifest")
	compiled, err := topology.Compile(m, e.images, e.images.ResolveInterface)
	if err != nil {
		return nil, err
	}

	// Phase 2: Reserve.
	emit(2, "reserve", "allocating identifiers")
	labID := allocator.LabID(user, labName)

	usedLoop, err := e.db.UsedLoopbackNetworks()
	if err != nil {
		return nil, fmt.Errorf("load used loopback networks: %w", err)
	}
	loopback, err := allocator.AllocateLoopback(usedLoop)
	if err != nil {
		return nil, sherr.Wrap(sherr.AddressPoolExhausted, "loopback allocation failed", err)
	}

	_, mgmtBase, err := net.ParseCIDR(e.managementCIDR)
	if err != nil {
		return nil, fmt.Errorf("parse configured management CIDR: %w", err)
	}
	usedMgmt, err := e.db.UsedManagementNetworks()
	if err != nil {
		return nil, fmt.Errorf("load used management networks: %w", err)
	}
	mgmtNet, err := allocator.AllocateManagement(mgmtBase, usedMgmt)
	if err != nil {
		return nil, sherr.Wrap(sherr.AddressPoolExhausted, "management allocation failed", err)
	}
	gatewayIP := firstUsableIP(mgmtNet)

	lab := &store.Lab{LabID: labID, Name: labName, User: user, LoopbackNetwork: loopback.String(), ManagementCIDR: mgmtNet.String()}

	owner, err := e.db.GetUser(user)
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	var ownerSSHKeys []string
	if owner != nil {
		ownerSSHKeys = owner.SSHKeys
	}

	nodes := make([]*store.Node, len(compiled.Nodes))
	for i, n := range compiled.Nodes {
		nodes[i] = &store.Node{
			LabID: labID, Name: n.Name, Index: n.Index, Model: n.Model,
			MAC: allocator.NodeMAC(labID, n.Index).String(), State: store.StateCreating,
		}
	}

	links := make([]*store.Link, len(compiled.Links))
	for i, l := range compiled.Links {
		links[i] = &store.Link{
			LabID: labID, Index: l.LinkIdx, Kind: store.LinkKind(l.Kind),
			NodeA: l.NodeA, NodeB: l.NodeB, IntA: l.IntA, IntB: l.IntB,
			IntAIdx: l.IntAIdx, IntBIdx: l.IntBIdx,
		}
		switch store.LinkKind(l.Kind) {
		case store.LinkP2PBridge, store.LinkP2PVeth:
			links[i].BridgeA = hostnet.LinkBridgeA(l.LinkIdx, labID)
			links[i].BridgeB = hostnet.LinkBridgeB(l.LinkIdx, labID)
			links[i].VethA = hostnet.LinkVethA(l.LinkIdx, labID)
			links[i].VethB = hostnet.LinkVethB(l.LinkIdx, labID)
		case store.LinkSharedBridge:
			// Both ends of a shared_bridge link name the same bridge: one
			// host bridge, no veth in between, both domains attached
			// directly — unlike the multi-point Bridge entity, this one
			// is scoped to a single link rather than the whole lab.
			name := fmt.Sprintf("lbs%d-%s", l.LinkIdx, labID)
			links[i].BridgeA = name
			links[i].BridgeB = name
		}
	}

	bridges := make([]*store.Bridge, len(compiled.Bridges))
	var members []*store.BridgeMember
	for i, b := range compiled.Bridges {
		bridges[i] = &store.Bridge{
			LabID: labID, Index: b.BridgeIdx, BridgeName: hostnet.SharedBridge(b.BridgeIdx, labID),
			NetworkName: networkName(labID, "bs", b.BridgeIdx),
		}
		for _, mem := range b.Members {
			members = append(members, &store.BridgeMember{
				LabID: labID, BridgeIndex: b.BridgeIdx, NodeName: mem.Node,
				InterfaceName: mem.Interface, InterfaceIndex: mem.IntIdx,
			})
		}
	}

	if err := e.db.CreateLab(lab, nodes, links, bridges, members); err != nil {
		return nil, err
	}

	summary := &UpSummary{LabID: labID, Success: true}
	labDir := e.labDir(labID)

	// Phase 3: Resolve images.
	emit(3, "resolve_images", "resolving node images")
	nodeImages := make(map[string]*store.NodeImage, len(nodes))
	for _, n := range nodes {
		kind, err := e.images.DefaultKind(n.Model)
		if err != nil {
			_ = e.db.DeleteLabCascade(labID)
			return nil, err
		}
		img, err := e.images.Resolve(n.Model, kind, "")
		if err != nil {
			_ = e.db.DeleteLabCascade(labID)
			return nil, err
		}
		nodeImages[n.Name] = img
		n.ImageKind = img.Kind
		n.ImageVer = img.Version
	}

	// Phase 4: Build artifacts.
	emit(4, "build_artifacts", "building ZTP artifacts")
	mgmtIPs := make(map[string]net.IP, len(nodes))
	for _, n := range nodes {
		mgmtIPs[n.Name] = hostIP(mgmtNet, int(n.Index))
	}
	for _, n := range nodes {
		img := nodeImages[n.Name]
		if err := e.buildArtifacts(labDir, labID, n, img, mgmtNet, gatewayIP, mgmtIPs[n.Name], ownerSSHKeys); err != nil {
			summary.fail(sherr.ImageNotFound, n.Name, err.Error())
			_ = e.db.UpdateNodeState(labID, n.Name, store.StateFailed)
		}
	}

	// Phase 5: Host networking.
	emit(5, "host_networking", "wiring host network objects")
	mgmtNetName := networkName(labID, "mgmt", 0)
	mgmtSpec := virt.NetworkSpec{
		Name: mgmtNetName, Kind: virt.NetworkManagement,
		Bridge: fmt.Sprintf("mgmt-%s", labID),
		CIDR:   mgmtNet.String(),
		DHCPRangeLo: hostIP(mgmtNet, 100).String(),
		DHCPRangeHi: hostIP(mgmtNet, 200).String(),
	}
	if err := e.virt.NetworkCreate(ctx, mgmtSpec); err != nil {
		summary.fail(sherr.LibvirtUnreachable, mgmtNetName, err.Error())
	}
	for _, l := range links {
		if err := e.wireLink(ctx, l); err != nil {
			summary.fail(sherr.InterfaceCreateFailed, fmt.Sprintf("link %d", l.Index), err.Error())
		}
	}
	for _, b := range bridges {
		if err := e.hostnet.BridgeCreate(b.BridgeName); err != nil {
			summary.fail(sherr.InterfaceCreateFailed, b.BridgeName, err.Error())
			continue
		}
		netSpec := virt.NetworkSpec{Name: b.NetworkName, Kind: virt.NetworkSharedBridge, Bridge: b.BridgeName}
		if err := e.virt.NetworkCreate(ctx, netSpec); err != nil {
			summary.fail(sherr.LibvirtUnreachable, b.NetworkName, err.Error())
		}
	}

	// Phase 6: Storage.
	emit(6, "storage", "cloning disk images")
	for _, n := range nodes {
		img := nodeImages[n.Name]
		if img.Kind == store.KindContainer {
			continue
		}
		src := e.images.DiskPath(n.Model, img.Version)
		dst := domainName(labID, n.Name)
		if err := e.virt.CloneDisk(ctx, e.storagePoolName, src, dst); err != nil {
			code := sherr.VolumeUploadFailed
			if errors.Is(err, os.ErrNotExist) {
				code = sherr.ImageNotFound
			}
			summary.fail(code, n.Name, err.Error())
			_ = e.db.UpdateNodeState(labID, n.Name, store.StateFailed)
			continue
		}
		if artifact := ztpArtifactPath(labDir, n.Name, img.ZTPMethod); artifact != "" {
			if err := e.virt.CloneDisk(ctx, e.storagePoolName, artifact, seedVolumeName(labID, n.Name)); err != nil {
				summary.fail(sherr.VolumeUploadFailed, n.Name+" (ztp seed)", err.Error())
				_ = e.db.UpdateNodeState(labID, n.Name, store.StateFailed)
			}
		}
	}

	// Phase 7: Domains.
	emit(7, "domains", "defining and starting domains/containers")
	for _, n := range nodes {
		img := nodeImages[n.Name]
		var startErr error
		if img.Kind == store.KindContainer {
			startErr = e.startContainer(ctx, labID, n, img, links, bridges, members)
		} else {
			startErr = e.startDomain(ctx, labID, n, img, links, bridges, members, mgmtNetName)
		}
		if startErr != nil {
			summary.fail(sherr.DomainDefineFailed, n.Name, startErr.Error())
			_ = e.db.UpdateNodeState(labID, n.Name, store.StateFailed)
			continue
		}
		_ = e.db.UpdateNodeState(labID, n.Name, store.StateRunning)
	}

	// Phase 8: Management settlement.
	emit(8, "settlement", "waiting for management addresses")
	deadline := time.Now().Add(ReadinessTimeout)
	for _, n := range nodes {
		img := nodeImages[n.Name]
		ip, err := e.settleManagementIP(ctx, labID, n, img, deadline)
		if err != nil {
			continue // best-effort: a node without a reported IP stays as-is
		}
		n.MgmtIPv4 = ip
		_ = e.db.UpdateNodeMgmtIP(labID, n.Name, ip)
	}

	// Phase 9: Emit SSH config & lab info.
	emit(9, "emit_artifacts", "writing lab-info.toml and ssh_config")
	if err := e.writeLabArtifacts(labDir, lab, nodes, gatewayIP); err != nil {
		summary.fail(sherr.VolumeUploadFailed, "lab-info", err.Error())
	}

	if len(summary.Errors) > 0 {
		summary.Success = false
	}
	return summary, nil
}

// firstUsableIP returns the .1 address of net, reserved for the
// management network's gateway/ZTP server (libvirt itself, in NAT mode).
func firstUsableIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]+1)
}

// hostIP derives a deterministic management address for a node from its
// declaration-order index, offset past the .1 gateway reservation.
func hostIP(n *net.IPNet, nodeIndex int) net.IP {
	ip := n.IP.To4()
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]+1+byte(nodeIndex))
}

func mustParseMAC(s string) net.HardwareAddr {
	mac, _ := net.ParseMAC(s)
	return mac
}

func (e *Engine) buildArtifacts(labDir, labID string, n *store.Node, img *store.NodeImage, mgmtNet *net.IPNet, gatewayIP, nodeIP net.IP, sshKeys []string) error {
	spec := ztp.NodeSpec{
		LabID: labID, NodeName: n.Name, Hostname: n.Name,
		Username: "admin", Password: "admin", SSHKeys: sshKeys,
		MgmtMAC: mustParseMAC(n.MAC), MgmtIPv4: nodeIP, MgmtNetwork: mgmtNet,
		GatewayIPv4: gatewayIP, ZTPServerIP: gatewayIP,
	}
	dir := nodeArtifactDir(labDir, n.Name)

	switch img.ZTPMethod {
	case store.ZTPCloudInit:
		return ztp.BuildCloudInit(spec, dir+"/cidata.iso")
	case store.ZTPIgnition:
		return ztp.BuildIgnition(spec, dir+"/ignition.ign")
	case store.ZTPVendorFlash:
		configPath, err := e.images.VendorConfigPath(n.Model)
		if err != nil {
			return err
		}
		tmpl := ztp.VendorTemplate{
			BlankImagePath: e.images.VendorBlankImagePath(n.Model),
			ConfigPath:     configPath,
		}
		return ztp.BuildVendorFlash(tmpl, []byte(renderVendorConfig(n.Model, spec)), dir+"/flash.img")
	case store.ZTPNone:
		return nil
	default:
		return fmt.Errorf("unknown ztp method %q", img.ZTPMethod)
	}
}

// nodeArtifactDir is the on-disk directory ZTP artifacts for one node are
// written under.
func nodeArtifactDir(labDir, nodeName string) string {
	return fmt.Sprintf("%s/%s", labDir, nodeName)
}

// ztpArtifactPath returns the artifact file buildArtifacts produced for
// method, or "" for ZTPNone (nothing to clone into the storage pool as a
// seed volume).
func ztpArtifactPath(labDir, nodeName string, method store.ZTPMethod) string {
	dir := nodeArtifactDir(labDir, nodeName)
	switch method {
	case store.ZTPCloudInit:
		return dir + "/cidata.iso"
	case store.ZTPIgnition:
		return dir + "/ignition.ign"
	case store.ZTPVendorFlash:
		return dir + "/flash.img"
	default:
		return ""
	}
}

// seedVolumeName is the storage-pool volume name a node's ZTP artifact is
// cloned under, distinct from its base disk volume (domainName).
func seedVolumeName(labID, nodeName string) string {
	return domainName(labID, nodeName) + "-seed"
}

// seedDeviceKind reports the libvirt disk "device" attribute a ZTP seed
// volume should be attached as: an optical drive for cloud-init's cidata
// ISO, or a plain disk for a vendor flash image and for Ignition, which
// guests read as a regular block device.
func seedDeviceKind(method store.ZTPMethod) string {
	switch method {
	case store.ZTPCloudInit:
		return "cdrom"
	case store.ZTPVendorFlash:
		return "disk"
	case store.ZTPIgnition:
		return "disk"
	default:
		return ""
	}
}
