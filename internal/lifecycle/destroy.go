package lifecycle

import (
	"context"
	"os"
	"strings"

	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/virt"
)

// Destroy tears down every host and hypervisor object belonging to lab_id
// in reverse order of creation. Every step is
// best-effort: a single failure is recorded and the engine keeps going,
// so a partially-broken lab is never left worse off than before the call.
func (e *Engine) Destroy(ctx context.Context, labID, user string, progress ProgressFunc) (*DestroySummary, error) {
	emit := func(n int, name, msg string) {
		if progress != nil {
			progress(Progress{PhaseName: name, PhaseNumber: n, TotalPhases: TotalDestroySteps, Message: msg})
		}
	}

	summary := &DestroySummary{LabID: labID, Success: true}

	// Step 1: containers.
	emit(1, "containers", "removing containers")
	containerList, err := e.containers.ContainerList(ctx, true, labID)
	if err != nil {
		summary.Success = false
	}
	for _, c := range containerList {
		name := strings.TrimPrefix(firstName(c.Names), "/")
		if err := e.containers.ContainerKill(ctx, c.ID, "SIGKILL"); err != nil {
			summary.ContainersFail = append(summary.ContainersFail, name)
			continue
		}
		if err := e.containers.ContainerRemove(ctx, c.ID, true); err != nil {
			summary.ContainersFail = append(summary.ContainersFail, name)
			continue
		}
		summary.ContainersOK = append(summary.ContainersOK, name)
	}

	// Step 2: domains and their storage volumes.
	emit(2, "domains", "destroying domains")
	nodes, err := e.db.ListNodes(labID)
	if err != nil {
		summary.Success = false
	}
	for _, n := range nodes {
		if n.ImageKind == store.KindContainer {
			continue
		}
		name := domainName(labID, n.Name)
		if err := e.virt.DomainUndefine(ctx, name, virt.UndefineNVRAM); err != nil {
			summary.DomainsFail = append(summary.DomainsFail, name)
			continue
		}
		if err := e.virt.DomainDestroy(ctx, name); err != nil {
			summary.DomainsFail = append(summary.DomainsFail, name)
			continue
		}
		_ = e.virt.DeleteDisk(ctx, e.storagePoolName, name)
		_ = e.virt.DeleteDisk(ctx, e.storagePoolName, seedVolumeName(labID, n.Name))
		summary.DomainsOK = append(summary.DomainsOK, name)
	}

	// Step 3: host interfaces (veth/bridge) by lab_id substring.
	emit(3, "interfaces", "removing host interfaces")
	ifaces, err := e.hostnet.FindInterfacesFuzzy(labID)
	if err != nil {
		summary.Success = false
	}
	for _, name := range ifaces {
		if !hasAnyPrefix(name, "vea", "bra", "brb", "bs", "lbs") {
			continue
		}
		if err := e.hostnet.InterfaceDelete(name); err != nil {
			summary.InterfacesFail = append(summary.InterfacesFail, name)
			continue
		}
		summary.InterfacesOK = append(summary.InterfacesOK, name)
	}

	// Step 4: Docker networks.
	emit(4, "docker_networks", "removing docker networks")
	dockerNets, err := e.containers.NetworkList(ctx, labID)
	if err != nil {
		summary.Success = false
	}
	for _, n := range dockerNets {
		if err := e.containers.NetworkRemove(ctx, n.Name); err != nil {
			summary.NetworksFail = append(summary.NetworksFail, n.Name)
			continue
		}
		summary.NetworksOK = append(summary.NetworksOK, n.Name)
	}

	// Step 5: libvirt networks.
	emit(5, "libvirt_networks", "removing libvirt networks")
	libvirtNets, err := e.virt.ListNetworksFuzzy(ctx, labID)
	if err != nil {
		summary.Success = false
	}
	for _, name := range libvirtNets {
		if err := e.virt.NetworkDestroy(ctx, name); err != nil {
			summary.NetworksFail = append(summary.NetworksFail, name)
			continue
		}
		summary.NetworksOK = append(summary.NetworksOK, name)
	}

	// Step 6: cascade-delete the lab row.
	emit(6, "store", "removing lab record")
	if err := e.db.DeleteLabCascade(labID); err != nil {
		summary.Success = false
	}

	// Step 7: remove the lab's on-disk directory.
	emit(7, "lab_directory", "removing lab directory")
	if err := os.RemoveAll(e.labDir(labID)); err != nil {
		summary.Success = false
	}

	if len(summary.ContainersFail) > 0 || len(summary.DomainsFail) > 0 ||
		len(summary.InterfacesFail) > 0 || len(summary.NetworksFail) > 0 {
		summary.Success = false
	}
	return summary, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
