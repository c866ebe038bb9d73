package containers

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// NetworkCreateBridge idempotently creates a bridge-driver Docker network
// scoped to subnet, with bridge as the kernel bridge device name Docker
// manages for it.
func (a *Adapter) NetworkCreateBridge(ctx context.Context, name, subnet, bridge string) error {
	if a.networkExists(ctx, name) {
		return nil
	}

	_, err := a.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		},
		Options: map[string]string{
			"com.docker.network.bridge.name": bridge,
		},
	})
	if err != nil {
		return fmt.Errorf("create bridge network %s: %w", name, err)
	}
	return nil
}

// NetworkCreateMacvlan idempotently creates a macvlan-driver network
// parented on an existing host interface, giving a container a pure-L2
// attachment so it can peer directly with a VM on the same link.
func (a *Adapter) NetworkCreateMacvlan(ctx context.Context, name, parent string) error {
	if a.networkExists(ctx, name) {
		return nil
	}

	_, err := a.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "macvlan",
		Options: map[string]string{
			"parent": parent,
		},
	})
	if err != nil {
		return fmt.Errorf("create macvlan network %s: %w", name, err)
	}
	return nil
}

// NetworkRemove removes a Docker network by name. A missing network is
// not an error.
func (a *Adapter) NetworkRemove(ctx context.Context, name string) error {
	if err := a.cli.NetworkRemove(ctx, name); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) networkExists(ctx context.Context, name string) bool {
	_, err := a.cli.NetworkInspect(ctx, name, types.NetworkInspectOptions{})
	return err == nil
}
