// Package containers wraps the Docker API behind the adapter surface the
// lab lifecycle engine uses for Container-kind nodes: a thin
// *client.Client wrapper with idempotent network creation and a
// retry-on-ErrImageNotFound pull-then-create pattern.
package containers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Adapter wraps a Docker client. Unlike virt.Adapter, the Docker client is
// safe for concurrent use, so no worker-pool indirection is needed here.
type Adapter struct {
	cli *client.Client
}

// Connect opens a Docker client from the ambient environment (DOCKER_HOST
// and friends), negotiating the API version with the daemon.
func Connect() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Close releases the underlying Docker client's transport.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ContainerSpec describes one node's container run configuration.
type ContainerSpec struct {
	Name       string
	Image      string
	Hostname   string
	Cmd        []string
	Env        []string
	Labels     map[string]string
	Privileged bool
	Networks   []string
}

// ContainerRun creates and starts a container, pulling its image first if
// the daemon doesn't already have it. Returns the new container's ID.
func (a *Adapter) ContainerRun(ctx context.Context, spec ContainerSpec) (string, error) {
	networking := &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{}}
	for _, n := range spec.Networks {
		networking.EndpointsConfig[n] = &network.EndpointSettings{}
	}

	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Cmd:      spec.Cmd,
		Env:      spec.Env,
		Labels:   spec.Labels,
	}
	hostCfg := &container.HostConfig{
		Privileged:    spec.Privileged,
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, networking, nil, spec.Name)
	if err != nil {
		if !client.IsErrNotFound(err) {
			return "", fmt.Errorf("create container %s: %w", spec.Name, err)
		}
		if perr := a.imagePull(ctx, spec.Image); perr != nil {
			return "", perr
		}
		resp, err = a.cli.ContainerCreate(ctx, cfg, hostCfg, networking, nil, spec.Name)
		if err != nil {
			return "", fmt.Errorf("create container %s after pull: %w", spec.Name, err)
		}
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// ContainerKill sends signal to a running container. A missing container
// is not an error.
func (a *Adapter) ContainerKill(ctx context.Context, name, signal string) error {
	if err := a.cli.ContainerKill(ctx, name, signal); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("kill container %s: %w", name, err)
	}
	return nil
}

// ContainerRemove force-removes a container by name. A missing container
// is not an error.
func (a *Adapter) ContainerRemove(ctx context.Context, name string, force bool) error {
	err := a.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// ContainerList lists containers, optionally including stopped ones, whose
// name contains substr (substr == "" lists all).
func (a *Adapter) ContainerList(ctx context.Context, all bool, substr string) ([]types.Container, error) {
	list, err := a.cli.ContainerList(ctx, types.ContainerListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if substr == "" {
		return list, nil
	}

	var out []types.Container
	for _, c := range list {
		for _, name := range c.Names {
			if strings.Contains(name, substr) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// NetworkList lists Docker networks whose name contains substr.
func (a *Adapter) NetworkList(ctx context.Context, substr string) ([]types.NetworkResource, error) {
	args := filters.NewArgs()
	nets, err := a.cli.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	if substr == "" {
		return nets, nil
	}
	var out []types.NetworkResource
	for _, n := range nets {
		if strings.Contains(n.Name, substr) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ContainerIPAddress returns the first IP address Docker's embedded DNS/IPAM
// reports for name across any network it is attached to, used during
// management settlement the same way virt.ManagementIP is for domains.
func (a *Adapter) ContainerIPAddress(ctx context.Context, name string) (string, error) {
	info, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", name, err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", name)
	}
	for _, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", fmt.Errorf("no address reported for container %s", name)
}

// ImageList lists locally present images.
func (a *Adapter) ImageList(ctx context.Context) ([]types.ImageSummary, error) {
	images, err := a.cli.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// imagePull consumes the layered progress stream Docker returns for a pull,
// surfacing a single error once the stream ends or fails.
func (a *Adapter) imagePull(ctx context.Context, ref string) error {
	r, err := a.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer r.Close()

	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("pull image %s: stream error: %w", ref, err)
	}
	return nil
}

// ImagePull pulls repo:tag into the local Docker image store directly,
// for the pull_container_image RPC method. Container images never get an
// on-disk artifact under the images tree.
func (a *Adapter) ImagePull(ctx context.Context, repo, tag string) error {
	if tag == "" {
		tag = "latest"
	}
	return a.imagePull(ctx, repo+":"+tag)
}
