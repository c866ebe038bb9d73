package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/bwks/sherpa/internal/store"
)

// settleManagementIP polls for a node's reported management address at
// ReadinessSleep intervals until either it appears or deadline passes. A
// timeout is reported as an error to the caller, which treats it as
// best-effort and moves on.
func (e *Engine) settleManagementIP(ctx context.Context, labID string, n *store.Node, img *store.NodeImage, deadline time.Time) (string, error) {
	lookup := func() (string, error) {
		if img.Kind == store.KindContainer {
			return e.containers.ContainerIPAddress(ctx, containerName(labID, n.Name))
		}
		return e.virt.ManagementIP(ctx, domainName(labID, n.Name))
	}

	for {
		ip, err := lookup()
		if err == nil && ip != "" {
			return ip, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("management address for %s did not settle before deadline", n.Name)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(ReadinessSleep):
		}
	}
}
