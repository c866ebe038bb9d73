package lifecycle

import (
	"context"

	"github.com/bwks/sherpa/internal/store"
)

// Suspend pauses every running domain belonging to lab_id. A domain
// that is already paused or inactive is left alone and
// still reported as a success — the batch never fails because one domain
// was already in the requested state.
func (e *Engine) Suspend(ctx context.Context, labID string) ([]VmActionResult, error) {
	return e.forEachDomain(ctx, labID, func(name string) error {
		active, err := e.virt.IsActive(ctx, name)
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		return e.virt.DomainSuspend(ctx, name)
	})
}

// Resume unpauses every paused domain belonging to lab_id. DomainResume
// itself is already a no-op for a domain that isn't paused.
func (e *Engine) Resume(ctx context.Context, labID string) ([]VmActionResult, error) {
	return e.forEachDomain(ctx, labID, func(name string) error {
		return e.virt.DomainResume(ctx, name)
	})
}

// forEachDomain applies action to every VM/unikernel node's domain in
// lab_id, collecting one VmActionResult per node regardless of outcome.
func (e *Engine) forEachDomain(ctx context.Context, labID string, action func(domain string) error) ([]VmActionResult, error) {
	nodes, err := e.db.ListNodes(labID)
	if err != nil {
		return nil, err
	}

	results := make([]VmActionResult, 0, len(nodes))
	for _, n := range nodes {
		if n.ImageKind == store.KindContainer {
			continue
		}
		name := domainName(labID, n.Name)
		if err := action(name); err != nil {
			results = append(results, VmActionResult{NodeName: n.Name, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, VmActionResult{NodeName: n.Name, Success: true})
	}
	return results, nil
}
