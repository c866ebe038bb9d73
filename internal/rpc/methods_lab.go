package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/lifecycle"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/topology"
)

// LabSummary is the wire shape of a Lab row.
type LabSummary struct {
	LabID           string    `json:"lab_id"`
	Name            string    `json:"name"`
	User            string    `json:"user"`
	LoopbackNetwork string    `json:"loopback_network"`
	ManagementCIDR  string    `json:"management_cidr"`
	CreatedAt       time.Time `json:"created_at"`
}

func labSummary(l *store.Lab) LabSummary {
	return LabSummary{
		LabID: l.LabID, Name: l.Name, User: l.User,
		LoopbackNetwork: l.LoopbackNetwork, ManagementCIDR: l.ManagementCIDR,
		CreatedAt: l.CreatedAt,
	}
}

// ListLabsResponse is list_labs's result: the caller's own labs only;
// admins see everyone's labs through inspect, not here.
type ListLabsResponse struct {
	Labs []LabSummary `json:"labs"`
}

func handleListLabs(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	labs, err := s.store.ListLabsByOwner(ac.Username)
	if err != nil {
		return nil, err
	}
	out := make([]LabSummary, 0, len(labs))
	for _, l := range labs {
		out = append(out, labSummary(l))
	}
	return ListLabsResponse{Labs: out}, nil
}

type labRefParams struct {
	tokenParams
	LabID string `json:"lab_id"`
}

// InspectResponse is inspect's result: the lab row plus its full device
// graph.
type InspectResponse struct {
	Lab     LabSummary      `json:"lab"`
	Nodes   []*store.Node   `json:"nodes"`
	Links   []*store.Link   `json:"links"`
	Bridges []*store.Bridge `json:"bridges"`
}

func handleInspect(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p labRefParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := auth.RequireLabOwnerOrAdmin(ac, s.store, p.LabID); err != nil {
		return nil, err
	}

	lab, err := s.store.GetLab(p.LabID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(p.LabID)
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListLinks(p.LabID)
	if err != nil {
		return nil, err
	}
	bridges, err := s.store.ListBridges(p.LabID)
	if err != nil {
		return nil, err
	}

	return InspectResponse{Lab: labSummary(lab), Nodes: nodes, Links: links, Bridges: bridges}, nil
}

type upParams struct {
	tokenParams
	Manifest string `json:"manifest"`
	Name     string `json:"name"`
}

func forwardLifecycleProgress(progress chan<- Progress) lifecycle.ProgressFunc {
	return func(lp lifecycle.Progress) {
		progress <- Progress{
			Kind:    StatusProgress,
			Message: lp.Message,
			Phase:   lp.PhaseName,
			Info: &ProgressInfo{
				CurrentPhase: lp.PhaseName,
				PhaseNumber:  lp.PhaseNumber,
				TotalPhases:  lp.TotalPhases,
			},
		}
	}
}

// handleUp is the only method that creates a lab rather than acting on one,
// so it has no lab_id to check ownership against yet: the new lab is always
// created under the caller's own username, and the per-lab advisory lock
// is keyed by (user, name) until the engine assigns a lab_id.
func handleUp(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p upParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}

	m, err := topology.ParseManifest([]byte(p.Manifest))
	if err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "parse manifest", err)
	}

	mu := s.labMutex(ac.Username + "/" + p.Name)
	mu.Lock()
	defer mu.Unlock()

	return s.engine.Up(ctx, m, ac.Username, p.Name, forwardLifecycleProgress(progress))
}

func handleDestroy(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p labRefParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := auth.RequireLabOwnerOrAdmin(ac, s.store, p.LabID); err != nil {
		return nil, err
	}

	mu := s.labMutex(p.LabID)
	mu.Lock()
	defer mu.Unlock()

	return s.engine.Destroy(ctx, p.LabID, ac.Username, forwardLifecycleProgress(progress))
}

// LabVmActionResponse is down/resume's result.
type LabVmActionResponse struct {
	LabID   string                      `json:"lab_id"`
	Results []lifecycle.VmActionResult `json:"results"`
}

func handleDown(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p labRefParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := auth.RequireLabOwnerOrAdmin(ac, s.store, p.LabID); err != nil {
		return nil, err
	}

	mu := s.labMutex(p.LabID)
	mu.Lock()
	defer mu.Unlock()

	results, err := s.engine.Suspend(ctx, p.LabID)
	if err != nil {
		return nil, err
	}
	return LabVmActionResponse{LabID: p.LabID, Results: results}, nil
}

func handleResume(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p labRefParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := auth.RequireLabOwnerOrAdmin(ac, s.store, p.LabID); err != nil {
		return nil, err
	}

	mu := s.labMutex(p.LabID)
	mu.Lock()
	defer mu.Unlock()

	results, err := s.engine.Resume(ctx, p.LabID)
	if err != nil {
		return nil, err
	}
	return LabVmActionResponse{LabID: p.LabID, Results: results}, nil
}
