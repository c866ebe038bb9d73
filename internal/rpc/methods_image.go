package rpc

import (
	"context"
	"encoding/json"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/sherr"
)

type importImageParams struct {
	tokenParams
	Model   string `json:"model"`
	Version string `json:"version"`
	Src     string `json:"src"`
	Latest  bool   `json:"latest"`
}

func handleImportImage(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(ac); err != nil {
		return nil, err
	}

	var p importImageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}

	return s.images.Import(p.Model, p.Version, p.Src, p.Latest)
}

type pullContainerImageParams struct {
	tokenParams
	Repo string `json:"repo"`
	Tag  string `json:"tag"`
}

// ContainerPullResponse is pull_container_image's result.
type ContainerPullResponse struct {
	Repo string `json:"repo"`
	Tag  string `json:"tag"`
}

func handlePullContainerImage(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(ac); err != nil {
		return nil, err
	}

	var p pullContainerImageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}

	if err := s.containers.ImagePull(ctx, p.Repo, p.Tag); err != nil {
		return nil, err
	}

	tag := p.Tag
	if tag == "" {
		tag = "latest"
	}
	return ContainerPullResponse{Repo: p.Repo, Tag: tag}, nil
}
