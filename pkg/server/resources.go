package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zen-systems/localroute/pkg/profile"
)

// ModelsResource returns the models://all definition.
func ModelsResource() mcp.Resource {
	return mcp.NewResource(
		"models://all",
		"Model catalog",
		mcp.WithResourceDescription("Every known model with provider, pricing and context window"),
		mcp.WithMIMEType("application/json"),
	)
}

// FreeModelsResource returns the models://free definition.
func FreeModelsResource() mcp.Resource {
	return mcp.NewResource(
		"models://free",
		"Free hosted models",
		mcp.WithResourceDescription("Hosted models whose prompt and completion prices are zero"),
		mcp.WithMIMEType("application/json"),
	)
}

// ProfilesResource returns the profiles://all definition.
func ProfilesResource() mcp.Resource {
	return mcp.NewResource(
		"profiles://all",
		"Model performance profiles",
		mcp.WithResourceDescription("Rolling success, quality and latency history per model"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleModels serves models://all.
func (h *Handler) HandleModels(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, h.registry.ListModels())
}

// HandleFreeModels serves models://free.
func (h *Handler) HandleFreeModels(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, h.registry.ListFreeModels())
}

// HandleProfiles serves profiles://all.
func (h *Handler) HandleProfiles(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	profiles := []profile.Profile{}
	if h.profiles != nil {
		profiles = h.profiles.All()
	}
	return jsonResource(req.Params.URI, profiles)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
