package provider

import (
	"context"
	"fmt"

	"stylist-server/modules/common/model"
)

// Router - generationMode 별 ImageGenerator 선택
type Router struct {
	generators map[string]ImageGenerator
}

func NewRouter(generators map[string]ImageGenerator) *Router {
	return &Router{generators: generators}
}

func (r *Router) GenerateFinalImages(ctx context.Context, req ImageRequest) (*FinalImages, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.GenerationModeStylize
	}
	gen, ok := r.generators[mode]
	if !ok || gen == nil {
		return nil, fmt.Errorf("%w: no image generator for mode %q", model.ErrProvider, mode)
	}
	return gen.GenerateFinalImages(ctx, req)
}
