package renderer

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"tilecore/internal/engine"
	"tilecore/internal/mapconfig"
)

// Factory builds the renderer for a filtered layer selection. The variant is
// chosen once, here, from the kinds of the selected layers.
type Factory struct {
	Engine engine.Engine
	Client *http.Client
	Log    *zap.Logger
}

func NewFactory(eng engine.Engine, client *http.Client, log *zap.Logger) *Factory {
	return &Factory{Engine: eng, Client: client, Log: log.Named("renderer")}
}

// New returns a renderer for layers, which must be valid indices of cfg in
// ascending order. Layers of one kind get that kind's renderer; a mixed
// selection is blended in layer order.
func (f *Factory) New(ctx context.Context, cfg *mapconfig.MapConfig, layers []int, opts Options) (Renderer, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("no layers to render")
	}

	groups := groupLayers(cfg, layers)
	parts := make([]Renderer, 0, len(groups))
	for _, g := range groups {
		r, err := f.newVariant(ctx, g, opts)
		if err != nil {
			closeAll(parts)
			return nil, err
		}
		parts = append(parts, r)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return NewBlendRenderer(parts, opts, f.Log), nil
}

func (f *Factory) newVariant(ctx context.Context, g layerGroup, opts Options) (Renderer, error) {
	switch g.kind {
	case mapconfig.KindMapnik:
		return NewMapnikRenderer(f.Engine, g.layers, opts), nil
	case mapconfig.KindTorque:
		return NewTorqueRenderer(f.Engine, g.layers, opts), nil
	case mapconfig.KindHTTP:
		return NewHTTPRenderer(g.layers[0], f.Client, opts), nil
	case mapconfig.KindPlain:
		return NewPlainRenderer(ctx, g.layers[0], f.Client, opts)
	}
	return nil, fmt.Errorf("unsupported layer kind %s", g.kind)
}

type layerGroup struct {
	kind   mapconfig.Kind
	layers []mapconfig.Layer
}

// groupLayers splits the selection into runs the engine can draw in one
// pass. Engine-backed layers of one kind are merged while adjacent; every
// imagery layer stands alone.
func groupLayers(cfg *mapconfig.MapConfig, layers []int) []layerGroup {
	var groups []layerGroup
	for _, idx := range layers {
		l := cfg.Layer(idx)
		n := len(groups)
		if n > 0 && groups[n-1].kind == l.Kind && (l.Kind == mapconfig.KindMapnik || l.Kind == mapconfig.KindTorque) {
			groups[n-1].layers = append(groups[n-1].layers, l)
			continue
		}
		groups = append(groups, layerGroup{kind: l.Kind, layers: []mapconfig.Layer{l}})
	}
	return groups
}

func closeAll(rs []Renderer) {
	for _, r := range rs {
		_ = r.Close()
	}
}
