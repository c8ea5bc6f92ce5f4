package renderer

import (
	"context"

	"tilecore/internal/engine"
	"tilecore/internal/mapconfig"
)

// TorqueRenderer produces temporal tile cubes (json.torque) for animated
// layers. The engine can also draw a png frame for blending.
type TorqueRenderer struct {
	drawing
}

func NewTorqueRenderer(eng engine.Engine, layers []mapconfig.Layer, opts Options) *TorqueRenderer {
	return &TorqueRenderer{
		drawing: newDrawing(mapconfig.KindTorque, eng, layers,
			[]Format{FormatTorque, FormatPNG}, opts),
	}
}

func (r *TorqueRenderer) GetTile(ctx context.Context, format Format, z, x, y int) (*Tile, error) {
	return r.render(ctx, format, z, x, y)
}

func (r *TorqueRenderer) Close() error { return nil }
