package renderer

import (
	"context"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"tilecore/internal/mapconfig"
)

// BlendRenderer composites tiles from several renderers, bottom to top.
type BlendRenderer struct {
	layers []Renderer
	opts   Options
	log    *zap.Logger
}

func NewBlendRenderer(layers []Renderer, opts Options, log *zap.Logger) *BlendRenderer {
	return &BlendRenderer{layers: layers, opts: opts.withDefaults(), log: log}
}

func (r *BlendRenderer) GetTile(ctx context.Context, format Format, z, x, y int) (*Tile, error) {
	if !format.Raster() {
		return nil, renderErrorf(mapconfig.KindMapnik, "Unsupported format %s for mixed layer kinds", format)
	}

	size := r.opts.pixelSize()
	canvas := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i, l := range r.layers {
		tile, err := l.GetTile(ctx, FormatPNG, z, x, y)
		if err != nil {
			if r.opts.TolerateImageryErrors && imageryError(err) {
				r.log.Warn("Skipping imagery layer in blended tile",
					zap.Int("group", i),
					zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		img, err := DecodeTile(tile.Data, size)
		if err != nil {
			return nil, renderErrorf(mapconfig.KindMapnik, "Cannot blend layer group %d: %w", i, err)
		}
		draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Over)
	}

	data, err := Encode(canvas, format)
	if err != nil {
		return nil, &RenderError{Kind: mapconfig.KindMapnik, Err: err}
	}
	return &Tile{Data: data, ContentType: format.ContentType(), Width: size, Height: size}, nil
}

func (r *BlendRenderer) Close() error {
	var first error
	for _, l := range r.layers {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
