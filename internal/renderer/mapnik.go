package renderer

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"tilecore/internal/engine"
	"tilecore/internal/mapconfig"
)

// MaxZoom is the deepest zoom level a tile request may address.
const MaxZoom = 30

// drawing is the engine-backed core shared by the mapnik and torque
// renderers. It holds only the layers selected by the filter.
type drawing struct {
	kind    mapconfig.Kind
	eng     engine.Engine
	layers  []engine.Layer
	formats []Format
	opts    Options
}

func newDrawing(kind mapconfig.Kind, eng engine.Engine, layers []mapconfig.Layer, formats []Format, opts Options) drawing {
	el := make([]engine.Layer, len(layers))
	for i, l := range layers {
		el[i] = engine.Layer{
			ID:              l.ID,
			SQL:             l.String("sql"),
			CartoCSS:        l.String("cartocss"),
			CartoCSSVersion: l.String("cartocss_version"),
			Options:         l.Options,
		}
	}
	return drawing{kind: kind, eng: eng, layers: el, formats: formats, opts: opts.withDefaults()}
}

func (d *drawing) supports(f Format) bool {
	for _, s := range d.formats {
		if s == f {
			return true
		}
	}
	return false
}

func (d *drawing) render(ctx context.Context, format Format, z, x, y int) (*Tile, error) {
	if !d.supports(format) {
		return nil, unsupportedFormat(d.kind, format)
	}
	extent, err := TileExtent(z, x, y)
	if err != nil {
		return nil, &RenderError{Kind: d.kind, Err: err}
	}

	size := d.opts.pixelSize()
	ctx, cancel := withTimeout(ctx, d.opts.EngineTimeout)
	defer cancel()

	resp, err := d.eng.Render(ctx, &engine.Request{
		Kind:        d.kind.String(),
		Layers:      d.layers,
		Format:      string(format),
		Z:           z,
		X:           x,
		Y:           y,
		Extent:      extent,
		Width:       size,
		Height:      size,
		ScaleFactor: d.opts.ScaleFactor,
	})
	if err != nil {
		return nil, &RenderError{Kind: d.kind, Err: err}
	}

	tile := &Tile{Data: resp.Data, ContentType: resp.ContentType}
	if tile.ContentType == "" {
		tile.ContentType = format.ContentType()
	}
	if format.Raster() {
		tile.Width, tile.Height = size, size
	}
	return tile, nil
}

// TileExtent returns the EPSG:3857 bounds of tile z/x/y as
// minx, miny, maxx, maxy.
func TileExtent(z, x, y int) ([4]float64, error) {
	if z < 0 || z > MaxZoom {
		return [4]float64{}, errTileOutOfRange(z, x, y)
	}
	// checked before the uint32 conversion, which would wrap
	n := 1 << uint(z)
	if x < 0 || y < 0 || x >= n || y >= n {
		return [4]float64{}, errTileOutOfRange(z, x, y)
	}
	b := maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	return [4]float64{lo[0], lo[1], hi[0], hi[1]}, nil
}

func errTileOutOfRange(z, x, y int) error {
	return fmt.Errorf("Tile coordinates out of range: %d/%d/%d", z, x, y)
}

// MapnikRenderer draws data-backed layers through the rendering engine.
type MapnikRenderer struct {
	drawing
}

func NewMapnikRenderer(eng engine.Engine, layers []mapconfig.Layer, opts Options) *MapnikRenderer {
	return &MapnikRenderer{
		drawing: newDrawing(mapconfig.KindMapnik, eng, layers,
			[]Format{FormatPNG, FormatJPG, FormatGrid}, opts),
	}
}

func (r *MapnikRenderer) GetTile(ctx context.Context, format Format, z, x, y int) (*Tile, error) {
	return r.render(ctx, format, z, x, y)
}

func (r *MapnikRenderer) Close() error { return nil }
