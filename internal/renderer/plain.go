package renderer

import (
	"context"
	"image"
	"net/http"

	"golang.org/x/image/draw"

	"tilecore/internal/mapconfig"
)

// PlainRenderer returns the same tile for every coordinate: a solid colour,
// or a background image, or the image over the colour.
type PlainRenderer struct {
	data []byte
	size int
}

// NewPlainRenderer prepares the tile once. An imageUrl layer is fetched here
// so tile requests never touch the network.
func NewPlainRenderer(ctx context.Context, layer mapconfig.Layer, client *http.Client, opts Options) (*PlainRenderer, error) {
	opts = opts.withDefaults()
	size := opts.TileSize

	canvas := image.NewNRGBA(image.Rect(0, 0, size, size))
	if c, ok := layer.Color(); ok {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	}

	if url := layer.String("imageUrl"); url != "" {
		raw, err := fetchImagery(ctx, defaultClient(client), url, opts)
		if err != nil {
			return nil, &RenderError{Kind: mapconfig.KindPlain, Err: err}
		}
		img, err := DecodeTile(raw, size)
		if err != nil {
			return nil, &RenderError{Kind: mapconfig.KindPlain, Err: err}
		}
		draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Over)
	}

	data, err := Encode(canvas, FormatPNG)
	if err != nil {
		return nil, &RenderError{Kind: mapconfig.KindPlain, Err: err}
	}
	return &PlainRenderer{data: data, size: size}, nil
}

func (r *PlainRenderer) GetTile(_ context.Context, format Format, z, x, y int) (*Tile, error) {
	if format != FormatPNG {
		return nil, unsupportedFormat(mapconfig.KindPlain, format)
	}
	if _, err := TileExtent(z, x, y); err != nil {
		return nil, &RenderError{Kind: mapconfig.KindPlain, Err: err}
	}
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &Tile{Data: data, ContentType: FormatPNG.ContentType(), Width: r.size, Height: r.size}, nil
}

func (r *PlainRenderer) Close() error { return nil }
