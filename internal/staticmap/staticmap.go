// Package staticmap composites tiles into a single image of an exact pixel
// size, centred on a point or fitted to a bounding box.
package staticmap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"tilecore/internal/renderer"
)

const (
	DefaultMaxSize = 8192
	fetchWorkers   = 8
)

// ErrInvalidSize rejects non-positive or over-limit image dimensions.
var ErrInvalidSize = &sizeError{}

type sizeError struct{ width, height, max int }

func (e *sizeError) Error() string {
	return fmt.Sprintf("Invalid static map size %dx%d (limit %d)", e.width, e.height, e.max)
}
func (e *sizeError) ErrorCode() string    { return "INVALID_STATIC_SIZE" }
func (e *sizeError) Is(target error) bool { return target == ErrInvalidSize }

// TileSource supplies raster tiles in any decodable format.
type TileSource interface {
	Tile(ctx context.Context, z, x, y int) ([]byte, error)
}

type TileSourceFunc func(ctx context.Context, z, x, y int) ([]byte, error)

func (f TileSourceFunc) Tile(ctx context.Context, z, x, y int) ([]byte, error) { return f(ctx, z, x, y) }

type Options struct {
	MaxSize  int
	TileSize int
	MaxZoom  int
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.TileSize <= 0 {
		o.TileSize = renderer.TileSize
	}
	if o.MaxZoom <= 0 || o.MaxZoom > renderer.MaxZoom {
		o.MaxZoom = renderer.MaxZoom
	}
	return o
}

// Image is an encoded static map.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Zoom        int
}

// Center renders a width x height image centred on lon/lat. Coordinates are
// never rejected: latitudes are snapped to the Web Mercator limits and
// longitudes wrap around the antimeridian.
func Center(ctx context.Context, src TileSource, zoom int, lon, lat float64, width, height int, format renderer.Format, opts Options) (*Image, error) {
	opts = opts.withDefaults()
	if err := checkSize(width, height, opts.MaxSize); err != nil {
		return nil, err
	}
	z := clampZoom(zoom, opts.MaxZoom)
	f := maptile.Fraction(orb.Point{lng(lon), finite(lat)}, maptile.Zoom(z))
	ts := float64(opts.TileSize)
	return render(ctx, src, z, f[0]*ts, f[1]*ts, width, height, format, opts)
}

// BBox renders a width x height image at the deepest zoom where the box
// west,south,east,north still fits, centred on the box.
func BBox(ctx context.Context, src TileSource, west, south, east, north float64, width, height int, format renderer.Format, opts Options) (*Image, error) {
	opts = opts.withDefaults()
	if err := checkSize(width, height, opts.MaxSize); err != nil {
		return nil, err
	}

	// world fractions at zoom 0
	sw := maptile.Fraction(orb.Point{lng(west), finite(south)}, 0)
	ne := maptile.Fraction(orb.Point{lng(east), finite(north)}, 0)
	minX, maxX := sw[0], ne[0]
	if maxX < minX {
		maxX++ // crosses the antimeridian
	}
	minY, maxY := math.Min(ne[1], sw[1]), math.Max(ne[1], sw[1])

	z := fitZoom(maxX-minX, maxY-minY, width, height, opts)
	scale := math.Exp2(float64(z)) * float64(opts.TileSize)
	cx := (minX + maxX) / 2 * scale
	cy := (minY + maxY) / 2 * scale
	return render(ctx, src, z, cx, cy, width, height, format, opts)
}

func fitZoom(spanX, spanY float64, width, height int, opts Options) int {
	for z := opts.MaxZoom; z > 0; z-- {
		scale := math.Exp2(float64(z)) * float64(opts.TileSize)
		if spanX*scale <= float64(width) && spanY*scale <= float64(height) {
			return z
		}
	}
	return 0
}

type tileRef struct{ x, y int }

func render(ctx context.Context, src TileSource, z int, cx, cy float64, width, height int, format renderer.Format, opts Options) (*Image, error) {
	if !format.Raster() {
		return nil, &renderer.RenderError{Err: fmt.Errorf("Unsupported static map format %s", format)}
	}

	ts := opts.TileSize
	n := 1 << uint(z)
	left := int(math.Floor(cx - float64(width)/2))
	top := int(math.Floor(cy - float64(height)/2))

	minTX, maxTX := floorDiv(left, ts), floorDiv(left+width-1, ts)
	minTY, maxTY := floorDiv(top, ts), floorDiv(top+height-1, ts)

	// unique tiles to fetch; rows outside the world stay transparent
	need := make(map[tileRef]struct{})
	for ty := max(minTY, 0); ty <= min(maxTY, n-1); ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			need[tileRef{wrap(tx, n), ty}] = struct{}{}
		}
	}

	tiles, err := fetch(ctx, src, z, ts, need)
	if err != nil {
		return nil, err
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	for ty := max(minTY, 0); ty <= min(maxTY, n-1); ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			img := tiles[tileRef{wrap(tx, n), ty}]
			dst := image.Rect(tx*ts-left, ty*ts-top, tx*ts-left+ts, ty*ts-top+ts)
			draw.Draw(canvas, dst, img, img.Bounds().Min, draw.Over)
		}
	}

	data, err := renderer.Encode(canvas, format)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, ContentType: format.ContentType(), Width: width, Height: height, Zoom: z}, nil
}

func fetch(ctx context.Context, src TileSource, z, ts int, need map[tileRef]struct{}) (map[tileRef]image.Image, error) {
	var mu sync.Mutex
	out := make(map[tileRef]image.Image, len(need))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for ref := range need {
		g.Go(func() error {
			data, err := src.Tile(gctx, z, ref.x, ref.y)
			if err != nil {
				return err
			}
			img, err := renderer.DecodeTile(data, ts)
			if err != nil {
				return &renderer.RenderError{Err: err}
			}
			mu.Lock()
			out[ref] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func checkSize(width, height, limit int) error {
	if width <= 0 || height <= 0 || width > limit || height > limit {
		return &sizeError{width: width, height: height, max: limit}
	}
	return nil
}

func clampZoom(z, maxZoom int) int {
	if z < 0 {
		return 0
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// lng brings a longitude outside [-180, 180] back into range.
func lng(v float64) float64 {
	v = finite(v)
	if v >= -180 && v <= 180 {
		return v
	}
	v = math.Mod(v+180, 360)
	if v < 0 {
		v += 360
	}
	return v - 180
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func wrap(x, n int) int {
	return ((x % n) + n) % n
}

// IsInvalidSize reports whether err rejects the requested dimensions.
func IsInvalidSize(err error) bool {
	return errors.Is(err, ErrInvalidSize)
}
