// Package renderer produces tile bytes for a filtered subset of a map
// configuration's layers, with one implementation per layer kind.
package renderer

import (
	"context"
	"net/http"
	"time"
)

// TileSize is the canonical tile edge in pixels.
const TileSize = 256

type Format string

const (
	FormatPNG    Format = "png"
	FormatJPG    Format = "jpg"
	FormatGrid   Format = "grid.json"
	FormatTorque Format = "json.torque"
)

// ParseFormat accepts a tile URL extension.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPG, true
	case "grid.json":
		return FormatGrid, true
	case "json.torque", "torque.json":
		return FormatTorque, true
	}
	return "", false
}

func (f Format) Raster() bool { return f == FormatPNG || f == FormatJPG }

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPG:
		return "image/jpeg"
	}
	return "application/json; charset=utf-8"
}

// Tile is a rendered tile. Width and Height are zero for non-raster formats.
type Tile struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Renderer is safe for concurrent use by many tile requests.
type Renderer interface {
	GetTile(ctx context.Context, format Format, z, x, y int) (*Tile, error)
	Close() error
}

type Options struct {
	TileSize    int
	ScaleFactor float64

	EngineTimeout time.Duration
	FetchTimeout  time.Duration

	// TolerateImageryErrors leaves a failed external imagery layer
	// transparent in a blended tile instead of failing the tile.
	TolerateImageryErrors bool
}

func (o Options) withDefaults() Options {
	if o.TileSize <= 0 {
		o.TileSize = TileSize
	}
	if o.ScaleFactor <= 0 {
		o.ScaleFactor = 1
	}
	return o
}

// pixelSize is the edge of drawn output at the configured scale.
func (o Options) pixelSize() int {
	return int(float64(o.TileSize)*o.ScaleFactor + 0.5)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func defaultClient(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
