package renderer

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tilecore/internal/mapconfig"
)

var defaultSubdomains = []string{"a", "b", "c"}

// HTTPRenderer serves tiles from an external imagery source described by a
// URL template.
type HTTPRenderer struct {
	template   string
	subdomains []string
	tms        bool
	client     *http.Client
	opts       Options
}

func NewHTTPRenderer(layer mapconfig.Layer, client *http.Client, opts Options) *HTTPRenderer {
	subdomains := layer.Strings("subdomains")
	if len(subdomains) == 0 {
		subdomains = defaultSubdomains
	}
	return &HTTPRenderer{
		template:   layer.String("urlTemplate"),
		subdomains: subdomains,
		tms:        layer.Bool("tms"),
		client:     defaultClient(client),
		opts:       opts.withDefaults(),
	}
}

// TileURL expands the template for z/x/y. The subdomain rotates with x+y so
// neighbouring tiles spread over the hosts.
func (r *HTTPRenderer) TileURL(z, x, y int) string {
	idx := x + y
	if idx < 0 {
		idx = -idx
	}
	flipped := (1 << uint(z)) - 1 - y
	if r.tms {
		y = flipped
	}
	return strings.NewReplacer(
		"{s}", r.subdomains[idx%len(r.subdomains)],
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa(flipped),
	).Replace(r.template)
}

func (r *HTTPRenderer) GetTile(ctx context.Context, format Format, z, x, y int) (*Tile, error) {
	if format != FormatPNG {
		return nil, unsupportedFormat(mapconfig.KindHTTP, format)
	}
	if _, err := TileExtent(z, x, y); err != nil {
		return nil, &RenderError{Kind: mapconfig.KindHTTP, Err: err}
	}

	data, err := fetchImagery(ctx, r.client, r.TileURL(z, x, y), r.opts)
	if err != nil {
		return nil, err
	}
	out, w, h, err := Normalize(data, r.opts.TileSize)
	if err != nil {
		return nil, &RenderError{Kind: mapconfig.KindHTTP, Err: err}
	}
	return &Tile{Data: out, ContentType: FormatPNG.ContentType(), Width: w, Height: h}, nil
}

func (r *HTTPRenderer) Close() error { return nil }

// fetchImagery downloads url within the fetch timeout. Any failure is fatal
// to the tile request.
func fetchImagery(ctx context.Context, client *http.Client, url string, opts Options) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RenderError{Kind: mapconfig.KindHTTP, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, renderErrorf(mapconfig.KindHTTP, "Unable to fetch http tile: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, renderErrorf(mapconfig.KindHTTP, "Unable to fetch http tile: %s [%d]", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, renderErrorf(mapconfig.KindHTTP, "Unable to fetch http tile: %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, renderErrorf(mapconfig.KindHTTP, "Unable to fetch http tile: %s: empty body", url)
	}
	return data, nil
}
