// Package tiler ties the map store, layer filter, renderer pool and tile
// cache together into the request flows served by the transports.
package tiler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tilecore/internal/cache"
	"tilecore/internal/layerfilter"
	"tilecore/internal/mapconfig"
	"tilecore/internal/mapstore"
	"tilecore/internal/renderer"
	"tilecore/internal/staticmap"
	"tilecore/internal/tilecache"
)

type Options struct {
	TileSize      int
	EngineTimeout time.Duration
	FetchTimeout  time.Duration
	MaxStaticSize int
}

type Service struct {
	// mu orders tile cache writes against token invalidation.
	mu sync.RWMutex

	store   *mapstore.Store
	factory *renderer.Factory
	pool    *cache.Pool
	tiles   tilecache.Cache
	opts    Options
	log     *zap.Logger
}

func New(store *mapstore.Store, factory *renderer.Factory, pool *cache.Pool, tiles tilecache.Cache, opts Options, log *zap.Logger) *Service {
	if tiles == nil {
		tiles = tilecache.NewNoopCache()
	}
	return &Service{
		store:   store,
		factory: factory,
		pool:    pool,
		tiles:   tiles,
		opts:    opts,
		log:     log.Named("tiler"),
	}
}

// MapInfo describes a stored map configuration.
type MapInfo struct {
	Token          string `json:"layergroupid"`
	AlreadyExisted bool   `json:"existed"`
	LayerCount     int    `json:"layer_count"`
}

// CreateMap validates raw and stores it under its content token.
func (s *Service) CreateMap(ctx context.Context, raw []byte) (MapInfo, error) {
	cfg, err := mapconfig.Create(raw)
	if err != nil {
		return MapInfo{}, err
	}
	token, existed, err := s.store.Save(ctx, cfg)
	if err != nil {
		return MapInfo{}, err
	}
	s.log.Info("map saved",
		zap.String("token", token),
		zap.Bool("existed", existed),
		zap.Int("layers", cfg.LayerCount()),
	)
	return MapInfo{Token: token, AlreadyExisted: existed, LayerCount: cfg.LayerCount()}, nil
}

func (s *Service) GetMap(ctx context.Context, token string) (*mapconfig.MapConfig, error) {
	return s.store.Load(ctx, token)
}

// DeleteMap removes the configuration and everything built from it.
func (s *Service) DeleteMap(ctx context.Context, token string) error {
	if err := s.store.Delete(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	dropped := s.pool.InvalidateToken(token)
	s.tiles.DeleteToken(token)
	s.mu.Unlock()
	s.log.Info("map deleted", zap.String("token", token), zap.Int("renderers", dropped))
	return nil
}

type TileRequest struct {
	Token       string
	Filter      layerfilter.Filter
	Z, X, Y     int
	Format      renderer.Format
	ScaleFactor float64
}

// GetTile renders one tile: load the configuration, resolve the filter,
// acquire the shared renderer and draw.
func (s *Service) GetTile(ctx context.Context, req TileRequest) (*renderer.Tile, error) {
	gen := s.pool.Generation(req.Token)
	cfg, err := s.store.Load(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	layers, err := layerfilter.Resolve(cfg, req.Filter)
	if err != nil {
		return nil, err
	}
	scale := req.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	selection := layerfilter.Key(layers)

	tkey := tilecache.TileKey{
		Token:       req.Token,
		Layers:      selection,
		Format:      string(req.Format),
		ScaleFactor: scale,
		Z:           req.Z,
		X:           req.X,
		Y:           req.Y,
	}
	if data, ok := s.tiles.Get(tkey); ok {
		return &renderer.Tile{Data: data, ContentType: req.Format.ContentType()}, nil
	}

	key := cache.Key{Token: req.Token, Layers: selection, Format: string(req.Format), ScaleFactor: scale, Gen: gen}
	h, err := s.pool.Acquire(ctx, key, s.build(cfg, layers, renderer.Options{ScaleFactor: scale}))
	if err != nil {
		return nil, err
	}
	defer h.Release()

	tile, err := h.GetTile(ctx, req.Format, req.Z, req.X, req.Y)
	if err != nil {
		s.log.Debug("tile failed",
			zap.String("token", req.Token),
			zap.String("layers", selection),
			zap.Int("z", req.Z), zap.Int("x", req.X), zap.Int("y", req.Y),
			zap.Error(err),
		)
		return nil, err
	}
	s.storeTile(tkey, gen, tile.Data)
	return tile, nil
}

// storeTile caches data unless the map was deleted while it was rendered.
func (s *Service) storeTile(key tilecache.TileKey, gen uint64, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool.Generation(key.Token) != gen {
		return
	}
	s.tiles.Set(key, data)
}

func (s *Service) build(cfg *mapconfig.MapConfig, layers []int, opts renderer.Options) cache.BuildFunc {
	opts.TileSize = s.opts.TileSize
	opts.EngineTimeout = s.opts.EngineTimeout
	opts.FetchTimeout = s.opts.FetchTimeout
	return func(ctx context.Context) (renderer.Renderer, error) {
		return s.factory.New(ctx, cfg, layers, opts)
	}
}

type StaticCenterRequest struct {
	Token         string
	Filter        layerfilter.Filter
	Zoom          int
	Lon, Lat      float64
	Width, Height int
	Format        renderer.Format
}

type StaticBBoxRequest struct {
	Token                    string
	Filter                   layerfilter.Filter
	West, South, East, North float64
	Width, Height            int
	Format                   renderer.Format
}

func (s *Service) StaticCenter(ctx context.Context, req StaticCenterRequest) (*staticmap.Image, error) {
	var img *staticmap.Image
	err := s.withStaticSource(ctx, req.Token, req.Filter, func(src staticmap.TileSource) error {
		var err error
		img, err = staticmap.Center(ctx, src, req.Zoom, req.Lon, req.Lat, req.Width, req.Height, req.Format, s.staticOptions())
		return err
	})
	return img, err
}

func (s *Service) StaticBBox(ctx context.Context, req StaticBBoxRequest) (*staticmap.Image, error) {
	var img *staticmap.Image
	err := s.withStaticSource(ctx, req.Token, req.Filter, func(src staticmap.TileSource) error {
		var err error
		img, err = staticmap.BBox(ctx, src, req.West, req.South, req.East, req.North, req.Width, req.Height, req.Format, s.staticOptions())
		return err
	})
	return img, err
}

func (s *Service) staticOptions() staticmap.Options {
	return staticmap.Options{MaxSize: s.opts.MaxStaticSize, TileSize: s.opts.TileSize}
}

// withStaticSource holds one static renderer for the whole composition.
// Static maps show every layer unless told otherwise and tolerate broken
// external imagery.
func (s *Service) withStaticSource(ctx context.Context, token string, f layerfilter.Filter, fn func(staticmap.TileSource) error) error {
	gen := s.pool.Generation(token)
	cfg, err := s.store.Load(ctx, token)
	if err != nil {
		return err
	}
	if f.IsDefault() {
		f = layerfilter.FromString(string(layerfilter.KeywordAll))
	}
	layers, err := layerfilter.Resolve(cfg, f)
	if err != nil {
		return err
	}

	key := cache.Key{
		Token:       token,
		Layers:      layerfilter.Key(layers),
		Format:      string(renderer.FormatPNG),
		ScaleFactor: 1,
		Static:      true,
		Gen:         gen,
	}
	h, err := s.pool.Acquire(ctx, key, s.build(cfg, layers, renderer.Options{ScaleFactor: 1, TolerateImageryErrors: true}))
	if err != nil {
		return err
	}
	defer h.Release()

	return fn(staticmap.TileSourceFunc(func(ctx context.Context, z, x, y int) ([]byte, error) {
		t, err := h.GetTile(ctx, renderer.FormatPNG, z, x, y)
		if err != nil {
			return nil, err
		}
		return t.Data, nil
	}))
}

func (s *Service) Stats() cache.Stats { return s.pool.Stats() }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Close stops the renderer pool, closes every renderer and the store.
func (s *Service) Close() error {
	s.pool.Stop()
	s.pool.Purge()
	return s.store.Close()
}

// CodeInternal is reported for errors without a taxonomy.
const CodeInternal = "INTERNAL_ERROR"

type coded interface {
	ErrorCode() string
}

// ErrorCode returns the stable code of the outermost typed error in err's
// chain.
func ErrorCode(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}
